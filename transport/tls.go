// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/overseer/lib/netutil"
)

// Compile-time interface checks.
var (
	_ Listener = (*TLSListener)(nil)
	_ Dialer   = (*TLSDialer)(nil)
)

// Identity is one side's TLS credentials: a certificate issued by the
// fleet CA plus the CA pool used to verify the peer. The overseer and
// every worker carry an Identity; both sides verify each other, which
// is what binds node-up events to provisioned workers rather than to
// anything that can reach the port.
type Identity struct {
	Certificate tls.Certificate
	Pool        *x509.CertPool
}

// LoadIdentity builds an Identity from PEM-encoded certificate, key,
// and CA bundle bytes.
func LoadIdentity(certPEM, keyPEM, caPEM []byte) (Identity, error) {
	certificate, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return Identity{}, fmt.Errorf("loading keypair: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return Identity{}, fmt.Errorf("no CA certificates in bundle")
	}
	return Identity{Certificate: certificate, Pool: pool}, nil
}

func (id Identity) serverConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		ClientCAs:    id.Pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
}

func (id Identity) clientConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		RootCAs:      id.Pool,
		MinVersion:   tls.VersionTLS13,
		// Worker certificates are issued per fleet, not per address;
		// instance addresses are not known at issue time. Identity
		// comes from chain verification against the fleet CA.
		InsecureSkipVerify: false,
		ServerName:         "overseer",
	}
}

// TLSListener accepts mutually authenticated worker connections over
// TCP. This is the production transport; it requires direct TCP
// reachability from workers to the overseer (EC2 workers dial the
// overseer's public address, local workers dial loopback).
type TLSListener struct {
	listener net.Listener

	mu     sync.Mutex
	closed bool
	conns  []net.Conn
}

// NewTLSListener listens on address (use ":0" for a random port) with
// the given identity. The returned listener only completes handshakes
// from clients presenting a certificate signed by the identity's CA.
func NewTLSListener(address string, identity Identity) (*TLSListener, error) {
	listener, err := tls.Listen("tcp", address, identity.serverConfig())
	if err != nil {
		return nil, err
	}
	return &TLSListener{listener: listener}, nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Each accepted connection is framed and handed to handle in its own
// goroutine.
func (l *TLSListener) Serve(ctx context.Context, handle func(Conn)) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return err
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return nil
		}
		l.conns = append(l.conns, conn)
		l.mu.Unlock()

		go handle(NewConn(conn))
	}
}

// Address returns the listener's "host:port" address.
func (l *TLSListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener and every accepted connection.
func (l *TLSListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, conn := range l.conns {
		conn.Close()
	}
	return l.listener.Close()
}

// TLSDialer opens mutually authenticated connections to an overseer.
// The worker shim is the only production dialer.
type TLSDialer struct {
	Identity Identity

	// Timeout bounds connection establishment including the TLS
	// handshake. Zero means only the context deadline applies.
	Timeout time.Duration
}

// Dial connects to the overseer at address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Identity.clientConfig(),
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}
