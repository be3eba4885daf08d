// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/bureau-foundation/overseer/lib/codec"
)

// Conn is a framed control-channel connection. Send and Recv are each
// safe for concurrent callers; the usual arrangement is a single
// reader goroutine (the connection pump) plus any number of writers.
type Conn interface {
	// Send writes one frame. Safe for concurrent callers.
	Send(frame Frame) error

	// Recv reads the next frame. Blocks until a frame arrives, the
	// connection drops, or Close is called.
	Recv() (Frame, error)

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string

	// Close tears the connection down and in-flight Recv calls return
	// an error. On TLS connections netutil.IsExpectedCloseError is true
	// for it; on the memory transport it is io.ErrClosedPipe, which
	// that helper does not classify as expected.
	Close() error
}

// Listener accepts inbound worker connections.
type Listener interface {
	// Serve accepts connections and calls handle for each in its own
	// goroutine. Blocks until ctx is cancelled or Close is called;
	// returns nil on clean shutdown.
	Serve(ctx context.Context, handle func(Conn)) error

	// Address returns the dialable address workers are given at
	// spawn (e.g. "192.168.1.10:7891").
	Address() string

	// Close shuts the listener down.
	Close() error
}

// Dialer opens connections to an overseer. The worker shim uses one;
// tests use the memory network's.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// Compile-time interface check.
var _ Conn = (*frameConn)(nil)

// frameConn frames CBOR envelopes over a byte stream with a uint32
// big-endian length prefix.
type frameConn struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewConn wraps a byte-stream connection in the framing protocol.
func NewConn(conn net.Conn) Conn {
	return &frameConn{conn: conn}
}

func (c *frameConn) Send(frame Frame) error {
	encoded, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(encoded) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(encoded), MaxFrameSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(encoded)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(prefix[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(encoded)
	return err
}

func (c *frameConn) Recv() (Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var prefix [4]byte
	if _, err := io.ReadFull(c.conn, prefix[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("frame length %d exceeds limit %d", length, MaxFrameSize)
	}

	encoded := make([]byte, length)
	if _, err := io.ReadFull(c.conn, encoded); err != nil {
		return Frame{}, err
	}

	var frame Frame
	if err := codec.Unmarshal(encoded, &frame); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	return frame, nil
}

func (c *frameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}
