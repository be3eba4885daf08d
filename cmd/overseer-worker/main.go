// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// overseer-worker is the worker-side shim. Adapters start it on a
// provisioned host; it dials back to the overseer, announces itself,
// receives the release artifact, verifies and extracts it, starts the
// release's user code, completes the pairing handshake, and from then
// on forwards status telemetry and keep-alives. If the control
// connection drops it redials until the overseer takes the host away.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/overseer/lib/process"
	"github.com/bureau-foundation/overseer/transport"
)

// redialInterval paces reconnection attempts after a lost control
// connection.
const redialInterval = 2 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		name       string
		overseer   string
		overseerID string
		workDir    string
		certFile   string
		keyFile    string
		caFile     string
		insecure   bool
	)
	flag.StringVar(&name, "name", "", "worker name assigned at spawn")
	flag.StringVar(&overseer, "overseer", "", "overseer control address (host:port)")
	flag.StringVar(&overseerID, "overseer-id", "", "overseer identity to announce to")
	flag.StringVar(&workDir, "workdir", "", "working directory for release artifacts")
	flag.StringVar(&certFile, "cert", "", "worker TLS certificate (PEM)")
	flag.StringVar(&keyFile, "key", "", "worker TLS key (PEM)")
	flag.StringVar(&caFile, "ca", "", "fleet CA bundle (PEM)")
	flag.BoolVar(&insecure, "insecure", false, "dial without TLS (tests, trusted hosts)")
	flag.Parse()

	if name == "" || overseer == "" || overseerID == "" || workDir == "" {
		return fmt.Errorf("-name, -overseer, -overseer-id, and -workdir are required")
	}
	if !insecure && (certFile == "" || keyFile == "" || caFile == "") {
		return fmt.Errorf("either -insecure or all of -cert, -key, -ca are required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("worker", name)

	var dialer transport.Dialer
	if insecure {
		dialer = &plainDialer{}
	} else {
		certPEM, err := os.ReadFile(certFile)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("reading CA bundle: %w", err)
		}
		identity, err := transport.LoadIdentity(certPEM, keyPEM, caPEM)
		if err != nil {
			return err
		}
		dialer = &transport.TLSDialer{Identity: identity, Timeout: 10 * time.Second}
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating workdir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := &worker{
		name:       name,
		overseerID: overseerID,
		address:    overseer,
		workDir:    workDir,
		dialer:     dialer,
		logger:     logger,
		startedAt:  time.Now(),
	}
	defer worker.stopRelease()

	logger.Info("worker shim starting", "overseer", overseer)
	for {
		err := worker.session(ctx)
		if ctx.Err() != nil {
			logger.Info("worker shim stopping")
			return nil
		}
		logger.Warn("control connection lost, redialing", "error", err)

		select {
		case <-ctx.Done():
			logger.Info("worker shim stopping")
			return nil
		case <-time.After(redialInterval):
		}
	}
}
