// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/overseer/lib/codec"
	"github.com/bureau-foundation/overseer/transport"
)

// keepAliveInterval paces worker→overseer pings; telemetryInterval
// paces the shim's status telemetry.
const (
	keepAliveInterval = 15 * time.Second
	telemetryInterval = 30 * time.Second
)

// plainDialer opens unencrypted TCP control connections (-insecure).
type plainDialer struct{}

func (d *plainDialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(conn), nil
}

// worker is the shim's state across control sessions. The running
// release process survives a control-channel drop — only the overseer
// decides when a worker dies.
type worker struct {
	name       string
	overseerID string
	address    string
	workDir    string
	dialer     transport.Dialer
	logger     *slog.Logger
	startedAt  time.Time

	pingSeq atomic.Uint64

	mu      sync.Mutex
	current *releaseProcess
}

// statusPayload is the shim's periodic telemetry.
type statusPayload struct {
	UptimeSeconds  int64 `cbor:"uptime_seconds"`
	ReleaseRunning bool  `cbor:"release_running"`
	ReleasePID     int   `cbor:"release_pid,omitempty"`
}

// session runs one control connection: hello, then serve frames until
// the connection dies. Returns the terminal error.
func (w *worker) session(ctx context.Context) error {
	conn, err := w.dialer.Dial(ctx, w.address)
	if err != nil {
		return err
	}
	defer conn.Close()

	hello, err := transport.NewFrame(transport.KindHello, transport.Hello{
		Name:       w.name,
		OverseerID: w.overseerID,
	})
	if err != nil {
		return err
	}
	if err := conn.Send(hello); err != nil {
		return err
	}
	w.logger.Info("control connection established")

	// If a release survived a control-channel drop, re-pair
	// immediately instead of waiting for a fresh load.
	if endpoint := w.currentEndpoint(); endpoint != "" {
		if err := w.sendPair(conn, endpoint); err != nil {
			return err
		}
	}

	background, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.keepAlive(background, conn)
	go w.telemetryLoop(background, conn)

	var transfer *releaseTransfer
	defer func() {
		if transfer != nil {
			transfer.abort()
		}
	}()

	for {
		frame, err := conn.Recv()
		if err != nil {
			return err
		}

		switch frame.Kind {
		case transport.KindLoadRelease:
			var header transport.LoadRelease
			if err := frame.Decode(&header); err != nil {
				return fmt.Errorf("malformed load header: %w", err)
			}
			if transfer != nil {
				transfer.abort()
			}
			transfer, err = w.beginTransfer(header)
			if err != nil {
				w.reportLoad(conn, err)
				transfer = nil
			}

		case transport.KindReleaseChunk:
			if transfer == nil {
				continue
			}
			var chunk transport.ReleaseChunk
			if err := frame.Decode(&chunk); err != nil {
				return fmt.Errorf("malformed release chunk: %w", err)
			}
			if err := transfer.write(chunk.Data); err != nil {
				w.reportLoad(conn, err)
				transfer.abort()
				transfer = nil
			}

		case transport.KindReleaseEnd:
			if transfer == nil {
				continue
			}
			endpoint, err := w.finishTransfer(conn, transfer)
			transfer = nil
			w.reportLoad(conn, err)
			if err == nil {
				if err := w.sendPair(conn, endpoint); err != nil {
					return err
				}
			}

		case transport.KindPing:
			var ping transport.Ping
			if err := frame.Decode(&ping); err != nil {
				continue
			}
			pong, err := transport.NewFrame(transport.KindPong, transport.Ping{Seq: ping.Seq})
			if err == nil {
				_ = conn.Send(pong)
			}

		case transport.KindPong:
			// Answer to one of our keep-alives.

		default:
			w.logger.Warn("unexpected frame", "kind", frame.Kind)
		}
	}
}

// reportLoad sends the LoadResult for a finished or failed transfer.
func (w *worker) reportLoad(conn transport.Conn, loadErr error) {
	result := transport.LoadResult{Name: w.name, OK: loadErr == nil}
	if loadErr != nil {
		w.logger.Error("release load failed", "error", loadErr)
		result.Error = loadErr.Error()
	}
	frame, err := transport.NewFrame(transport.KindLoadResult, result)
	if err != nil {
		return
	}
	_ = conn.Send(frame)
}

// sendPair registers the release's control endpoint with the overseer.
func (w *worker) sendPair(conn transport.Conn, endpoint string) error {
	frame, err := transport.NewFrame(transport.KindPair, transport.Pair{
		Name:       w.name,
		EndpointID: endpoint,
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// keepAlive pings the overseer so half-open connections die quickly.
func (w *worker) keepAlive(ctx context.Context, conn transport.Conn) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := transport.NewFrame(transport.KindPing, transport.Ping{Seq: w.pingSeq.Add(1)})
			if err != nil {
				return
			}
			if err := conn.Send(frame); err != nil {
				// The reader sees the same failure and tears the
				// session down.
				return
			}
		}
	}
}

// telemetryLoop ships the shim's periodic status payload.
func (w *worker) telemetryLoop(ctx context.Context, conn transport.Conn) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sendStatus(conn); err != nil {
				return
			}
		}
	}
}

func (w *worker) sendStatus(conn transport.Conn) error {
	w.mu.Lock()
	status := statusPayload{
		UptimeSeconds: int64(time.Since(w.startedAt).Seconds()),
	}
	if w.current != nil {
		status.ReleaseRunning = true
		status.ReleasePID = w.current.pid
	}
	w.mu.Unlock()

	payload, err := codec.Marshal(status)
	if err != nil {
		return err
	}
	frame, err := transport.NewFrame(transport.KindTelemetry, transport.Telemetry{
		Name:      w.name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// currentEndpoint returns the running release's endpoint id, or empty.
func (w *worker) currentEndpoint() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ""
	}
	return w.current.endpoint
}
