// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"github.com/bureau-foundation/overseer/lib/netutil"
	"github.com/bureau-foundation/overseer/transport"
)

// handleConn serves one inbound worker connection: verify the HELLO,
// announce node-up, then pump frames into the mailbox until the
// connection dies. Runs on a per-connection goroutine owned by the
// transport listener.
func (o *Overseer) handleConn(conn transport.Conn) {
	frame, err := conn.Recv()
	if err != nil {
		conn.Close()
		return
	}
	if frame.Kind != transport.KindHello {
		o.logger.Warn("connection opened without hello",
			"remote", conn.RemoteAddr(),
			"kind", frame.Kind,
		)
		conn.Close()
		return
	}

	var hello transport.Hello
	if err := frame.Decode(&hello); err != nil {
		o.logger.Warn("malformed hello", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	if hello.OverseerID != o.spec.OverseerID {
		o.logger.Warn("hello for wrong overseer",
			"remote", conn.RemoteAddr(),
			"worker", hello.Name,
			"overseer_id", hello.OverseerID,
		)
		conn.Close()
		return
	}

	o.mailbox.put(evNodeUp{name: hello.Name, conn: conn})
	o.pump(hello.Name, conn)
}

// pump translates control-channel frames into controller events. It
// exits when the connection drops, posting the node-down that starts
// the reconnect window.
func (o *Overseer) pump(name string, conn transport.Conn) {
	for {
		frame, err := conn.Recv()
		if err != nil {
			conn.Close()
			o.mailbox.put(evNodeDown{name: name, reason: netutil.CloseReason(err), conn: conn})
			return
		}

		switch frame.Kind {
		case transport.KindPair:
			var pair transport.Pair
			if err := frame.Decode(&pair); err != nil {
				o.logger.Warn("malformed pair frame", "worker", name, "error", err)
				continue
			}
			o.mailbox.put(reqPair{name: pair.Name, endpointID: pair.EndpointID})

		case transport.KindTelemetry:
			var t transport.Telemetry
			if err := frame.Decode(&t); err != nil {
				o.logger.Warn("malformed telemetry frame", "worker", name, "error", err)
				continue
			}
			o.mailbox.put(evTelemetry{t: Telemetry{
				Name:      t.Name,
				Payload:   t.Payload,
				Timestamp: t.Timestamp,
			}})

		case transport.KindGoodbye:
			var goodbye transport.Goodbye
			if err := frame.Decode(&goodbye); err != nil {
				o.logger.Warn("malformed goodbye frame", "worker", name, "error", err)
				continue
			}
			o.mailbox.put(evGoodbye{name: goodbye.Name, reason: goodbye.Reason})

		case transport.KindLoadResult:
			var result transport.LoadResult
			if err := frame.Decode(&result); err != nil {
				o.logger.Warn("malformed load result", "worker", name, "error", err)
				continue
			}
			var loadErr error
			if !result.OK {
				loadErr = &workerLoadError{message: result.Error}
			}
			o.mailbox.put(evLoadDone{name: result.Name, fromWorker: true, err: loadErr})

		case transport.KindPing:
			var ping transport.Ping
			if err := frame.Decode(&ping); err != nil {
				continue
			}
			pong, err := transport.NewFrame(transport.KindPong, transport.Ping{Seq: ping.Seq})
			if err == nil {
				// A send failure surfaces as a Recv error on the
				// next loop iteration.
				_ = conn.Send(pong)
			}

		case transport.KindPong:
			// Worker-initiated keep-alive round trips end here.

		default:
			o.mailbox.put(evInfo{msg: frame})
		}
	}
}

// workerLoadError is a worker-reported release load failure.
type workerLoadError struct {
	message string
}

func (e *workerLoadError) Error() string {
	if e.message == "" {
		return "worker reported load failure"
	}
	return "worker reported load failure: " + e.message
}

// transition moves a labor to a new phase and stamps the time.
func (o *Overseer) transition(entry *laborEntry, phase Phase) {
	if entry.labor.Phase == phase {
		return
	}
	o.logger.Debug("labor transition",
		"worker", entry.labor.Name,
		"from", entry.labor.Phase,
		"to", phase,
	)
	entry.labor.Phase = phase
	entry.labor.LastTransitionAt = o.clock.Now()
}

// laborSnapshot returns a copy of the entry's labor value for handing
// outside the controller.
func laborSnapshot(entry *laborEntry) *Labor {
	labor := entry.labor
	return &labor
}
