// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"time"

	"github.com/bureau-foundation/overseer/lib/codec"
)

// Telemetry is an unsolicited status message from a worker. The
// payload stays CBOR-encoded; the application decodes it into its own
// schema inside HandleTelemetry. Delivery is fire-and-forget: messages
// from workers the registry does not know are logged and dropped.
type Telemetry struct {
	// Name is the sending worker.
	Name string

	// Payload is the opaque application payload.
	Payload codec.RawMessage

	// Timestamp is the worker-side send time.
	Timestamp time.Time
}

// defaultTelemetryHistory is the snapshot ring capacity. Enough to see
// what the fleet said recently without letting a chatty worker grow
// the overseer's heap.
const defaultTelemetryHistory = 256

// telemetryRing keeps the most recent telemetry for Inspect. It tracks
// the total count ever seen so a snapshot shows how much history was
// dropped.
type telemetryRing struct {
	entries []Telemetry
	next    int
	total   uint64
}

func newTelemetryRing(capacity int) *telemetryRing {
	return &telemetryRing{entries: make([]Telemetry, 0, capacity)}
}

func (r *telemetryRing) add(t Telemetry) {
	if cap(r.entries) == 0 {
		r.total++
		return
	}
	if len(r.entries) < cap(r.entries) {
		r.entries = append(r.entries, t)
	} else {
		r.entries[r.next] = t
	}
	r.next = (r.next + 1) % cap(r.entries)
	r.total++
}

// snapshot returns the retained telemetry, oldest first.
func (r *telemetryRing) snapshot() []Telemetry {
	out := make([]Telemetry, 0, len(r.entries))
	if len(r.entries) == cap(r.entries) {
		out = append(out, r.entries[r.next:]...)
	}
	out = append(out, r.entries[:r.next]...)
	return out
}
