// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "github.com/bureau-foundation/overseer/transport"

// laborEntry is the controller-private wrapper around a Labor: the
// value itself plus the live resources the controller manages for it.
// Only the controller goroutine touches entries.
type laborEntry struct {
	labor Labor

	// timers holds at most one armed timer per kind.
	timers map[TimerKind]*laborTimer

	// conn is the current control connection; nil until node-up and
	// after node-down.
	conn transport.Conn

	// loadEpoch invalidates release push completions from superseded
	// attempts; loadAttempts counts consecutive failures since the
	// last success or re-initiation.
	loadEpoch    uint64
	loadAttempts int

	// terminating is set while a background adapter terminate is in
	// flight; lifecycle events for the labor are ignored until it
	// completes. termReplies collects the TerminateChild callers
	// waiting on it.
	terminating bool
	termReplies []chan terminateChildResult
}

// registry maps worker name to entry. Every name in it was produced by
// the adapter within this overseer's lifetime; all mutation happens on
// the controller goroutine.
type registry struct {
	entries map[string]*laborEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*laborEntry)}
}

func (r *registry) get(name string) *laborEntry {
	return r.entries[name]
}

func (r *registry) insert(entry *laborEntry) {
	r.entries[entry.labor.Name] = entry
}

func (r *registry) remove(name string) {
	delete(r.entries, name)
}

// countActive counts labors whose phase is not terminated. The
// invariant countActive() <= spec.MaxNodes holds after every event.
func (r *registry) countActive() int {
	count := 0
	for _, entry := range r.entries {
		if entry.labor.Phase != PhaseTerminated {
			count++
		}
	}
	return count
}
