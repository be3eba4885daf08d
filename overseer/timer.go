// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "time"

// TimerKind names the two per-labor deadline timers.
type TimerKind uint8

const (
	// TimerConn bounds time-to-connect from spawn and
	// time-to-reconnect from disconnect.
	TimerConn TimerKind = iota

	// TimerPair bounds the post-connect load-and-pair handshake.
	TimerPair
)

// String returns the timer kind's log name.
func (k TimerKind) String() string {
	if k == TimerConn {
		return "conn"
	}
	return "pair"
}

// laborTimer is one armed timer. The generation ties the eventual
// evTimer to this arming: a timer cancelled after its callback ran but
// before the controller processed the event is detected by generation
// mismatch and dropped, so a cancelled timer never causes a
// user-visible callback.
type laborTimer struct {
	generation uint64
	stop       func() bool
}

// armTimer schedules a timer of the given kind on a labor, replacing
// any prior timer of that kind (each labor holds at most one per
// kind).
func (o *Overseer) armTimer(entry *laborEntry, kind TimerKind, d time.Duration) {
	o.cancelTimer(entry, kind)

	o.timerGeneration++
	generation := o.timerGeneration
	name := entry.labor.Name

	timer := o.clock.AfterFunc(d, func() {
		o.mailbox.put(evTimer{name: name, kind: kind, generation: generation})
	})
	entry.timers[kind] = &laborTimer{generation: generation, stop: timer.Stop}
}

// cancelTimer stops and forgets a labor's timer of the given kind.
func (o *Overseer) cancelTimer(entry *laborEntry, kind TimerKind) {
	if timer := entry.timers[kind]; timer != nil {
		timer.stop()
		delete(entry.timers, kind)
	}
}

// cancelAllTimers stops both timers on a labor.
func (o *Overseer) cancelAllTimers(entry *laborEntry) {
	o.cancelTimer(entry, TimerConn)
	o.cancelTimer(entry, TimerPair)
}
