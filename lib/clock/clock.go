// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() and advance time deterministically.
//
// The overseer controller schedules its connection and pairing deadlines
// through a Clock, which is what makes the timeout state machine testable
// without real waiting: a test arms a timer, advances the fake clock past
// the deadline, and observes the resulting event synchronously.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (Real) or synchronously during Advance (Fake).
	// The returned Timer cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C every d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled one-shot call created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. Returns true if the call stopped
// the timer, false if it already fired or was already stopped. A false
// return does not mean the callback has finished running.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are
// dropped, not queued, when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }
