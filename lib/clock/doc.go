// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Overseer's lifecycle controller is driven almost entirely by
// deadlines: a connection window from spawn, a reconnect window from
// disconnect, a pairing window from node-up, plus transport keep-alive
// ticks. Production code accepts a Clock instead of calling time.Now,
// time.AfterFunc, or time.NewTicker directly, so that the whole state
// machine can be exercised in tests without real sleeps.
//
// In production:
//
//	o := &Overseer{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	o := &Overseer{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1)        // wait for the timer to be registered
//	c.Advance(5 * time.Second) // fire it deterministically
package clock
