// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(testEpoch)
	if got := c.Now(); !got.Equal(testEpoch) {
		t.Fatalf("Now = %v, want %v", got, testEpoch)
	}

	c.Advance(90 * time.Second)
	if got, want := c.Now(), testEpoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now after Advance = %v, want %v", got, want)
	}
}

func TestAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(testEpoch)

	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestAfterFuncStop(t *testing.T) {
	c := Fake(testEpoch)

	var fired atomic.Bool
	timer := c.AfterFunc(time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}

	c.Advance(10 * time.Second)
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
}

func TestAfterFuncImmediateWhenNonPositive(t *testing.T) {
	c := Fake(testEpoch)

	var fired bool
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("zero-duration AfterFunc did not fire synchronously")
	}
}

func TestAfterFuncRearmFromCallback(t *testing.T) {
	c := Fake(testEpoch)

	var fires int
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			fires++
			if fires < 3 {
				arm()
			}
		})
	}
	arm()

	c.Advance(10 * time.Second)
	if fires != 3 {
		t.Fatalf("fires = %d, want 3", fires)
	}
}

func TestTickerDeliversPerInterval(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// The tick channel has capacity 1 and a full channel drops later
	// ticks, so the test consumes the tick after each single interval.
	c.Advance(time.Second)
	select {
	case tick := <-ticker.C:
		if want := testEpoch.Add(time.Second); !tick.Equal(want) {
			t.Fatalf("tick = %v, want %v", tick, want)
		}
	default:
		t.Fatal("no tick after one interval")
	}

	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestAfterDelivers(t *testing.T) {
	c := Fake(testEpoch)
	ch := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("After delivered early")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not deliver at deadline")
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(testEpoch)

	registered := make(chan struct{})
	go func() {
		c.AfterFunc(time.Minute, func() {})
		close(registered)
	}()

	c.WaitForTimers(1)
	<-registered

	if got := c.PendingTimers(); got != 1 {
		t.Fatalf("PendingTimers = %d, want 1", got)
	}
}
