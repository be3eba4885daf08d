// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "github.com/bureau-foundation/overseer/transport"

// Internal controller events. API requests carry reply channels
// (buffered, capacity 1 — the controller never blocks on a reply);
// infrastructure events are one-way.

type startChildResult struct {
	labor *Labor
	err   error
}

type reqStartChild struct {
	reply chan startChildResult
}

type terminateChildResult struct {
	labor *Labor
	err   error
}

type reqTerminateChild struct {
	name  string
	reply chan terminateChildResult
}

type reqCountChildren struct {
	reply chan int
}

type reqInspect struct {
	reply chan Snapshot
}

// reqPair serves both the worker's KindPair frame (reply nil) and the
// public Pair API (reply non-nil).
type reqPair struct {
	name       string
	endpointID string
	reply      chan error
}

type callResult struct {
	value any
	err   error
}

type reqCall struct {
	msg   any
	reply chan callResult
}

type evCast struct {
	msg any
}

// evInfo is the pass-through: control-channel frames and messages the
// controller does not recognize.
type evInfo struct {
	msg any
}

// evNodeUp is posted by a connection pump after a verified HELLO.
type evNodeUp struct {
	name string
	conn transport.Conn
}

// evNodeDown is posted by the pump whose conn died. The conn field
// lets the controller ignore echoes from superseded connections.
type evNodeDown struct {
	name   string
	reason string
	conn   transport.Conn
}

// evGoodbye reports the worker's user-code process exiting while the
// transport stayed up: the exit of the paired endpoint.
type evGoodbye struct {
	name   string
	reason string
}

// evConnectDone reports the background adapter connect step.
type evConnectDone struct {
	name string
	err  error
}

// evTimer is a timer fire. generation guards against a cancelled
// timer's event racing its cancellation.
type evTimer struct {
	name       string
	kind       TimerKind
	generation uint64
}

// evLoadStart is the controller's self-posted "load the release into
// this worker now" event.
type evLoadStart struct {
	name string
}

// evLoadDone reports release delivery. fromWorker distinguishes the
// worker's own LoadResult frame from a push goroutine's local failure;
// epoch invalidates completions from superseded load attempts.
type evLoadDone struct {
	name       string
	epoch      uint64
	fromWorker bool
	err        error
}

// evTerminateDone reports a background adapter terminate.
type evTerminateDone struct {
	name  string
	labor *Labor
	err   error
}

type evTelemetry struct {
	t Telemetry
}

type evStop struct {
	reason error
}
