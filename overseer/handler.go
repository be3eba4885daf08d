// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

// Handler is the callback contract the embedding application
// implements. The controller invokes exactly one callback at a time
// and threads the user state value through: each callback receives the
// state produced by the previous one and returns the next via its
// Outcome.
//
// Callbacks run on the controller goroutine. A callback that blocks
// stalls the whole overseer; long work belongs on the application's
// own goroutines, fed through Cast.
type Handler interface {
	// HandleConnected runs when a worker's control channel comes up,
	// before the release is delivered. Also runs on reconnect after
	// a disconnect.
	HandleConnected(name string, state any) Outcome

	// HandleDisconnected runs when a non-terminated worker's control
	// channel drops. The reconnect window is armed; if the worker
	// returns in time HandleConnected runs again, otherwise
	// HandleTerminated follows.
	HandleDisconnected(name string, state any) Outcome

	// HandleTerminated runs once per labor as it leaves the registry:
	// after TerminateChild completes, or when a connection window
	// expires. Labors removed by overseer shutdown do not get it.
	HandleTerminated(name string, state any) Outcome

	// HandleTelemetry runs for each telemetry message from a managed
	// worker.
	HandleTelemetry(t Telemetry, state any) Outcome

	// HandleEvent runs for lifecycle notices that have no dedicated
	// callback: a connect step failing, release load retries
	// exhausting. The event is one of the types in event.go
	// (ConnectFailed, LoadFailed).
	HandleEvent(event any, state any) Outcome
}

// CallHandler is an optional extension: synchronous request/response
// messages sent through Call reach it. A handler without it answers
// every Call with ErrNotSupported.
type CallHandler interface {
	// HandleCall must return Reply (the caller receives the value) or
	// Stop. A Noreply outcome answers the caller with nil.
	HandleCall(msg any, state any) Outcome
}

// CastHandler is an optional extension: fire-and-forget messages sent
// through Cast reach it. Without it, casts are logged and dropped.
type CastHandler interface {
	HandleCast(msg any, state any) Outcome
}

// InfoHandler is an optional extension: control-channel frames the
// overseer does not recognize are passed through to it. Without it,
// they are logged and dropped.
type InfoHandler interface {
	HandleInfo(msg any, state any) Outcome
}

// TerminateHandler is an optional extension: invoked once during
// overseer shutdown, after every timer is cancelled and adapter
// termination of every remaining labor has been started in the
// background; it does not wait for those terminations to finish. The
// reason is nil on a clean Stop.
type TerminateHandler interface {
	Terminate(reason error, state any)
}

// outcomeKind discriminates Outcome variants. The zero value is
// deliberately invalid: a forgotten return is a protocol error, not a
// silent no-op.
type outcomeKind uint8

const (
	outcomeInvalid outcomeKind = iota
	outcomeNoreply
	outcomeNoreplyHibernate
	outcomeStop
	outcomeReply
)

// Outcome is a callback's tagged return: construct it with Noreply,
// NoreplyHibernate, Stop, or Reply. The zero Outcome is malformed and
// terminates the overseer with ErrBadReturnValue.
type Outcome struct {
	kind   outcomeKind
	state  any
	value  any
	reason error
}

// Noreply continues with the updated user state.
func Noreply(state any) Outcome {
	return Outcome{kind: outcomeNoreply, state: state}
}

// NoreplyHibernate continues with the updated user state and hints
// that the application is idle. The Go runtime manages memory on its
// own; the hint is accepted for contract compatibility and otherwise
// behaves exactly like Noreply.
func NoreplyHibernate(state any) Outcome {
	return Outcome{kind: outcomeNoreplyHibernate, state: state}
}

// Stop shuts the overseer down with the given reason.
func Stop(reason error, state any) Outcome {
	return Outcome{kind: outcomeStop, state: state, reason: reason}
}

// Reply answers a synchronous Call with value and continues with the
// updated user state. Only valid from HandleCall; from any other
// callback it is malformed.
func Reply(value any, state any) Outcome {
	return Outcome{kind: outcomeReply, state: state, value: value}
}
