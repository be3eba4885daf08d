// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"fmt"
)

// run is the controller event loop: one goroutine, one event at a
// time, sole mutator of the registry and the user state. It exits when
// an evStop is processed, a callback outcome demands a stop, or the
// mailbox is disposed.
func (o *Overseer) run() {
	defer close(o.done)

	for {
		event, ok := o.mailbox.get()
		if !ok {
			o.shutdown(nil)
			return
		}
		if !o.handle(event) {
			return
		}
	}
}

// handle dispatches one event. A false return means the controller
// shut down while handling it.
func (o *Overseer) handle(event any) bool {
	switch ev := event.(type) {
	case reqStartChild:
		return o.handleStartChild(ev)
	case reqTerminateChild:
		return o.handleTerminateChild(ev)
	case reqCountChildren:
		ev.reply <- o.reg.countActive()
		return true
	case reqInspect:
		ev.reply <- o.snapshot()
		return true
	case reqPair:
		return o.handlePair(ev)
	case reqCall:
		return o.handleCall(ev)
	case evCast:
		return o.handleCast(ev)
	case evInfo:
		return o.handleInfo(ev)
	case evNodeUp:
		return o.handleNodeUp(ev)
	case evNodeDown:
		return o.handleNodeDown(ev)
	case evGoodbye:
		return o.handleGoodbye(ev)
	case evConnectDone:
		return o.handleConnectDone(ev)
	case evTerminateDone:
		return o.handleTerminateDone(ev)
	case evTimer:
		return o.handleTimer(ev)
	case evLoadStart:
		o.handleLoadStart(ev)
		return true
	case evLoadDone:
		return o.handleLoadDone(ev)
	case evTelemetry:
		return o.handleTelemetry(ev)
	case evStop:
		o.shutdown(ev.reason)
		return false
	default:
		return o.handleInfo(evInfo{msg: event})
	}
}

// handleStartChild spawns a new labor if the cap allows. The adapter
// is not invoked at the cap — the (N+1)th StartChild at MaxNodes=N
// fails without a provisioning side effect.
func (o *Overseer) handleStartChild(ev reqStartChild) bool {
	if o.reg.countActive() >= o.spec.MaxNodes {
		ev.reply <- startChildResult{err: ErrCapExceeded}
		return true
	}

	labor, err := o.spec.Adapter.Spawn(o.runCtx)
	if err != nil {
		o.logger.Error("spawn failed", "error", err)
		ev.reply <- startChildResult{err: fmt.Errorf("%w: %v", ErrSpawnFailed, err)}
		return true
	}

	now := o.clock.Now()
	labor.Phase = PhaseSpawning
	if labor.CreatedAt.IsZero() {
		labor.CreatedAt = now
	}
	labor.LastTransitionAt = now

	entry := &laborEntry{
		labor:  *labor,
		timers: make(map[TimerKind]*laborTimer),
	}
	o.reg.insert(entry)
	o.armTimer(entry, TimerConn, o.spec.ConnTimeout)
	o.startConnect(entry)

	o.logger.Info("labor spawned",
		"worker", labor.Name,
		"handle", labor.Handle,
		"active", o.reg.countActive(),
	)
	ev.reply <- startChildResult{labor: laborSnapshot(entry)}
	return true
}

// startConnect runs the adapter's connect step in the background and
// reports its completion as an event.
func (o *Overseer) startConnect(entry *laborEntry) {
	labor := laborSnapshot(entry)
	go func() {
		err := o.spec.Adapter.Connect(o.runCtx, labor)
		o.mailbox.put(evConnectDone{name: labor.Name, err: err})
	}()
}

func (o *Overseer) handleConnectDone(ev evConnectDone) bool {
	entry := o.reg.get(ev.name)
	if entry == nil || entry.terminating {
		return true
	}
	if ev.err != nil {
		o.logger.Warn("adapter connect failed", "worker", ev.name, "error", ev.err)
		// The labor stays: the worker may still dial in on its own,
		// and the conn timer reaps it if not.
		return o.dispatch(o.handler.HandleEvent(ConnectFailed{Name: ev.name, Err: ev.err}, o.userState), nil)
	}
	if entry.labor.Phase == PhaseSpawning {
		o.transition(entry, PhaseConnecting)
	}
	return true
}

// handleTerminateChild starts tearing a labor down: cancel its timers
// and run the adapter terminate in the background. The registry
// update, the caller's reply, and the final HandleTerminated callback
// follow on evTerminateDone.
func (o *Overseer) handleTerminateChild(ev reqTerminateChild) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		ev.reply <- terminateChildResult{err: fmt.Errorf("%w: %s", ErrUnknownLabor, ev.name)}
		return true
	}

	if entry.labor.Phase == PhaseTerminated {
		// Terminate is idempotent, and so is TerminateChild.
		ev.reply <- terminateChildResult{labor: laborSnapshot(entry)}
		return true
	}

	entry.termReplies = append(entry.termReplies, ev.reply)
	if entry.terminating {
		return true
	}
	entry.terminating = true
	o.cancelAllTimers(entry)

	labor := laborSnapshot(entry)
	go func() {
		terminated, err := o.spec.Adapter.Terminate(o.shutdownCtx, labor)
		o.mailbox.put(evTerminateDone{name: labor.Name, labor: terminated, err: err})
	}()
	return true
}

// handleTerminateDone finishes a TerminateChild: swap in the
// terminated labor, answer the waiting callers, and either remove the
// entry now (no connection) or let the connection's node-down echo
// carry the final callback.
func (o *Overseer) handleTerminateDone(ev evTerminateDone) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		return true
	}

	replies := entry.termReplies
	entry.termReplies = nil
	entry.terminating = false

	if ev.err != nil {
		o.logger.Error("adapter terminate failed", "worker", ev.name, "error", ev.err)
		for _, reply := range replies {
			reply <- terminateChildResult{err: ev.err}
		}
		return true
	}

	terminated := *ev.labor
	terminated.Phase = PhaseTerminated
	terminated.LastTransitionAt = o.clock.Now()
	entry.labor = terminated

	o.logger.Info("labor terminated", "worker", ev.name)
	for _, reply := range replies {
		reply <- terminateChildResult{labor: laborSnapshot(entry)}
	}

	if entry.conn != nil {
		// Closing the connection makes the pump post node-down; the
		// node-down handler sees the terminated phase, emits the
		// final callback, and removes the entry.
		entry.conn.Close()
		return true
	}
	o.reg.remove(ev.name)
	return o.dispatch(o.handler.HandleTerminated(ev.name, o.userState), nil)
}

// handleNodeUp processes a worker HELLO: cancel the connect window,
// adopt the connection, run HandleConnected, and kick off release
// delivery.
func (o *Overseer) handleNodeUp(ev evNodeUp) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		o.logger.Warn("node up for unknown labor", "worker", ev.name)
		ev.conn.Close()
		return true
	}
	if entry.terminating || entry.labor.Phase == PhaseTerminated {
		ev.conn.Close()
		return true
	}

	switch entry.labor.Phase {
	case PhaseSpawning, PhaseConnecting, PhaseDisconnected:
		// The phases a HELLO is expected in.
	default:
		// Loading, pairing, or active: a repeated node-up without an
		// intervening node-down is a no-op — no duplicate
		// HandleConnected. A worker that redialed while the loss of
		// its old session is still unprocessed gets its new
		// connection closed; it redials again once the node-down
		// lands and the reconnect window opens.
		if entry.conn != ev.conn {
			ev.conn.Close()
		}
		return true
	}

	entry.conn = ev.conn
	o.cancelTimer(entry, TimerConn)
	o.transition(entry, PhaseLoading)

	o.logger.Info("labor connected", "worker", ev.name, "remote", ev.conn.RemoteAddr())
	if !o.dispatch(o.handler.HandleConnected(ev.name, o.userState), nil) {
		return false
	}

	o.initiatePair(entry)
	return true
}

// handleNodeDown processes the loss of a worker's control channel.
func (o *Overseer) handleNodeDown(ev evNodeDown) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		o.logger.Warn("node down for unknown labor", "worker", ev.name)
		return true
	}
	if entry.conn != ev.conn {
		// Echo from a superseded connection.
		return true
	}
	entry.conn = nil

	if entry.terminating {
		// The terminate completion decides the labor's fate.
		return true
	}

	if entry.labor.Phase == PhaseTerminated {
		o.reg.remove(ev.name)
		return o.dispatch(o.handler.HandleTerminated(ev.name, o.userState), nil)
	}

	o.cancelTimer(entry, TimerPair)
	entry.labor.PairID = ""
	o.transition(entry, PhaseDisconnected)
	o.armTimer(entry, TimerConn, o.spec.ConnTimeout)

	o.logger.Info("labor disconnected", "worker", ev.name, "reason", ev.reason)
	return o.dispatch(o.handler.HandleDisconnected(ev.name, o.userState), nil)
}

// handleGoodbye processes the exit of a paired worker's user-code
// process while the transport stayed up: re-drive load-and-pair
// against the still-live host.
func (o *Overseer) handleGoodbye(ev evGoodbye) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		o.logger.Warn("goodbye for unknown labor", "worker", ev.name)
		return true
	}
	if entry.terminating {
		return true
	}
	if entry.labor.Phase != PhaseActive && entry.labor.Phase != PhasePairing {
		return true
	}

	o.logger.Info("worker process exited", "worker", ev.name, "reason", ev.reason)
	o.initiatePair(entry)
	return true
}

// handlePair completes the handshake: the worker's control endpoint is
// registered and the labor goes active.
func (o *Overseer) handlePair(ev reqPair) bool {
	entry := o.reg.get(ev.name)

	var err error
	switch {
	case entry == nil:
		err = fmt.Errorf("%w: %s", ErrUnknownLabor, ev.name)
	case entry.terminating, entry.labor.Phase == PhaseTerminated:
		err = fmt.Errorf("labor %s is terminating", ev.name)
	case entry.labor.Phase == PhaseLoading, entry.labor.Phase == PhasePairing, entry.labor.Phase == PhaseActive:
		entry.labor.PairID = ev.endpointID
		o.cancelTimer(entry, TimerPair)
		entry.loadAttempts = 0
		o.transition(entry, PhaseActive)
		o.logger.Info("labor paired", "worker", ev.name, "endpoint", ev.endpointID)
	default:
		err = fmt.Errorf("labor %s cannot pair in phase %s", ev.name, entry.labor.Phase)
	}

	if err != nil {
		o.logger.Warn("pair rejected", "worker", ev.name, "error", err)
	}
	if ev.reply != nil {
		ev.reply <- err
	}
	return true
}

// handleTimer routes a timer fire, dropping stale ones. A fire is
// stale when the labor is gone, the timer was re-armed (generation
// mismatch), or cancelled.
func (o *Overseer) handleTimer(ev evTimer) bool {
	entry := o.reg.get(ev.name)
	if entry == nil {
		return true
	}
	armed := entry.timers[ev.kind]
	if armed == nil || armed.generation != ev.generation {
		return true
	}
	delete(entry.timers, ev.kind)

	switch ev.kind {
	case TimerConn:
		return o.handleConnTimeout(entry)
	case TimerPair:
		return o.handlePairTimeout(entry)
	}
	return true
}

// handleConnTimeout reaps a labor that never connected or never
// reconnected. Resources are released in the background; the registry
// and the user hear about it immediately.
func (o *Overseer) handleConnTimeout(entry *laborEntry) bool {
	switch entry.labor.Phase {
	case PhaseSpawning, PhaseConnecting, PhaseDisconnected:
	default:
		// State advanced before the fire was processed.
		return true
	}

	name := entry.labor.Name
	o.logger.Warn("connection window expired", "worker", name, "phase", entry.labor.Phase)

	o.cancelAllTimers(entry)
	o.reg.remove(name)
	o.terminateInBackground(laborSnapshot(entry))
	return o.dispatch(o.handler.HandleTerminated(name, o.userState), nil)
}

// handlePairTimeout re-drives the load-and-pair sequence for a worker
// whose handshake stalled.
func (o *Overseer) handlePairTimeout(entry *laborEntry) bool {
	switch entry.labor.Phase {
	case PhaseLoading, PhasePairing:
	default:
		return true
	}
	o.logger.Warn("pairing window expired, restarting handshake", "worker", entry.labor.Name)
	o.initiatePair(entry)
	return true
}

// handleLoadStart launches the release push if the labor is still in a
// state to receive it.
func (o *Overseer) handleLoadStart(ev evLoadStart) {
	entry := o.reg.get(ev.name)
	if entry == nil || entry.terminating || entry.conn == nil || entry.labor.Phase != PhaseLoading {
		return
	}
	o.startLoad(entry)
}

// handleLoadDone processes release delivery completion from either
// side: the worker's LoadResult frame or a push goroutine's failure.
func (o *Overseer) handleLoadDone(ev evLoadDone) bool {
	entry := o.reg.get(ev.name)
	if entry == nil || entry.terminating {
		return true
	}
	if !ev.fromWorker && ev.epoch != entry.loadEpoch {
		// A push from a superseded attempt.
		return true
	}
	if entry.labor.Phase != PhaseLoading {
		return true
	}

	if ev.err == nil {
		o.transition(entry, PhasePairing)
		entry.loadAttempts = 0
		return true
	}

	entry.loadAttempts++
	o.logger.Warn("release load failed",
		"worker", ev.name,
		"attempt", entry.loadAttempts,
		"error", ev.err,
	)
	if entry.loadAttempts < maxLoadAttempts {
		entry.loadEpoch++
		o.mailbox.put(evLoadStart{name: ev.name})
		return true
	}
	// Stop hot-retrying; the pair timer re-drives the sequence.
	return o.dispatch(o.handler.HandleEvent(LoadFailed{Name: ev.name, Err: ev.err}, o.userState), nil)
}

// handleTelemetry relays a worker status message to the user callback.
func (o *Overseer) handleTelemetry(ev evTelemetry) bool {
	entry := o.reg.get(ev.t.Name)
	if entry == nil {
		o.logger.Warn("telemetry from unknown labor", "worker", ev.t.Name)
		return true
	}
	o.telemetry.add(ev.t)
	return o.dispatch(o.handler.HandleTelemetry(ev.t, o.userState), nil)
}

// handleCall serves synchronous pass-through requests.
func (o *Overseer) handleCall(ev reqCall) bool {
	caller, ok := o.handler.(CallHandler)
	if !ok {
		ev.reply <- callResult{err: fmt.Errorf("%w: handler has no HandleCall", ErrNotSupported)}
		return true
	}
	return o.dispatch(caller.HandleCall(ev.msg, o.userState), ev.reply)
}

// handleCast serves fire-and-forget pass-through messages.
func (o *Overseer) handleCast(ev evCast) bool {
	caster, ok := o.handler.(CastHandler)
	if !ok {
		o.logger.Debug("cast dropped: handler has no HandleCast")
		return true
	}
	return o.dispatch(caster.HandleCast(ev.msg, o.userState), nil)
}

// handleInfo serves everything else: unrecognized frames and messages.
func (o *Overseer) handleInfo(ev evInfo) bool {
	informed, ok := o.handler.(InfoHandler)
	if !ok {
		o.logger.Debug("message dropped: handler has no HandleInfo")
		return true
	}
	return o.dispatch(informed.HandleInfo(ev.msg, o.userState), nil)
}

// dispatch applies a callback outcome: thread the user state, answer
// the caller for Reply outcomes, stop the overseer for Stop and
// malformed outcomes. Returns false when the overseer shut down.
func (o *Overseer) dispatch(outcome Outcome, reply chan<- callResult) bool {
	switch outcome.kind {
	case outcomeNoreply, outcomeNoreplyHibernate:
		o.userState = outcome.state
		if reply != nil {
			// A call answered with Noreply: the caller cannot wait
			// forever, so it receives nil.
			reply <- callResult{}
		}
		return true

	case outcomeReply:
		o.userState = outcome.state
		if reply == nil {
			// Reply from a callback that has no caller is a protocol
			// error from user code.
			o.stopBadReturn("Reply outcome from a callback without a caller")
			return false
		}
		reply <- callResult{value: outcome.value}
		return true

	case outcomeStop:
		o.userState = outcome.state
		if reply != nil {
			reply <- callResult{err: ErrStopped}
		}
		o.shutdown(outcome.reason)
		return false

	default:
		if reply != nil {
			reply <- callResult{err: ErrBadReturnValue}
		}
		o.stopBadReturn("malformed outcome")
		return false
	}
}

func (o *Overseer) stopBadReturn(detail string) {
	o.logger.Error("stopping: bad callback return", "detail", detail)
	o.shutdown(fmt.Errorf("%w: %s", ErrBadReturnValue, detail))
}

// terminateInBackground releases a labor's resources without blocking
// the controller. Best effort: failures are logged, not retried.
func (o *Overseer) terminateInBackground(labor *Labor) {
	go func() {
		if _, err := o.spec.Adapter.Terminate(o.shutdownCtx, labor); err != nil {
			o.logger.Error("background terminate failed", "worker", labor.Name, "error", err)
		}
	}()
}

// shutdown winds the overseer down: cancel every timer, terminate
// every non-terminated labor best-effort, run the optional user
// terminate hook, and release the mailbox. Idempotent; runs only on
// the controller goroutine.
func (o *Overseer) shutdown(reason error) {
	if o.stopped {
		return
	}
	o.stopped = true

	if reason != nil {
		o.logger.Error("overseer stopping", "reason", reason)
	} else {
		o.logger.Info("overseer stopping")
	}

	for name, entry := range o.reg.entries {
		o.cancelAllTimers(entry)
		if entry.conn != nil {
			entry.conn.Close()
			entry.conn = nil
		}
		if entry.labor.Phase != PhaseTerminated {
			o.terminateInBackground(laborSnapshot(entry))
		}
		for _, reply := range entry.termReplies {
			reply <- terminateChildResult{err: ErrStopped}
		}
		entry.termReplies = nil
		o.reg.remove(name)
	}

	if o.listener != nil {
		o.listener.Close()
	}

	if terminator, ok := o.handler.(TerminateHandler); ok {
		terminator.Terminate(reason, o.userState)
	}

	o.setErr(reason)
	o.mailbox.dispose()
	o.cancelRun()
}
