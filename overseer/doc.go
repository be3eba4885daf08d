// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overseer is a dynamic supervisor for a fleet of remote
// compute workers.
//
// An Overseer spawns workers on provisioned hosts through a pluggable
// [Adapter] (local processes, EC2 instances), watches their liveness
// over the control transport, ships a release artifact to each worker,
// completes a pairing handshake with the worker's control endpoint,
// relays telemetry to the embedding application's [Handler], and reaps
// workers that fail to connect or reconnect within their configured
// windows.
//
// The heart of the package is a single-goroutine event loop (the
// controller) that owns the labor registry and the user state. Every
// external trigger — an API call, a worker connecting or dropping, a
// timer firing, a background release push completing — arrives as an
// event on the controller's FIFO mailbox and is processed one at a
// time, so no callback ever observes a half-applied transition. The
// registry phase at the moment an event is processed is authoritative:
// stale events (a connection timeout arriving after the worker
// connected, a pairing callback from a superseded session) are no-ops
// because their phase precondition no longer holds.
//
// A labor moves through the phases
//
//	spawning → connecting → loading → pairing → active
//
// with disconnected as a detour on transport loss (bounded by the
// reconnect window) and terminated as the exit. Two one-shot timers
// bound progress: the conn timer covers spawn→connect and
// disconnect→reconnect, the pair timer covers connect→paired.
//
// Overseer manages workers, not work items: scheduling tasks onto the
// fleet, persistence across overseer restarts, and multi-overseer
// coordination are explicitly out of scope.
package overseer
