// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"fmt"
	"time"
)

// Phase is a labor's position in the worker lifecycle.
type Phase uint8

const (
	// PhaseSpawning: the adapter has provisioned (or is provisioning)
	// the host and the worker identity is known, but no control
	// connection exists yet.
	PhaseSpawning Phase = iota

	// PhaseConnecting: the adapter's low-level connect step (SSH
	// probe, shim start) completed; the worker's HELLO is expected.
	PhaseConnecting

	// PhaseLoading: the worker announced itself and the release is
	// being delivered.
	PhaseLoading

	// PhasePairing: the release started worker-side; the pairing
	// callback is expected.
	PhasePairing

	// PhaseActive: paired. The worker's control endpoint is
	// registered and telemetry flows.
	PhaseActive

	// PhaseDisconnected: the control connection dropped; the
	// reconnect window is open.
	PhaseDisconnected

	// PhaseTerminated: resources released. The labor is retained
	// only long enough to emit its final callback.
	PhaseTerminated
)

// String returns the phase name used in logs and snapshots.
func (p Phase) String() string {
	switch p {
	case PhaseSpawning:
		return "spawning"
	case PhaseConnecting:
		return "connecting"
	case PhaseLoading:
		return "loading"
	case PhasePairing:
		return "pairing"
	case PhaseActive:
		return "active"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Labor is the overseer's record for one attempted worker. Labors are
// values: the controller swaps updated copies into the registry, and
// API calls return snapshots.
type Labor struct {
	// Name uniquely identifies the worker, typically
	// "<prefix>-<random>@<host>". Produced by the adapter at spawn.
	Name string

	// Handle is the adapter-specific resource handle: a local OS
	// process id, an EC2 instance id.
	Handle any

	// Phase is the lifecycle position.
	Phase Phase

	// PairID identifies the worker-side control endpoint once pairing
	// completes; empty otherwise.
	PairID string

	// CreatedAt is the spawn time; LastTransitionAt the most recent
	// phase change.
	CreatedAt        time.Time
	LastTransitionAt time.Time
}
