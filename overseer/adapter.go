// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "context"

// Adapter is the provisioning plugin contract. The overseer calls it
// to create, destroy, and reach workers; everything else — image
// baking, capacity pools, billing — is the adapter's business.
//
// Reference implementations live in adapter/local (OS processes) and
// adapter/ec2 (cloud instances).
type Adapter interface {
	// Spawn provisions a host, starts a worker process on it, and
	// returns a Labor in PhaseSpawning carrying the worker's name and
	// resource handle. Spawn must not block on slow provisioning: if
	// the host takes time to come up, the adapter finishes in the
	// background and returns as soon as the worker identity is known.
	Spawn(ctx context.Context) (*Labor, error)

	// Terminate releases the labor's underlying resources (kills the
	// process, terminates the instance) and returns the labor in
	// PhaseTerminated. Terminate is idempotent: terminating an
	// already-terminated labor succeeds.
	Terminate(ctx context.Context, labor *Labor) (*Labor, error)

	// Connect establishes or re-establishes the low-level path to the
	// worker before pairing — for EC2 that is the SSH readiness probe
	// and shim start, for local processes a no-op. Errors are
	// surfaced to the controller as events; the conn timer decides
	// the labor's fate.
	Connect(ctx context.Context, labor *Labor) error
}
