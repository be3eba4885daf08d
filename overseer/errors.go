// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "errors"

var (
	// ErrCapExceeded is returned by StartChild when the registry
	// already holds MaxNodes non-terminated labors. The adapter is
	// not invoked.
	ErrCapExceeded = errors.New("overseer: max_nodes reached")

	// ErrSpawnFailed wraps an adapter spawn error surfaced through
	// StartChild.
	ErrSpawnFailed = errors.New("overseer: spawn failed")

	// ErrUnknownLabor is returned by operations naming a worker the
	// registry does not hold.
	ErrUnknownLabor = errors.New("overseer: unknown labor")

	// ErrBadStartSpec is returned by Start for a spec the overseer
	// refuses to run: a strategy other than SimpleOneForOne, a
	// missing adapter, an invalid release URL.
	ErrBadStartSpec = errors.New("overseer: bad start spec")

	// ErrBadReturnValue is the terminal reason when a user callback
	// returns a malformed outcome. Protocol errors from user code are
	// fatal.
	ErrBadReturnValue = errors.New("overseer: bad return value from callback")

	// ErrStopped is returned by API calls on an overseer that has
	// shut down.
	ErrStopped = errors.New("overseer: stopped")

	// ErrNotSupported is returned by Call when the handler does not
	// implement CallHandler.
	ErrNotSupported = errors.New("overseer: not supported")
)
