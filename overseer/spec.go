// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/overseer/release"
)

// Strategy is the respawn policy for failed workers.
type Strategy uint8

const (
	// SimpleOneForOne treats workers as anonymous pool slots: a
	// worker whose user code exits is re-paired in place, a worker
	// that exhausts its reconnect window is dropped, and new slots
	// appear only through StartChild. This is the only strategy the
	// overseer runs.
	SimpleOneForOne Strategy = iota

	// OneForOne names the slot-preserving respawn policy. The
	// contract is documented but the reference behavior never
	// initializes with it, so Start refuses it with ErrBadStartSpec
	// rather than guessing at semantics.
	OneForOne
)

// String returns the strategy's configuration name.
func (s Strategy) String() string {
	switch s {
	case SimpleOneForOne:
		return "simple_one_for_one"
	case OneForOne:
		return "one_for_one"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Defaults applied by Spec.normalize.
const (
	defaultMaxNodes    = 8
	defaultPairTimeout = 30 * time.Second
)

// Spec configures an overseer. It is immutable after Start.
type Spec struct {
	// Adapter provisions and destroys workers. Required.
	Adapter Adapter

	// Release locates the artifact delivered to every worker.
	// Required.
	Release release.Ref

	// Strategy is the respawn policy. Zero value (SimpleOneForOne)
	// is the default and the only accepted value.
	Strategy Strategy

	// MaxNodes bounds the non-terminated labor count. Zero means 8.
	MaxNodes int

	// ConnTimeout bounds time-to-connect from spawn and
	// time-to-reconnect from disconnect. Zero is literal: the window
	// fires as soon as it is armed, dropping any labor that is not
	// connected by the time the event is processed.
	ConnTimeout time.Duration

	// PairTimeout bounds the post-connect load-and-pair handshake.
	// Zero means 30s.
	PairTimeout time.Duration

	// OverseerID is this overseer's stable identity; workers present
	// it in their HELLO and mismatches are rejected. Empty means
	// "overseer-<hostname>-<pid>".
	OverseerID string
}

// normalize fills defaults in place. ConnTimeout is deliberately not
// defaulted: zero is a meaningful value (immediate drop of anything
// unconnected), so it passes through untouched.
func (s *Spec) normalize() {
	if s.MaxNodes == 0 {
		s.MaxNodes = defaultMaxNodes
	}
	if s.PairTimeout == 0 {
		s.PairTimeout = defaultPairTimeout
	}
	if s.OverseerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		s.OverseerID = fmt.Sprintf("overseer-%s-%d", hostname, os.Getpid())
	}
}

// validate rejects specs the overseer refuses to run. Called after
// normalize.
func (s *Spec) validate() error {
	if s.Adapter == nil {
		return fmt.Errorf("%w: adapter required", ErrBadStartSpec)
	}
	if s.Strategy != SimpleOneForOne {
		return fmt.Errorf("%w: strategy %s not supported", ErrBadStartSpec, s.Strategy)
	}
	if s.MaxNodes < 1 {
		return fmt.Errorf("%w: max_nodes %d, need >= 1", ErrBadStartSpec, s.MaxNodes)
	}
	if err := s.Release.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadStartSpec, err)
	}
	return nil
}
