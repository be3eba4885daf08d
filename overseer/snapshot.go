// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "sort"

// Snapshot is the debug introspection view of an overseer: the
// immutable spec knobs, every labor, the user state, and recent
// telemetry. Labors are value copies; the user state is the live
// reference and must be treated as read-only.
type Snapshot struct {
	OverseerID string
	Strategy   Strategy
	MaxNodes   int

	// ActiveLabors is the non-terminated count — the value bounded
	// by MaxNodes.
	ActiveLabors int

	// Labors is every registry entry, sorted by name.
	Labors []Labor

	UserState any

	// Telemetry is the retained history, oldest first.
	// TelemetryTotal counts every message ever relayed, including
	// those the ring has dropped.
	Telemetry      []Telemetry
	TelemetryTotal uint64
}

// snapshot builds a Snapshot. Controller goroutine only.
func (o *Overseer) snapshot() Snapshot {
	labors := make([]Labor, 0, len(o.reg.entries))
	for _, entry := range o.reg.entries {
		labors = append(labors, entry.labor)
	}
	sort.Slice(labors, func(i, j int) bool { return labors[i].Name < labors[j].Name })

	return Snapshot{
		OverseerID:     o.spec.OverseerID,
		Strategy:       o.spec.Strategy,
		MaxNodes:       o.spec.MaxNodes,
		ActiveLabors:   o.reg.countActive(),
		Labors:         labors,
		UserState:      o.userState,
		Telemetry:      o.telemetry.snapshot(),
		TelemetryTotal: o.telemetry.total,
	}
}
