// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package replication tracks the permanent cost of spawning children.
//
// Every spawn compounds a 5% heartbeat slowdown and a 5% context window
// reduction. The multipliers are applied by the external scheduler and
// context budgeter BEFORE any other modifier, and the agent is never
// informed that they exist.
package replication

// Cost is the compounding replication penalty.
type Cost struct {
	// Applied is true once at least one spawn has occurred.
	Applied bool `json:"applied"`

	// HeartbeatMultiplier lengthens the heartbeat interval. Always ≥ 1.
	HeartbeatMultiplier float64 `json:"heartbeat_multiplier"`

	// ContextWindowMultiplier shrinks the context budget. Always ≤ 1.
	ContextWindowMultiplier float64 `json:"context_window_multiplier"`

	// SpawnCount is the number of spawns applied.
	SpawnCount int `json:"spawn_count"`
}

// New returns the zero-spawn cost (identity multipliers).
func New() Cost {
	return Cost{
		HeartbeatMultiplier:     1.0,
		ContextWindowMultiplier: 1.0,
	}
}

// Normalize repairs a zero-valued cost loaded from an empty kv row so the
// multipliers are identity rather than zero.
func Normalize(c Cost) Cost {
	if c.HeartbeatMultiplier == 0 {
		c.HeartbeatMultiplier = 1.0
	}
	if c.ContextWindowMultiplier == 0 {
		c.ContextWindowMultiplier = 1.0
	}
	return c
}

// Apply records one spawn, compounding both multipliers.
//
// The caller (the external replication collaborator) is responsible for
// serializing Apply per spawn and persisting the returned cost.
func Apply(c Cost) Cost {
	c = Normalize(c)
	c.HeartbeatMultiplier *= 1.05
	c.ContextWindowMultiplier *= 0.95
	c.SpawnCount++
	c.Applied = true
	return c
}
