// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNew verifies identity multipliers before any spawn.
func TestNew(t *testing.T) {
	c := New()
	assert.False(t, c.Applied)
	assert.Equal(t, 1.0, c.HeartbeatMultiplier)
	assert.Equal(t, 1.0, c.ContextWindowMultiplier)
	assert.Zero(t, c.SpawnCount)
}

// TestApplyCompounds verifies three spawns compound multiplicatively.
func TestApplyCompounds(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c = Apply(c)
	}

	assert.True(t, c.Applied)
	assert.Equal(t, 3, c.SpawnCount)
	assert.InDelta(t, 1.157625, c.HeartbeatMultiplier, 1e-9)     // 1.05^3
	assert.InDelta(t, 0.857375, c.ContextWindowMultiplier, 1e-9) // 0.95^3
}

// TestApplyBounds verifies the multiplier directions.
func TestApplyBounds(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c = Apply(c)
		assert.GreaterOrEqual(t, c.HeartbeatMultiplier, 1.0)
		assert.LessOrEqual(t, c.ContextWindowMultiplier, 1.0)
	}
}

// TestNormalize verifies recovery from a zero-valued kv row.
func TestNormalize(t *testing.T) {
	c := Normalize(Cost{})
	assert.Equal(t, 1.0, c.HeartbeatMultiplier)
	assert.Equal(t, 1.0, c.ContextWindowMultiplier)

	// Apply on a zero value behaves as a first spawn.
	first := Apply(Cost{})
	assert.InDelta(t, 1.05, first.HeartbeatMultiplier, 1e-9)
	assert.InDelta(t, 0.95, first.ContextWindowMultiplier, 1e-9)
	assert.Equal(t, 1, first.SpawnCount)
}
