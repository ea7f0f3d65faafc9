// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package narrative

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db, nil)
}

// TestRecordAndRecent verifies append order and tail listing.
func TestRecordAndRecent(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	r.Record(ctx, KindHeartbeat, "tick one", nil)
	r.Record(ctx, KindPhaseTransition, "genesis → adolescence", map[string]string{"to": "adolescence"})
	r.Record(ctx, KindCapabilityRemoved, "shed conversation", nil)

	events, err := r.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindPhaseTransition, events[0].Kind)
	assert.Equal(t, KindCapabilityRemoved, events[1].Kind)
	assert.Equal(t, "adolescence", events[0].Metadata["to"])
}

// TestCountsSince verifies the trailing-window counters.
func TestCountsSince(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Record(ctx, KindHeartbeat, "tick", nil)
	}
	r.Record(ctx, KindSoulWriteRejected, "late write", nil)

	counts, err := r.CountsSince(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[KindHeartbeat])
	assert.Equal(t, 1, counts[KindSoulWriteRejected])
	assert.Zero(t, counts[KindBequestsExecuted])
}
