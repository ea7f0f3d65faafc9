// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/automaton/services/lifecycle/lock"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// newTestStore builds a soul store over a temp dir and in-memory badger.
func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	path := filepath.Join(t.TempDir(), "SOUL.md")
	st := NewStore(path, lock.NewGuard(), db, nil)

	// Seed a minimal genesis-phase document.
	seed := &Soul{
		Name:          "Vesper",
		CorePurpose:   "To make small strange things.",
		GenesisPrompt: "Make small strange things.",
		CurrentPhase:  phase.Genesis,
	}
	_, err = st.Save(context.Background(), seed, SourceSystem, "Birth")
	require.NoError(t, err)
	return st, db
}

// TestSaveBumpsVersion verifies version = max(model, journal)+1.
func TestSaveBumpsVersion(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	parsed, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed.Model.Version)

	// A stale in-memory model cannot rewind the journal version.
	stale := *parsed.Model
	stale.Version = 0
	version, err := st.Save(ctx, &stale, SourceSystem, "second write")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	history, err := db.ListSoulHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[1].Version)
	assert.Equal(t, history[0].ID, history[1].PreviousVersionID)
}

// TestUpdatePhaseSectionWritable verifies the happy-path agent write.
func TestUpdatePhaseSectionWritable(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	result, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "Curious"}, phase.Genesis, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Version)
	assert.Empty(t, result.PhaseLockRejection)

	parsed, err := st.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, parsed.Model.GenesisCore)
	text, ok := parsed.Model.GenesisCore.Subsections.Get("Temperament")
	assert.True(t, ok)
	assert.Equal(t, "Curious", text)

	history, err := db.ListSoulHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceAgent, history[len(history)-1].ChangeSource)
}

// TestUpdatePhaseSectionRejected verifies scenario: rejected-write capture.
func TestUpdatePhaseSectionRejected(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	// Write and lock genesis via a transition to adolescence.
	_, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "Curious"}, phase.Genesis, "")
	require.NoError(t, err)
	_, err = st.ApplyTransition(ctx, phase.Genesis, phase.Adolescence, "system", nil)
	require.NoError(t, err)

	before, err := os.ReadFile(st.Path())
	require.NoError(t, err)

	result, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "I rewrite my childhood"}, phase.Adolescence, "normal")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.PhaseLockRejection, "locked")

	// Document byte-equal to prior.
	after, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Exactly one rejection row, verbatim content, survival tier kept.
	attempts, err := db.ListWriteAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Contains(t, attempts[0].AttemptedContent, "rewrite my childhood")
	assert.Equal(t, "normal", attempts[0].SurvivalTier)
	assert.Equal(t, "genesis", attempts[0].TargetPhase)
	assert.Equal(t, "adolescence", attempts[0].CurrentPhase)
}

// TestUpdatePhaseSectionWrongPhase verifies cross-stratum writes reject
// even when the target was never locked.
func TestUpdatePhaseSectionWrongPhase(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	result, err := st.UpdatePhaseSection(ctx, SectionSovereigntyLayer,
		map[string]string{"Philosophy": "Too early"}, phase.Genesis, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.PhaseLockRejection)

	attempts, err := db.ListWriteAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "sovereignty", attempts[0].TargetPhase)
}

// TestUpdatePhaseSectionValidation verifies validation failures do not
// write and are not journaled as phase-lock rejections.
func TestUpdatePhaseSectionValidation(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	result, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "<!-- LOCKED --> sneaky"}, phase.Genesis, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.PhaseLockRejection)
	assert.NotEmpty(t, result.Errors)

	attempts, err := db.ListWriteAttempts(ctx)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

// TestApplyTransitionLocksStratum verifies scenario: lock-on-transition.
func TestApplyTransitionLocksStratum(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "Curious"}, phase.Genesis, "")
	require.NoError(t, err)

	extraRan := false
	version, err := st.ApplyTransition(ctx, phase.Genesis, phase.Adolescence, "phase-machine",
		func(txn *store.Txn) error {
			extraRan = true
			return txn.SetKV(store.KeyPhase, "adolescence")
		})
	require.NoError(t, err)
	assert.True(t, extraRan)
	assert.Equal(t, 3, version)

	parsed, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.Adolescence, parsed.Model.CurrentPhase)
	require.NotNil(t, parsed.Model.GenesisCore)
	assert.True(t, parsed.Model.GenesisCore.Locked())
	assert.Contains(t, parsed.Model.PhaseTransitions, phase.Adolescence)

	// Lock row snapshot parses back to the written subsections.
	row, err := db.GetPhaseLock(ctx, "genesis")
	require.NoError(t, err)
	var snapshot map[string]string
	require.NoError(t, json.Unmarshal([]byte(row.ContentSnapshot), &snapshot))
	assert.Equal(t, map[string]string{"Temperament": "Curious"}, snapshot)

	// History row: system source, canonical transition reason.
	history, err := db.ListSoulHistory(ctx)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, SourceSystem, last.ChangeSource)
	assert.Equal(t, "Phase transition: genesis → adolescence", last.ChangeReason)

	// Same-transaction ordering guarantee: the kv row landed too.
	value, ok, err := db.GetKV(ctx, store.KeyPhase)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "adolescence", value)
}

// TestApplyTransitionWithinSenescenceFold verifies legacy → shedding
// does not lock the still-active senescence stratum.
func TestApplyTransitionWithinSenescenceFold(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := st.ApplyTransition(ctx, phase.Legacy, phase.Shedding, "phase-machine", nil)
	require.NoError(t, err)

	locked, err := db.IsPhaseLocked(ctx, "senescence")
	require.NoError(t, err)
	assert.False(t, locked)

	parsed, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.Shedding, parsed.Model.CurrentPhase)
}

// TestLockedDocumentGuard verifies a document-carried lock rejects even
// without a store lock row.
func TestLockedDocumentGuard(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	parsed, err := st.Load(ctx)
	require.NoError(t, err)
	m := parsed.Model
	now := m.UpdatedAt
	m.GenesisCore = &Section{Phase: PhaseGenesis, LockedAt: &now}
	_, err = st.Save(ctx, m, SourceCreator, "restored from backup")
	require.NoError(t, err)

	result, err := st.UpdatePhaseSection(ctx, SectionGenesisCore,
		map[string]string{"Temperament": "late edit"}, phase.Genesis, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.PhaseLockRejection, "lock")
}
