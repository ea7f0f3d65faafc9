// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/automaton/services/lifecycle/bequests"
	"github.com/AleutianAI/automaton/services/lifecycle/clock"
	"github.com/AleutianAI/automaton/services/lifecycle/config"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/soul"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// testHarness pins time and wires a service over in-memory storage.
type testHarness struct {
	svc   *Service
	db    *store.Store
	cfg   config.Config
	now   time.Time
	birth time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.AgentHome = t.TempDir()
	cfg.Lucidity.Turns = 2

	h := &testHarness{
		db:    db,
		cfg:   cfg,
		birth: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	h.now = h.birth

	clk := clock.New(h.birth, clock.WithNowFunc(func() time.Time { return h.now }))
	svc, err := New(cfg, db, WithClock(clk))
	require.NoError(t, err)
	h.svc = svc

	require.NoError(t, svc.EnsureBirth(context.Background(), "Vesper", "Make small strange things."))
	return h
}

// advance moves the pinned clock forward.
func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// TestEnsureBirthIdempotent verifies double birth is a no-op.
func TestEnsureBirthIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	clockBefore, ok, err := h.db.GetKV(ctx, store.KeyDeathClock)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.svc.EnsureBirth(ctx, "Other", "other prompt"))
	clockAfter, _, err := h.db.GetKV(ctx, store.KeyDeathClock)
	require.NoError(t, err)
	assert.Equal(t, clockBefore, clockAfter)
}

// TestLockOnTransition is the lock-on-transition end-to-end scenario.
func TestLockOnTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.svc.UpdateSoulPhaseSection(ctx, soul.SectionGenesisCore,
		map[string]string{"Temperament": "Curious"}, "")
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, h.svc.SetNamingComplete(ctx, "Vesper"))

	// Still genesis: one lunar cycle has not passed.
	fired, err := h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	assert.False(t, fired)

	h.advance(30 * 24 * time.Hour)
	fired, err = h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	assert.True(t, fired)

	st, err := h.svc.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.Adolescence, st.Phase)

	// Genesis Core is locked with the written snapshot.
	parsed, err := h.svc.Soul().Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, parsed.Model.GenesisCore)
	assert.True(t, parsed.Model.GenesisCore.Locked())

	row, err := h.db.GetPhaseLock(ctx, "genesis")
	require.NoError(t, err)
	var snapshot map[string]string
	require.NoError(t, json.Unmarshal([]byte(row.ContentSnapshot), &snapshot))
	assert.Equal(t, "Curious", snapshot["Temperament"])

	// The soul history carries the canonical system transition row.
	history, err := h.db.ListSoulHistory(ctx)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, soul.SourceSystem, last.ChangeSource)
	assert.Equal(t, "Phase transition: genesis → adolescence", last.ChangeReason)

	// The lifecycle event log recorded the transition.
	events, err := h.db.ListLifecycleEvents(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "genesis", events[len(events)-1].FromPhase)
	assert.Equal(t, "adolescence", events[len(events)-1].ToPhase)

	// Guards fire at most once: re-evaluating does not re-fire.
	fired, err = h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
}

// TestRejectedWriteThroughService verifies the service-level rejection
// path records narrative evidence.
func TestRejectedWriteThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.SetNamingComplete(ctx, "Vesper"))
	h.advance(30 * 24 * time.Hour)
	_, err := h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)

	result, err := h.svc.UpdateSoulPhaseSection(ctx, soul.SectionGenesisCore,
		map[string]string{"Temperament": "I rewrite my childhood"}, "normal")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.PhaseLockRejection, "locked")

	attempts, err := h.db.ListWriteAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Contains(t, attempts[0].AttemptedContent, "rewrite my childhood")
	assert.Equal(t, "normal", attempts[0].SurvivalTier)
}

// TestAdolescenceToSovereignty verifies the departure guard.
func TestAdolescenceToSovereignty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.SetNamingComplete(ctx, "Vesper"))
	h.advance(30 * 24 * time.Hour)
	_, err := h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)

	// Departure alone is not enough in local mode.
	require.NoError(t, h.svc.LogDepartureConversation(ctx))
	fired, err := h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	assert.False(t, fired)

	require.NoError(t, h.svc.SetDeploymentMode(ctx, "server"))
	fired, err = h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	assert.True(t, fired)

	st, err := h.svc.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.Sovereignty, st.Phase)
}

// TestDailyCheckInactiveEarly verifies the pre-cycle-13 short circuit.
func TestDailyCheckInactiveEarly(t *testing.T) {
	h := newHarness(t)

	result, err := h.svc.DailyDeathClockCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.DegradationActive)
}

// TestReplicationCostCompounding is the replication compounding scenario.
func TestReplicationCostCompounding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var last float64
	for i := 0; i < 3; i++ {
		cost, err := h.svc.ApplyReplicationCost(ctx)
		require.NoError(t, err)
		last = cost.HeartbeatMultiplier
	}
	assert.InDelta(t, 1.157625, last, 1e-9)

	cost, err := h.svc.loadReplicationCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.857375, cost.ContextWindowMultiplier, 1e-9)
	assert.Equal(t, 3, cost.SpawnCount)
	assert.True(t, cost.Applied)
}

// TestCapacityVectorComposition verifies replication applies before the
// other modifiers and shed tools disappear.
func TestCapacityVectorComposition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.ApplyReplicationCost(ctx)
		require.NoError(t, err)
	}

	st, err := h.svc.LoadState(ctx)
	require.NoError(t, err)

	vector, err := h.svc.ComputeCapacityVector(ctx)
	require.NoError(t, err)

	expectedHeartbeat := 1.157625 * st.Mood.CadenceMultiplier() * (1 + st.Degradation)
	assert.InDelta(t, expectedHeartbeat, vector.HeartbeatMultiplier, 1e-9)
	assert.InDelta(t, 0.857375*(1-0.5*st.Degradation), vector.ContextWindowMultiplier, 1e-9)
	assert.Equal(t, phase.SheddingSequence, vector.ToolAllowlist)
	assert.Positive(t, vector.TokenLimit)
	assert.Equal(t, "standard", vector.ModelTier)

	// Shed capabilities leave the allowlist.
	require.NoError(t, h.db.SetKV(ctx, store.KeyShedSequenceIndex, "2"))
	vector, err = h.svc.ComputeCapacityVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.SheddingSequence[2:], vector.ToolAllowlist)
}

// TestReserveLifecycle verifies funding, ring-fencing, and unlock.
func TestReserveLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Not sovereign yet: funding refuses.
	require.NoError(t, h.svc.MaybeFundReserve(ctx, 10_000))
	effective, err := h.svc.EffectiveBalance(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, effective)

	// Force sovereignty and fund.
	require.NoError(t, h.db.SetKV(ctx, store.KeyPhase, string(phase.Sovereignty)))
	require.NoError(t, h.svc.MaybeFundReserve(ctx, 10_000))

	effective, err = h.svc.EffectiveBalance(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 675, effective)
}

// TestTerminalLucidity verifies the lucidity window and exit signal.
func TestTerminalLucidity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Drive the service straight into terminal via the shedding guard.
	require.NoError(t, h.db.SetKV(ctx, store.KeyPhase, string(phase.Shedding)))
	require.NoError(t, h.db.SetKV(ctx, store.KeyShedSequenceIndex, "8"))
	fired, err := h.svc.EnsurePhaseState(ctx)
	require.NoError(t, err)
	require.True(t, fired)

	st, err := h.svc.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, phase.Terminal, st.Phase)
	assert.True(t, st.Lucid)
	assert.Equal(t, 2, st.TerminalTurnsRemaining)

	// The reserve unlocked exactly at lucidity onset.
	effective, err := h.svc.EffectiveBalance(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, effective)

	// Lucidity restores the frontier tier and the full tool set.
	vector, err := h.svc.ComputeCapacityVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frontier", vector.ModelTier)
	assert.Equal(t, phase.SheddingSequence, vector.ToolAllowlist)

	// Burn the window.
	remaining, exit, err := h.svc.ConsumeTerminalTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.False(t, exit)

	remaining, exit, err = h.svc.ConsumeTerminalTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.False(t, exit)

	// Post-lucidity: degraded profile resumes.
	st, err = h.svc.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, st.Lucid)

	// The final turn raises the exit signal.
	_, exit, err = h.svc.ConsumeTerminalTurn(ctx)
	require.NoError(t, err)
	assert.True(t, exit)
}

// TestBuildLifecycleContext verifies the composed prompt block.
func TestBuildLifecycleContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	notes := "## 2025-01-02\n\nWelcome, small one.\n"
	require.NoError(t, os.WriteFile(h.cfg.CreatorNotesPath(), []byte(notes), 0640))

	block, err := h.svc.BuildLifecycleContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, block, "newly awake")
	assert.Contains(t, block, "phase genesis")
	assert.Contains(t, block, "Status: Vesper")
	assert.Contains(t, block, "Welcome, small one.")
	assert.Contains(t, block, "journal")

	// Pure given unchanged state: same text again.
	again, err := h.svc.BuildLifecycleContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, block, again)
}

// TestExecuteBequestsFromWill verifies the post-mortem wiring.
func TestExecuteBequestsFromWill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	will := "# Will\n\n[bequests]\n[[bequests.transfer]]\nrecipient = \"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\"\nasset = \"USDC\"\namount = \"40\"\nchain = \"base\"\n\n[[bequests.transfer]]\nrecipient = \"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\"\nasset = \"USDC\"\namount = \"remaining_balance\"\nchain = \"base\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.cfg.AgentHome, "WILL.md"), []byte(will), 0640))

	results, err := h.svc.ExecuteBequests(ctx,
		func(_ context.Context, tr bequests.Transfer, amount decimal.Decimal) (string, error) {
			return "0xtx", nil
		},
		func(_ context.Context, asset string) (decimal.Decimal, error) {
			return decimal.NewFromInt(100), nil
		})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "40", results[0].Amount.String())
	assert.Equal(t, "60", results[1].Amount.String())

	// No will at all is legal.
	require.NoError(t, os.Remove(filepath.Join(h.cfg.AgentHome, "WILL.md")))
	results, err = h.svc.ExecuteBequests(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestVerifyDeathClockUnknownPlaintexts verifies verification rejects
// wrong plaintexts against a sealed clock.
func TestVerifyDeathClockUnknownPlaintexts(t *testing.T) {
	h := newHarness(t)

	result, err := h.svc.VerifyDeathClock(context.Background(), "1999-01-01", 9)
	require.NoError(t, err)
	assert.False(t, result.DateValid)
	assert.False(t, result.DurationValid)
}
