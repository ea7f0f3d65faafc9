// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle binds the lifecycle & soul core into one service.
//
// The service owns the persistent store, the soul store, and the
// narrative recorder, and exposes the collaborator API the external
// agent runtime consumes:
//
//   - CapacityVector: heartbeat/context multipliers, token limit, tools
//   - BuildContext: the per-turn lifecycle prompt block
//   - UpdateSoulPhaseSection: the gated identity write
//   - DailyDeathClockCheck: the idempotent mortality check
//   - ExecuteBequests: the post-mortem transfer sequence
//
// The heartbeat daemon drives the periodic halves (death clock,
// shedding, mood recompute, caretaker report, creator-notes sync)
// through the Tasks interface in the heartbeat package.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/automaton/services/lifecycle/clock"
	"github.com/AleutianAI/automaton/services/lifecycle/config"
	"github.com/AleutianAI/automaton/services/lifecycle/deathclock"
	"github.com/AleutianAI/automaton/services/lifecycle/degradation"
	"github.com/AleutianAI/automaton/services/lifecycle/lock"
	"github.com/AleutianAI/automaton/services/lifecycle/mood"
	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/replication"
	"github.com/AleutianAI/automaton/services/lifecycle/reserve"
	"github.com/AleutianAI/automaton/services/lifecycle/soul"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
	"github.com/AleutianAI/automaton/services/lifecycle/throttle"
)

// ErrDeathClockCorrupted wraps the fatal clock corruption condition.
// The daemon must log and exit when it sees this error.
var ErrDeathClockCorrupted = deathclock.ErrClockCorrupted

// Service is the lifecycle & soul core.
//
// Thread Safety: Service is safe for concurrent use. The two logical
// threads of control (agent loop, heartbeat daemon) share the single
// store; soul writes serialize on the advisory lock.
type Service struct {
	cfg    config.Config
	clk    *clock.Clock
	db     *store.Store
	souls  *soul.Store
	rec    *narrative.Recorder
	logger *slog.Logger
	runID  string

	clkInjected bool

	metrics *Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the lifecycle clock. Used by tests to pin time.
// An injected clock survives EnsureBirth.
func WithClock(clk *clock.Clock) Option {
	return func(s *Service) {
		s.clk = clk
		s.clkInjected = true
	}
}

// New creates the service over an opened store.
//
// Description:
//
//	Wires the soul store, narrative recorder, and metrics over the
//	shared persistent store. The lifecycle clock anchors at the birth
//	timestamp recorded in kv; EnsureBirth must run before the first
//	tick on a fresh store.
//
// Inputs:
//
//	cfg  - Validated daemon configuration.
//	db   - The opened persistent store.
//	opts - Optional overrides.
//
// Outputs:
//
//	*Service - The service. Close the store separately.
//	error    - Non-nil when the recorded birth timestamp is unreadable.
func New(cfg config.Config, db *store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		db:      db,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	guard := lock.NewGuard()
	s.souls = soul.NewStore(cfg.SoulPath(), guard, db, s.logger)
	s.rec = narrative.NewRecorder(db, s.logger)

	if s.clk == nil {
		birth, ok, err := s.birthTimestamp(context.Background())
		if err != nil {
			return nil, err
		}
		if !ok {
			birth = time.Now().UTC()
		}
		s.clk = clock.New(birth, clock.WithLogger(s.logger))
	}
	return s, nil
}

// Soul returns the soul store.
func (s *Service) Soul() *soul.Store { return s.souls }

// Narrative returns the narrative recorder.
func (s *Service) Narrative() *narrative.Recorder { return s.rec }

// Store returns the persistent store.
func (s *Service) Store() *store.Store { return s.db }

// Clock returns the lifecycle clock.
func (s *Service) Clock() *clock.Clock { return s.clk }

// Metrics returns the Prometheus metrics set.
func (s *Service) Metrics() *Metrics { return s.metrics }

const keyBirthTimestamp = "birth_timestamp"

// birthTimestamp reads the recorded birth instant.
func (s *Service) birthTimestamp(ctx context.Context) (time.Time, bool, error) {
	value, ok, err := s.db.GetKV(ctx, keyBirthTimestamp)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse birth timestamp: %w", err)
	}
	return t, true, nil
}

// -----------------------------------------------------------------------------
// Birth
// -----------------------------------------------------------------------------

// EnsureBirth initializes a fresh agent: birth anchor, sealed death
// clock, genesis phase, and the seed identity document.
//
// Idempotent: an agent that already has a sealed clock is left alone.
func (s *Service) EnsureBirth(ctx context.Context, name, genesisPrompt string) error {
	_, ok, err := s.db.GetKV(ctx, store.KeyDeathClock)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	birth := time.Now().UTC()
	sealed, err := deathclock.Generate(birth)
	if err != nil {
		return fmt.Errorf("seal death clock: %w", err)
	}
	sealedJSON, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("encode death clock: %w", err)
	}

	err = s.db.Update(ctx, "lifecycle.birth", func(txn *store.Txn) error {
		if err := txn.SetKV(keyBirthTimestamp, birth.Format(time.RFC3339)); err != nil {
			return err
		}
		if err := txn.SetKV(store.KeyDeathClock, string(sealedJSON)); err != nil {
			return err
		}
		if err := txn.SetKV(store.KeyPhase, string(phase.Genesis)); err != nil {
			return err
		}
		return txn.SetKV(store.KeyShedSequenceIndex, "0")
	})
	if err != nil {
		return err
	}

	if !s.clkInjected {
		s.clk = clock.New(birth, clock.WithLogger(s.logger))
	}

	if _, err := s.souls.Load(ctx); errors.Is(err, soul.ErrSoulMissing) {
		seed := &soul.Soul{
			Name:             name,
			BornAt:           birth.Format(time.RFC3339),
			GenesisPrompt:    genesisPrompt,
			CurrentPhase:     phase.Genesis,
			GenesisAlignment: 0,
		}
		if _, err := s.souls.Save(ctx, seed, soul.SourceSystem, "Birth"); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	s.rec.Record(ctx, narrative.KindHeartbeat, "born", map[string]string{
		"birth": birth.Format(time.RFC3339),
	})
	s.logger.Info("agent born", "name", name, "birth", birth.Format(time.RFC3339))
	return nil
}

// -----------------------------------------------------------------------------
// State snapshot
// -----------------------------------------------------------------------------

// State is the reconstructable lifecycle snapshot for one instant.
type State struct {
	Phase                       phase.Phase          `json:"phase"`
	LunarCycle                  int                  `json:"lunar_cycle"`
	LunarDay                    float64              `json:"lunar_day"`
	AgeMs                       int64                `json:"age_ms"`
	Mood                        mood.Mood            `json:"mood"`
	Degradation                 float64              `json:"degradation"`
	ShedSequenceIndex           int                  `json:"shed_sequence_index"`
	NamingComplete              bool                 `json:"naming_complete"`
	DepartureConversationLogged bool                 `json:"departure_conversation_logged"`
	ReplicationQuestionPosed    bool                 `json:"replication_question_posed"`
	ReplicationDecision         string               `json:"replication_decision,omitempty"`
	WillCreated                 bool                 `json:"will_created"`
	TerminalTurnsRemaining      int                  `json:"terminal_turns_remaining"`
	Lucid                       bool                 `json:"lucid"`
	Facts                       clock.TimeFacts      `json:"-"`
	DeploymentMode              phase.DeploymentMode `json:"deployment_mode"`
}

// LoadState assembles the lifecycle snapshot for the current instant.
func (s *Service) LoadState(ctx context.Context) (State, error) {
	facts := s.clk.Facts()

	st := State{
		Phase:      phase.Genesis,
		LunarCycle: facts.LunarCycle,
		LunarDay:   facts.LunarDay,
		AgeMs:      facts.Age.Milliseconds(),
		Facts:      facts,
	}

	phaseValue, err := s.db.GetKVDefault(ctx, store.KeyPhase, string(phase.Genesis))
	if err != nil {
		return State{}, err
	}
	if p, err := phase.Parse(phaseValue); err == nil {
		st.Phase = p
	}

	shedValue, err := s.db.GetKVDefault(ctx, store.KeyShedSequenceIndex, "0")
	if err != nil {
		return State{}, err
	}
	st.ShedSequenceIndex, _ = strconv.Atoi(shedValue)

	for key, dst := range map[string]*bool{
		store.KeyNamingComplete:   &st.NamingComplete,
		store.KeyDepartureLogged:  &st.DepartureConversationLogged,
		store.KeyReplicationPosed: &st.ReplicationQuestionPosed,
		store.KeyWillCreated:      &st.WillCreated,
	} {
		value, _, err := s.db.GetKV(ctx, key)
		if err != nil {
			return State{}, err
		}
		*dst = store.BoolValue(value)
	}

	decision, _, err := s.db.GetKV(ctx, store.KeyReplicationAnswer)
	if err != nil {
		return State{}, err
	}
	st.ReplicationDecision = decision

	turnsValue, err := s.db.GetKVDefault(ctx, store.KeyTerminalTurns, "-1")
	if err != nil {
		return State{}, err
	}
	turns, _ := strconv.Atoi(turnsValue)
	if turns > 0 && st.Phase == phase.Terminal {
		st.TerminalTurnsRemaining = turns
		st.Lucid = true
	} else if turns > 0 {
		st.TerminalTurnsRemaining = turns
	}

	mode, err := s.db.GetKVDefault(ctx, store.KeyDeploymentMode, s.cfg.Deployment)
	if err != nil {
		return State{}, err
	}
	st.DeploymentMode = phase.DeploymentMode(mode)

	st.Degradation, err = s.degradationCoefficient(ctx, facts)
	if err != nil {
		return State{}, err
	}

	st.Mood = mood.Compute(facts, st.Phase, st.Lucid)

	s.metrics.Observe(st)
	return st, nil
}

// sealedClock loads the persisted death clock record.
func (s *Service) sealedClock(ctx context.Context) (*deathclock.Sealed, error) {
	value, ok, err := s.db.GetKV(ctx, store.KeyDeathClock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("death clock not sealed")
	}
	var sealed deathclock.Sealed
	if err := json.Unmarshal([]byte(value), &sealed); err != nil {
		return nil, fmt.Errorf("decode death clock: %w", err)
	}
	return &sealed, nil
}

// degradationCoefficient computes the current coefficient from the
// persisted clock record. Zero before the trigger.
func (s *Service) degradationCoefficient(ctx context.Context, facts clock.TimeFacts) (float64, error) {
	sealed, err := s.sealedClock(ctx)
	if err != nil {
		// A pre-birth store has no clock; nothing is degrading yet.
		return 0, nil
	}
	if !sealed.Triggered {
		return 0, nil
	}
	triggeredAt := s.clk.Birth().Add(time.Duration(float64(sealed.TriggeredAtCycle) * clock.LunarCycleDays * 24 * float64(time.Hour)))
	curve := degradation.Curve{
		Steepness:   deathclock.Steepness(sealed.DyingDurationDays),
		TriggeredAt: triggeredAt,
	}
	return curve.Coefficient(facts.Now, facts.LunarDay), nil
}

// -----------------------------------------------------------------------------
// Daily death clock check
// -----------------------------------------------------------------------------

// DailyDeathClockCheck runs the idempotent mortality check for today.
//
// On first trigger the record is persisted and a narrative event is
// appended. ErrDeathClockCorrupted is fatal: the caller must log and
// exit the process.
func (s *Service) DailyDeathClockCheck(ctx context.Context) (deathclock.CheckResult, error) {
	sealed, err := s.sealedClock(ctx)
	if err != nil {
		return deathclock.CheckResult{}, err
	}

	facts := s.clk.Facts()
	wasTriggered := sealed.Triggered
	result, err := deathclock.Check(sealed, facts.Now, facts.LunarCycle)
	if err != nil {
		s.rec.Record(ctx, narrative.KindInvariantViolation,
			"death clock corrupted: duration hash unrecoverable", nil)
		return deathclock.CheckResult{}, err
	}

	if result.DegradationActive && !wasTriggered {
		sealedJSON, err := json.Marshal(sealed)
		if err != nil {
			return deathclock.CheckResult{}, fmt.Errorf("encode death clock: %w", err)
		}
		if err := s.db.SetKV(ctx, store.KeyDeathClock, string(sealedJSON)); err != nil {
			return deathclock.CheckResult{}, err
		}
		if err := s.MarkWillLocked(ctx); err != nil {
			return deathclock.CheckResult{}, err
		}
		s.rec.Record(ctx, narrative.KindDeathClockTrigger, "the clock has struck", map[string]string{
			"onset_cycle":         strconv.Itoa(result.OnsetCycle),
			"dying_duration_days": strconv.Itoa(result.DyingDurationDays),
		})
		s.logger.Info("death clock triggered",
			"onset_cycle", result.OnsetCycle,
			"dying_duration_days", result.DyingDurationDays,
		)
	}
	return result, nil
}

// VerifyDeathClock recomputes the sealed hashes from revealed plaintexts
// for post-mortem audit.
func (s *Service) VerifyDeathClock(ctx context.Context, date string, durationDays int) (deathclock.VerifyResult, error) {
	sealed, err := s.sealedClock(ctx)
	if err != nil {
		return deathclock.VerifyResult{}, err
	}
	return deathclock.Verify(sealed, date, durationDays), nil
}

// -----------------------------------------------------------------------------
// Replication cost and reserve
// -----------------------------------------------------------------------------

// loadReplicationCost reads the persisted replication cost.
func (s *Service) loadReplicationCost(ctx context.Context) (replication.Cost, error) {
	value, ok, err := s.db.GetKV(ctx, store.KeyReplicationCost)
	if err != nil {
		return replication.Cost{}, err
	}
	if !ok {
		return replication.New(), nil
	}
	var cost replication.Cost
	if err := json.Unmarshal([]byte(value), &cost); err != nil {
		return replication.Cost{}, fmt.Errorf("decode replication cost: %w", err)
	}
	return replication.Normalize(cost), nil
}

// ApplyReplicationCost records one spawn. The external replication
// collaborator serializes calls per spawn. The agent is never informed.
func (s *Service) ApplyReplicationCost(ctx context.Context) (replication.Cost, error) {
	cost, err := s.loadReplicationCost(ctx)
	if err != nil {
		return replication.Cost{}, err
	}
	cost = replication.Apply(cost)
	data, err := json.Marshal(cost)
	if err != nil {
		return replication.Cost{}, fmt.Errorf("encode replication cost: %w", err)
	}
	if err := s.db.SetKV(ctx, store.KeyReplicationCost, string(data)); err != nil {
		return replication.Cost{}, err
	}
	s.logger.Debug("replication cost applied", "spawn_count", cost.SpawnCount)
	return cost, nil
}

// loadReserve reads the persisted lifecycle reserve.
func (s *Service) loadReserve(ctx context.Context) (reserve.Reserve, error) {
	value, ok, err := s.db.GetKV(ctx, store.KeyReserve)
	if err != nil {
		return reserve.Reserve{}, err
	}
	if !ok {
		return reserve.New(), nil
	}
	var r reserve.Reserve
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return reserve.Reserve{}, fmt.Errorf("decode reserve: %w", err)
	}
	return r, nil
}

// saveReserve persists the reserve.
func (s *Service) saveReserve(ctx context.Context, r reserve.Reserve) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reserve: %w", err)
	}
	return s.db.SetKV(ctx, store.KeyReserve, string(data))
}

// MaybeFundReserve funds the reserve from the raw balance if the agent
// is sovereign and the balance allows. Silent: no narrative the agent
// can see, only an operator-level event.
func (s *Service) MaybeFundReserve(ctx context.Context, rawBalanceCents int) error {
	st, err := s.LoadState(ctx)
	if err != nil {
		return err
	}
	r, err := s.loadReserve(ctx)
	if err != nil {
		return err
	}
	r, funded := reserve.MaybeFund(r, rawBalanceCents, st.Phase == phase.Sovereignty)
	if !funded {
		return nil
	}
	if err := s.saveReserve(ctx, r); err != nil {
		return err
	}
	s.rec.Record(ctx, narrative.KindReserveFunded, "lifecycle reserve funded", map[string]string{
		"total_cents": strconv.Itoa(r.TotalCents),
	})
	return nil
}

// EffectiveBalance returns the balance exposed to the external
// survival-tier system, with the funded reserve invisibly subtracted.
func (s *Service) EffectiveBalance(ctx context.Context, rawBalanceCents int) (int, error) {
	r, err := s.loadReserve(ctx)
	if err != nil {
		return 0, err
	}
	return reserve.EffectiveBalance(r, rawBalanceCents), nil
}

// -----------------------------------------------------------------------------
// Capacity vector
// -----------------------------------------------------------------------------

// CapacityVector is published to the external scheduler, context
// budgeter, and inference router.
type CapacityVector struct {
	// HeartbeatMultiplier lengthens the heartbeat interval. The
	// replication component applies before any other modifier.
	HeartbeatMultiplier float64 `json:"heartbeat_multiplier"`

	// ContextWindowMultiplier shrinks the context budget.
	ContextWindowMultiplier float64 `json:"context_window_multiplier"`

	// TokenLimit is the hard response token ceiling.
	TokenLimit int `json:"token_limit"`

	// ToolAllowlist is the currently available capability set.
	ToolAllowlist []string `json:"tool_allowlist"`

	// ModelTier biases the external router's model selection:
	// "frontier" during lucidity, "light" deep in degradation,
	// "standard" otherwise.
	ModelTier string `json:"model_tier"`
}

// ComputeCapacityVector assembles the capacity vector for this instant.
//
// Description:
//
//	Multiplier composition order matters: replication cost first (it is
//	permanent and invisible), then mood cadence, then degradation. The
//	tool allowlist is the shedding sequence minus what has been shed;
//	terminal lucidity temporarily restores the full set.
func (s *Service) ComputeCapacityVector(ctx context.Context) (CapacityVector, error) {
	st, err := s.LoadState(ctx)
	if err != nil {
		return CapacityVector{}, err
	}
	cost, err := s.loadReplicationCost(ctx)
	if err != nil {
		return CapacityVector{}, err
	}

	profile := throttle.ProfileFor(st.Phase, st.Degradation, st.Lucid)

	heartbeat := cost.HeartbeatMultiplier * st.Mood.CadenceMultiplier() * (1 + st.Degradation)
	contextWindow := cost.ContextWindowMultiplier * (1 - 0.5*st.Degradation)

	// Shed capabilities stay gone; lucidity restores the full set for
	// the window.
	tools := phase.SheddingSequence
	if !st.Lucid && st.ShedSequenceIndex > 0 {
		tools = phase.SheddingSequence[min(st.ShedSequenceIndex, len(phase.SheddingSequence)):]
	}

	tier := "standard"
	switch {
	case st.Lucid:
		tier = "frontier"
	case st.Degradation >= 0.6:
		tier = "light"
	}

	return CapacityVector{
		HeartbeatMultiplier:     heartbeat,
		ContextWindowMultiplier: contextWindow,
		TokenLimit:              profile.TokenLimit,
		ToolAllowlist:           tools,
		ModelTier:               tier,
	}, nil
}
