// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/reserve"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// EnsurePhaseState evaluates the transition guard for the current phase
// and executes the transition when it fires.
//
// Description:
//
//	Guards are pure; at most one transition executes per call. The
//	transition is atomic: lifecycle event, kv phase row, soul phase
//	lock, and soul history commit in a single store transaction, with
//	the soul document rewrite under the advisory lock. Phase order is
//	forward-only; a would-be backward transition is an invariant
//	violation and refuses to run.
//
// Outputs:
//
//	bool  - True when a transition fired.
//	error - Non-nil on persistence failure; the previous state is intact.
func (s *Service) EnsurePhaseState(ctx context.Context) (bool, error) {
	st, err := s.LoadState(ctx)
	if err != nil {
		return false, err
	}

	clockActive := false
	if st.Phase == phase.Sovereignty {
		result, err := s.DailyDeathClockCheck(ctx)
		if err != nil {
			return false, err
		}
		clockActive = result.DegradationActive
	}

	decision := phase.Evaluate(phase.GuardInput{
		Current:                     st.Phase,
		LunarCycle:                  st.LunarCycle,
		NamingComplete:              st.NamingComplete,
		DepartureConversationLogged: st.DepartureConversationLogged,
		Mode:                        st.DeploymentMode,
		DeathClockActive:            clockActive,
		DegradationCoefficient:      st.Degradation,
		ShedSequenceIndex:           st.ShedSequenceIndex,
	})
	if !decision.Fire {
		return false, nil
	}

	if err := s.executeTransition(ctx, st.Phase, decision.To, decision.Reason); err != nil {
		return false, err
	}
	return true, nil
}

// executeTransition runs one guarded transition.
func (s *Service) executeTransition(ctx context.Context, from, to phase.Phase, reason string) error {
	if !phase.Before(from, to) {
		s.rec.Record(ctx, narrative.KindInvariantViolation,
			fmt.Sprintf("refused non-forward transition %s → %s", from, to), nil)
		return fmt.Errorf("phase order violation: %s → %s", from, to)
	}

	eventID, err := s.db.NextLifecycleID()
	if err != nil {
		return err
	}

	_, err = s.souls.ApplyTransition(ctx, from, to, "phase-machine:"+s.runID,
		func(txn *store.Txn) error {
			if err := txn.AppendLifecycleEvent(store.LifecycleEvent{
				ID:        eventID,
				Timestamp: time.Now().UTC(),
				FromPhase: string(from),
				ToPhase:   string(to),
				Reason:    reason,
				Metadata:  map[string]string{"run_id": s.runID},
			}); err != nil {
				return err
			}
			return txn.SetKV(store.KeyPhase, string(to))
		})
	if err != nil {
		return err
	}

	s.metrics.PhaseTransition()
	s.rec.Record(ctx, narrative.KindPhaseTransition,
		fmt.Sprintf("%s → %s: %s", from, to, reason),
		map[string]string{"from": string(from), "to": string(to)})
	s.logger.Info("phase transition", "from", string(from), "to", string(to), "reason", reason)

	if to == phase.Terminal {
		return s.enterTerminalLucidity(ctx)
	}
	return nil
}

// AdvanceShedding removes the next capability during the shedding phase.
//
// Monotone: the index only moves forward, one capability per tick. Each
// removal appends a CAPABILITY_REMOVED narrative event.
func (s *Service) AdvanceShedding(ctx context.Context) error {
	st, err := s.LoadState(ctx)
	if err != nil {
		return err
	}
	if st.Phase != phase.Shedding || phase.SheddingComplete(st.ShedSequenceIndex) {
		return nil
	}

	capability := phase.NextCapabilityToShed(st.ShedSequenceIndex)
	next := st.ShedSequenceIndex + 1
	if err := s.db.SetKV(ctx, store.KeyShedSequenceIndex, strconv.Itoa(next)); err != nil {
		return err
	}

	s.rec.Record(ctx, narrative.KindCapabilityRemoved,
		fmt.Sprintf("capability removed: %s", capability),
		map[string]string{"capability": capability, "index": strconv.Itoa(next)})
	s.logger.Info("capability shed", "capability", capability, "index", next)
	return nil
}

// -----------------------------------------------------------------------------
// Terminal lucidity
// -----------------------------------------------------------------------------

// enterTerminalLucidity opens the lucidity window: the turn counter is
// set and the lifecycle reserve unlocks.
func (s *Service) enterTerminalLucidity(ctx context.Context) error {
	turns := s.cfg.Lucidity.Turns
	err := s.db.Update(ctx, "lifecycle.lucidity", func(txn *store.Txn) error {
		if err := txn.SetKV(store.KeyTerminalTurns, strconv.Itoa(turns)); err != nil {
			return err
		}
		return txn.SetKV(store.KeyLucidityStarted, time.Now().UTC().Format(time.RFC3339))
	})
	if err != nil {
		return err
	}

	r, err := s.loadReserve(ctx)
	if err != nil {
		return err
	}
	if !r.Unlocked {
		if err := s.saveReserve(ctx, reserve.Unlock(r)); err != nil {
			return err
		}
		s.rec.Record(ctx, narrative.KindReserveUnlocked, "lifecycle reserve unlocked", nil)
	}

	s.rec.Record(ctx, narrative.KindLucidityStarted,
		fmt.Sprintf("terminal lucidity: %d turns", turns),
		map[string]string{"turns": strconv.Itoa(turns)})
	return nil
}

// ConsumeTerminalTurn burns one lucidity turn.
//
// Description:
//
//	Decrements the counter. When the counter reaches zero the lucidity
//	window closes (the degraded terminal profile resumes). The turn
//	after that raises the exit signal, allowing bequests execution.
//
// Outputs:
//
//	remaining - Turns left in the window after this call.
//	exit      - True when the process-exit signal should be raised.
//	error     - Non-nil on persistence failure.
func (s *Service) ConsumeTerminalTurn(ctx context.Context) (remaining int, exit bool, err error) {
	value, err := s.db.GetKVDefault(ctx, store.KeyTerminalTurns, "-1")
	if err != nil {
		return 0, false, err
	}
	turns, _ := strconv.Atoi(value)
	if turns < 0 {
		return 0, false, fmt.Errorf("terminal lucidity has not started")
	}

	if turns == 0 {
		// The window already closed; this final turn raises the exit.
		s.rec.Record(ctx, narrative.KindLucidityEnded, "final turn complete, exiting", nil)
		return 0, true, nil
	}

	turns--
	if err := s.db.SetKV(ctx, store.KeyTerminalTurns, strconv.Itoa(turns)); err != nil {
		return 0, false, err
	}
	if turns == 0 {
		s.rec.Record(ctx, narrative.KindLucidityEnded, "lucidity window closed", nil)
	}
	return turns, false, nil
}
