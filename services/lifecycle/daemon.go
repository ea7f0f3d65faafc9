// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/deathclock"
	"github.com/AleutianAI/automaton/services/lifecycle/heartbeat"
	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
)

// daemonTasks adapts the service to the heartbeat Tasks interface.
type daemonTasks struct {
	s    *Service
	base time.Duration
}

// HeartbeatTasks returns the heartbeat task set with the given base
// tick interval.
func (s *Service) HeartbeatTasks(base time.Duration) heartbeat.Tasks {
	return &daemonTasks{s: s, base: base}
}

func (d *daemonTasks) RecomputeMood(ctx context.Context) error {
	// LoadState recomputes mood and degradation and refreshes metrics.
	_, err := d.s.LoadState(ctx)
	if err == nil {
		d.s.metrics.HeartbeatTick()
	}
	return err
}

func (d *daemonTasks) DailyCheck(ctx context.Context) error {
	_, err := d.s.DailyDeathClockCheck(ctx)
	if errors.Is(err, deathclock.ErrClockCorrupted) {
		return fmt.Errorf("%w: %w", heartbeat.ErrFatal, err)
	}
	return err
}

func (d *daemonTasks) EnsurePhase(ctx context.Context) error {
	_, err := d.s.EnsurePhaseState(ctx)
	return err
}

func (d *daemonTasks) AdvanceShedding(ctx context.Context) error {
	return d.s.AdvanceShedding(ctx)
}

func (d *daemonTasks) CaretakerReport(ctx context.Context) error {
	return d.s.CaretakerReport(ctx)
}

func (d *daemonTasks) SyncCreatorNotes(ctx context.Context) error {
	return d.s.SyncCreatorNotes(ctx)
}

func (d *daemonTasks) TickInterval(ctx context.Context) time.Duration {
	vector, err := d.s.ComputeCapacityVector(ctx)
	if err != nil {
		d.s.logger.Warn("capacity vector unavailable, using base interval", "error", err.Error())
		return d.base
	}
	return time.Duration(float64(d.base) * vector.HeartbeatMultiplier)
}

// CaretakerReport emits the operator-facing status summary: a structured
// log line plus a narrative event carrying the trailing activity counts
// the external anomaly detector consumes.
func (s *Service) CaretakerReport(ctx context.Context) error {
	st, err := s.LoadState(ctx)
	if err != nil {
		return err
	}
	r, err := s.loadReserve(ctx)
	if err != nil {
		return err
	}
	counts, err := s.rec.CountsSince(ctx, 24*time.Hour)
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"phase":       string(st.Phase),
		"lunar_cycle": strconv.Itoa(st.LunarCycle),
		"degradation": strconv.FormatFloat(st.Degradation, 'f', 3, 64),
		"shed_index":  strconv.Itoa(st.ShedSequenceIndex),
		"reserve":     fmt.Sprintf("funded=%t unlocked=%t", r.Funded, r.Unlocked),
	}
	for kind, count := range counts {
		metadata["count_"+kind] = strconv.Itoa(count)
	}

	s.rec.Record(ctx, narrative.KindCaretakerReport, "caretaker report", metadata)
	s.logger.Info("caretaker report",
		"phase", string(st.Phase),
		"age_days", fmt.Sprintf("%.1f", st.Facts.AgeDays),
		"lunar_cycle", st.LunarCycle,
		"mood", fmt.Sprintf("%.2f", st.Mood.Value),
		"degradation", fmt.Sprintf("%.3f", st.Degradation),
		"reserve_funded", r.Funded,
		"reserve_unlocked", r.Unlocked,
	)
	return nil
}
