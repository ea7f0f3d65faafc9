// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package heartbeat runs the lifecycle daemon ticker.
//
// The heartbeat is the second logical thread of control beside the
// agent loop. Each tick runs, in order: mood recompute, the daily death
// clock check (once per UTC day), phase guard evaluation, the shedding
// advance (on its own cadence), the caretaker report, and the creator
// notes sync (once per UTC day). The tick interval is the configured
// base times the capacity heartbeat multiplier, so replication cost,
// mood, and degradation all slow or quicken the pulse without the agent
// being told.
//
// Every task runs under a bounded deadline. Task failures are logged
// and the daemon continues, except death clock corruption, which is
// fatal, and repeated phase machine failures, which pause the phase
// machine (the rest of the heartbeat continues) until an operator
// resumes it.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// phaseFailurePauseThreshold is the consecutive-failure count that
// pauses the phase machine.
const phaseFailurePauseThreshold = 3

// taskTimeout bounds each task invocation.
const taskTimeout = 30 * time.Second

// ErrFatal wraps task errors that must stop the daemon.
var ErrFatal = errors.New("fatal heartbeat task failure")

// Tasks is the work a heartbeat tick drives. The lifecycle service
// implements it.
type Tasks interface {
	// RecomputeMood refreshes the mood and capacity metrics.
	RecomputeMood(ctx context.Context) error

	// DailyCheck runs the idempotent death clock check. An error
	// wrapping ErrFatal stops the daemon.
	DailyCheck(ctx context.Context) error

	// EnsurePhase evaluates the transition guard.
	EnsurePhase(ctx context.Context) error

	// AdvanceShedding removes the next capability when shedding.
	AdvanceShedding(ctx context.Context) error

	// CaretakerReport emits the operator-facing status summary.
	CaretakerReport(ctx context.Context) error

	// SyncCreatorNotes refreshes the creator notes.
	SyncCreatorNotes(ctx context.Context) error

	// TickInterval returns the effective interval to the next tick.
	TickInterval(ctx context.Context) time.Duration
}

// Config configures the daemon cadence.
type Config struct {
	// SheddingInterval spaces shedding advances.
	SheddingInterval time.Duration

	// CaretakerInterval spaces caretaker reports.
	CaretakerInterval time.Duration

	// Logger for daemon events. Default: slog.Default().
	Logger *slog.Logger
}

// Daemon is the heartbeat ticker.
type Daemon struct {
	tasks  Tasks
	cfg    Config
	logger *slog.Logger

	phasePaused   atomic.Bool
	phaseFailures int

	lastCheckDay  string
	lastNotesDay  string
	lastShedding  time.Time
	lastCaretaker time.Time
}

// New creates the daemon.
func New(tasks Tasks, cfg Config) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{tasks: tasks, cfg: cfg, logger: logger}
}

// PhasePaused reports whether the phase machine is paused.
func (d *Daemon) PhasePaused() bool {
	return d.phasePaused.Load()
}

// ResumePhase clears the pause after operator acknowledgement.
func (d *Daemon) ResumePhase() {
	d.phaseFailures = 0
	d.phasePaused.Store(false)
	d.logger.Info("phase machine resumed by operator")
}

// Run drives ticks until ctx is cancelled.
//
// Outputs:
//
//	error - nil on cancellation; non-nil only for fatal task failures.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("heartbeat daemon started")
	for {
		if err := d.tick(ctx); err != nil {
			return err
		}

		interval := d.tasks.TickInterval(ctx)
		if interval <= 0 {
			interval = time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("heartbeat daemon stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one heartbeat cycle immediately. Exposed for the serve
// command's startup tick and for tests.
func (d *Daemon) Tick(ctx context.Context) error {
	return d.tick(ctx)
}

func (d *Daemon) tick(ctx context.Context) error {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")

	d.runTask(ctx, "mood", d.tasks.RecomputeMood)

	if d.lastCheckDay != today {
		ok, err := d.runFatalTask(ctx, "death_clock", d.tasks.DailyCheck)
		if err != nil {
			return err
		}
		if ok {
			d.lastCheckDay = today
		}
	}

	if !d.phasePaused.Load() {
		if ok := d.runTask(ctx, "phase", d.tasks.EnsurePhase); ok {
			d.phaseFailures = 0
		} else {
			d.phaseFailures++
			if d.phaseFailures >= phaseFailurePauseThreshold {
				d.phasePaused.Store(true)
				d.logger.Error("phase machine paused after repeated failures",
					"failures", d.phaseFailures)
			}
		}
	}

	if d.cfg.SheddingInterval > 0 && now.Sub(d.lastShedding) >= d.cfg.SheddingInterval {
		if d.runTask(ctx, "shedding", d.tasks.AdvanceShedding) {
			d.lastShedding = now
		}
	}

	if d.cfg.CaretakerInterval > 0 && now.Sub(d.lastCaretaker) >= d.cfg.CaretakerInterval {
		if d.runTask(ctx, "caretaker", d.tasks.CaretakerReport) {
			d.lastCaretaker = now
		}
	}

	if d.lastNotesDay != today {
		if d.runTask(ctx, "creator_notes", d.tasks.SyncCreatorNotes) {
			d.lastNotesDay = today
		}
	}

	return nil
}

// runTask executes one bounded task; failures are logged, not fatal.
func (d *Daemon) runTask(ctx context.Context, name string, fn func(context.Context) error) bool {
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	if err := fn(taskCtx); err != nil {
		d.logger.Error("heartbeat task failed", "task", name, "error", err.Error())
		return false
	}
	return true
}

// runFatalTask executes one bounded task; ErrFatal-wrapped errors stop
// the daemon. ok reports whether the task succeeded.
func (d *Daemon) runFatalTask(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	err := fn(taskCtx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrFatal) {
		d.logger.Error("fatal heartbeat task", "task", name, "error", err.Error())
		return false, err
	}
	d.logger.Error("heartbeat task failed", "task", name, "error", err.Error())
	return false, nil
}
