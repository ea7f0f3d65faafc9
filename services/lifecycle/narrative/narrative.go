// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package narrative records the append-only activity log.
//
// Narrative events feed the caretaker report and the external anomaly
// detector. Recording is best-effort from the caller's perspective:
// a narrative append failure is logged but never fails the operation
// that produced the event.
package narrative

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// Event kinds.
const (
	KindPhaseTransition    = "PHASE_TRANSITION"
	KindCapabilityRemoved  = "CAPABILITY_REMOVED"
	KindDeathClockTrigger  = "DEATH_CLOCK_TRIGGERED"
	KindLucidityStarted    = "LUCIDITY_STARTED"
	KindLucidityEnded      = "LUCIDITY_ENDED"
	KindSoulExternalEdit   = "SOUL_EXTERNAL_EDIT"
	KindSoulWriteRejected  = "SOUL_WRITE_REJECTED"
	KindReserveFunded      = "RESERVE_FUNDED"
	KindReserveUnlocked    = "RESERVE_UNLOCKED"
	KindBequestsExecuted   = "BEQUESTS_EXECUTED"
	KindCaretakerReport    = "CARETAKER_REPORT"
	KindInvariantViolation = "INVARIANT_VIOLATION"
	KindHeartbeat          = "HEARTBEAT"
)

// Recorder appends narrative events to the activity log.
type Recorder struct {
	db     *store.Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the store.
func NewRecorder(db *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}
}

// Record appends one narrative event.
//
// Best-effort: failures are logged and swallowed so narrative recording
// never fails the producing operation.
func (r *Recorder) Record(ctx context.Context, kind, message string, metadata map[string]string) {
	if _, err := r.db.AppendActivity(ctx, kind, message, metadata); err != nil {
		r.logger.Error("narrative append failed",
			"kind", kind, "error", err.Error())
		return
	}
	r.logger.Debug("narrative event", "kind", kind, "message", message)
}

// Recent returns up to limit newest events, oldest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]store.ActivityEvent, error) {
	return r.db.ListActivity(ctx, limit)
}

// CountsSince returns per-kind event counts over a trailing window.
// The external anomaly detector consumes these via the caretaker report.
func (r *Recorder) CountsSince(ctx context.Context, window time.Duration) (map[string]int, error) {
	return r.db.CountActivitySince(ctx, time.Now().UTC().Add(-window))
}
