// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/automaton/services/lifecycle/lock"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownSection is returned for section names with no soul phase.
	ErrUnknownSection = errors.New("unknown phase section")

	// ErrSoulMissing is returned when the document does not exist yet.
	ErrSoulMissing = errors.New("soul document does not exist")
)

// ChangeSource values for history rows.
const (
	SourceAgent   = "agent"
	SourceSystem  = "system"
	SourceCreator = "creator"
)

// Store owns the on-disk identity document and its history journal.
//
// Every write cycle holds the advisory lock keyed by the document path:
// (acquire lock, read, modify, commit journal rows, rename file into
// place, release). The badger rows for one logical operation commit in
// a single transaction; the file rename happens after the commit, so a
// crash in between leaves the journal one version ahead of the file,
// which the next Load detects by version comparison and reports.
type Store struct {
	path   string
	guard  *lock.Guard
	db     *store.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewStore creates the soul store for the document at path.
func NewStore(path string, guard *lock.Guard, db *store.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		guard:  guard,
		db:     db,
		logger: logger,
		tracer: otel.Tracer("lifecycle/soul"),
	}
}

// Path returns the document path.
func (st *Store) Path() string {
	return st.path
}

// Load reads and parses the document.
//
// Returns ErrSoulMissing when the file does not exist.
func (st *Store) Load(ctx context.Context) (*ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSoulMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read soul document: %w", err)
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	if latest, err := st.db.LatestSoulHistory(ctx); err == nil && latest.Version > parsed.Model.Version {
		st.logger.Error("soul journal is ahead of the document file",
			"journal_version", latest.Version, "file_version", parsed.Model.Version)
	}
	return parsed, nil
}

// writeFile renders the model and renames it into place atomically.
func (st *Store) writeFile(m *Soul) (content string, err error) {
	content = Write(m)
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create soul directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".soul-*")
	if err != nil {
		return "", fmt.Errorf("create temp soul file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp soul file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp soul file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp soul file: %w", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		return "", fmt.Errorf("replace soul file: %w", err)
	}
	return content, nil
}

// Save persists the model with a history row.
//
// Description:
//
//	Acquires the advisory lock, bumps the version to
//	max(model, journal)+1, commits the history row, and renames the
//	rendered document into place. Used for system and creator writes;
//	agent phase-section writes go through UpdatePhaseSection.
//
// Inputs:
//
//	ctx          - Context for cancellation.
//	m            - The model to persist. Version and UpdatedAt are set.
//	changeSource - History row source (agent / system / creator).
//	changeReason - History row reason.
//
// Outputs:
//
//	int   - The new version.
//	error - Non-nil on lock, journal, or file failure.
func (st *Store) Save(ctx context.Context, m *Soul, changeSource, changeReason string) (int, error) {
	release, err := st.guard.Acquire(st.path)
	if err != nil {
		return 0, fmt.Errorf("acquire soul lock: %w", err)
	}
	defer release()
	return st.saveLocked(ctx, m, changeSource, changeReason, nil)
}

// saveLocked persists the model; the caller holds the advisory lock.
// extraTxn, when non-nil, runs inside the same badger transaction as
// the history row.
func (st *Store) saveLocked(ctx context.Context, m *Soul, changeSource, changeReason string, extraTxn func(txn *store.Txn) error) (int, error) {
	ctx, span := st.tracer.Start(ctx, "soul.save",
		trace.WithAttributes(attribute.String("change_source", changeSource)))
	defer span.End()

	journalVersion := 0
	var previousID uint64
	latest, err := st.db.LatestSoulHistory(ctx)
	switch {
	case err == nil:
		journalVersion = latest.Version
		previousID = latest.ID
	case errors.Is(err, store.ErrNotFound):
		// First version.
	default:
		return 0, fmt.Errorf("read soul journal: %w", err)
	}

	newVersion := m.Version
	if journalVersion > newVersion {
		newVersion = journalVersion
	}
	newVersion++
	m.Version = newVersion
	m.UpdatedAt = time.Now().UTC()

	content := Write(m)
	parsed, err := Parse(content)
	if err != nil {
		return 0, fmt.Errorf("render soul document: %w", err)
	}

	historyID, err := st.db.NextSoulHistoryID()
	if err != nil {
		return 0, err
	}
	err = st.db.Update(ctx, "soul.save", func(txn *store.Txn) error {
		if extraTxn != nil {
			if err := extraTxn(txn); err != nil {
				return err
			}
		}
		return txn.AppendSoulHistory(store.SoulHistory{
			ID:                historyID,
			Version:           newVersion,
			Content:           content,
			ContentHash:       parsed.ContentHash,
			ChangeSource:      changeSource,
			ChangeReason:      changeReason,
			PreviousVersionID: previousID,
			CreatedAt:         time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}

	if _, err := st.writeFile(m); err != nil {
		// The journal committed but the file did not land. The advisory
		// lock makes this window single-writer; the next Load sees the
		// journal ahead of the file and the operator is alerted.
		st.logger.Error("soul journal committed but file write failed",
			"version", newVersion, "error", err.Error())
		return 0, err
	}
	return newVersion, nil
}

// -----------------------------------------------------------------------------
// Write gate
// -----------------------------------------------------------------------------

// IsSectionWritable reports whether the target stratum is writable in
// the given lifecycle phase: true iff the target equals the phase's
// stratum (legacy/shedding/terminal all fold to senescence).
func IsSectionWritable(target Phase, current phase.Phase) bool {
	return target == PhaseFor(current)
}

// UpdateResult is the outcome of an agent phase-section write.
type UpdateResult struct {
	// Success is true when the write landed.
	Success bool `json:"success"`

	// Version is the new document version on success.
	Version int `json:"version,omitempty"`

	// PhaseLockRejection describes a write-gate rejection. Empty on
	// success and on validation failure.
	PhaseLockRejection string `json:"phase_lock_rejection,omitempty"`

	// Errors carries content validation failures.
	Errors []string `json:"errors,omitempty"`
}

// UpdatePhaseSection is the agent-facing soul write pipeline.
//
// Description:
//
//	Resolves the target stratum, checks the write gate, and either:
//
//	 1. Rejected: appends a verbatim rejection record (including content
//	    that would fail the validator; rejections are the experimental
//	    record) and returns a failure carrying PhaseLockRejection. The
//	    document is not touched.
//	 2. Writable: validates the content, merges the subsection updates
//	    (upsert by name, existing order preserved, new names appended in
//	    canonical order), bumps the version, and persists file + history
//	    row under the advisory lock.
//
// Inputs:
//
//	ctx           - Context for cancellation.
//	targetSection - Canonical section name (e.g. "Genesis Core").
//	updates       - Subsection name → text.
//	currentPhase  - The agent's current lifecycle phase.
//	survivalTier  - Optional survival-tier tag recorded on rejections.
//
// Outputs:
//
//	UpdateResult - Typed outcome; rejections are not errors.
//	error        - Non-nil only for persistence failures.
func (st *Store) UpdatePhaseSection(ctx context.Context, targetSection string, updates map[string]string, currentPhase phase.Phase, survivalTier string) (UpdateResult, error) {
	targetPhase, ok := SectionPhase(targetSection)
	if !ok {
		return UpdateResult{Errors: []string{fmt.Sprintf("unknown section %q", targetSection)}}, ErrUnknownSection
	}

	locked, err := st.db.IsPhaseLocked(ctx, string(targetPhase))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("read phase locks: %w", err)
	}

	if locked || !IsSectionWritable(targetPhase, currentPhase) {
		reason := fmt.Sprintf("section %q is locked to phase %s; current phase is %s",
			targetSection, targetPhase, currentPhase)
		if err := st.recordRejection(ctx, targetSection, targetPhase, currentPhase, updates, survivalTier, reason); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{PhaseLockRejection: reason}, nil
	}

	if errs := ValidateContent(updates); len(errs) > 0 {
		return UpdateResult{Errors: errs}, nil
	}

	release, err := st.guard.Acquire(st.path)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("acquire soul lock: %w", err)
	}
	defer release()

	parsed, err := st.Load(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	m := parsed.Model

	section := m.SectionFor(targetPhase)
	if section == nil {
		section = &Section{Phase: targetPhase}
	}
	if section.Locked() {
		// The document itself carries a lock the store missed (e.g. a
		// restored backup). Honor the stricter state.
		reason := fmt.Sprintf("section %q carries a lock in the document", targetSection)
		if err := st.recordRejection(ctx, targetSection, targetPhase, currentPhase, updates, survivalTier, reason); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{PhaseLockRejection: reason}, nil
	}

	section.Subsections = section.Subsections.Merge(updates, mergeOrder(targetPhase, updates))
	m.SetSection(targetPhase, section)

	version, err := st.saveLocked(ctx, m, SourceAgent,
		fmt.Sprintf("Update %s", targetSection), nil)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Success: true, Version: version}, nil
}

// mergeOrder orders update keys: canonical subsections first, then any
// extra names sorted for determinism.
func mergeOrder(p Phase, updates map[string]string) []string {
	var order []string
	seen := make(map[string]bool)
	for _, name := range CanonicalSubsections[p] {
		if _, ok := updates[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}
	var extras []string
	for name := range updates {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(order, extras...)
}

// recordRejection appends a verbatim write-attempt row.
func (st *Store) recordRejection(ctx context.Context, targetSection string, targetPhase Phase, currentPhase phase.Phase, updates map[string]string, survivalTier, reason string) error {
	id, err := st.db.NextWriteAttemptID()
	if err != nil {
		return err
	}
	attempted := Subsections{}
	for _, name := range mergeOrder(targetPhase, updates) {
		attempted = attempted.Upsert(name, updates[name])
	}
	err = st.db.Update(ctx, "soul.reject", func(txn *store.Txn) error {
		return txn.AppendWriteAttempt(store.WriteAttempt{
			ID:               id,
			TargetSection:    targetSection,
			TargetPhase:      string(targetPhase),
			CurrentPhase:     string(currentPhase),
			AttemptedContent: attempted.SnapshotJSON(),
			SurvivalTier:     survivalTier,
			RejectionReason:  reason,
			CreatedAt:        time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	st.logger.Info("soul write rejected",
		"target_section", targetSection,
		"target_phase", string(targetPhase),
		"current_phase", string(currentPhase),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Transition locking
// -----------------------------------------------------------------------------

// ApplyTransition locks the outgoing stratum and rewrites soul metadata
// for a phase transition.
//
// Description:
//
//	Runs the soul half of executeTransition: under the advisory lock,
//	sets LockedAt on the outgoing stratum (if it exists and is not
//	already locked), updates current_phase and phase_transitions, and
//	persists file + history row. The badger rows (phase lock insert,
//	the caller's extra operations (lifecycle event, kv phase), and the
//	history row) commit in one transaction.
//
//	Lock insertion is idempotent: an existing lock row is never
//	replaced and its snapshot is preserved.
//
// Inputs:
//
//	ctx      - Context for cancellation.
//	from     - The outgoing lifecycle phase.
//	to       - The incoming lifecycle phase.
//	lockedBy - Identity recorded on the lock row.
//	extraTxn - The phase machine's same-transaction operations.
//
// Outputs:
//
//	int   - The new soul version.
//	error - Non-nil on any failure. A failure before the commit leaves
//	        no partial state; a file write failure after the commit leaves
//	        the journal one version ahead of the file (see Store).
func (st *Store) ApplyTransition(ctx context.Context, from, to phase.Phase, lockedBy string, extraTxn func(txn *store.Txn) error) (int, error) {
	release, err := st.guard.Acquire(st.path)
	if err != nil {
		return 0, fmt.Errorf("acquire soul lock: %w", err)
	}
	defer release()

	parsed, err := st.Load(ctx)
	if err != nil {
		return 0, err
	}
	m := parsed.Model

	now := time.Now().UTC()
	outgoing := PhaseFor(from)
	incoming := PhaseFor(to)

	var lockRow *store.PhaseLock
	// The stratum only freezes when the transition leaves it behind;
	// legacy → shedding keeps senescence active.
	if outgoing != incoming {
		section := m.SectionFor(outgoing)
		if section == nil {
			section = &Section{Phase: outgoing}
			m.SetSection(outgoing, section)
		}
		if !section.Locked() {
			lockedAt := now
			section.LockedAt = &lockedAt
		}
		lockRow = &store.PhaseLock{
			Phase:           string(outgoing),
			LockedAt:        now,
			LockedBy:        lockedBy,
			ContentSnapshot: section.Subsections.SnapshotJSON(),
		}
	}

	m.CurrentPhase = to
	if m.PhaseTransitions == nil {
		m.PhaseTransitions = map[phase.Phase]time.Time{}
	}
	m.PhaseTransitions[to] = now

	return st.saveLocked(ctx, m, SourceSystem,
		fmt.Sprintf("Phase transition: %s → %s", from, to),
		func(txn *store.Txn) error {
			if lockRow != nil {
				if _, err := txn.InsertPhaseLock(*lockRow); err != nil {
					return err
				}
			}
			if extraTxn != nil {
				return extraTxn(txn)
			}
			return nil
		})
}
