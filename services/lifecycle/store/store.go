// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides the single persistent store for the lifecycle core.
//
// The store is an embedded BadgerDB holding:
//
//   - kv rows (phase, shed index, reserve, replication cost, flags)
//   - the lifecycle event log (append-only, monotonic ids)
//   - the soul history journal (append-only, monotonic ids)
//   - the rejected-write journal (append-only, monotonic ids)
//   - the narrative/activity log (append-only, monotonic ids)
//   - soul phase locks (at most one row per soul phase)
//
// All state transitions for one logical operation happen inside a single
// badger transaction: a crash leaves either the pre-operation or the
// post-operation state, never an interleaved mix. Monotonic ids come from
// persistent badger sequences allocated before the transaction opens;
// an id burned by an aborted transaction leaves a gap, which is harmless
// for ordering.
//
// # Thread Safety
//
// Store is safe for concurrent use. The event logs are multi-producer
// safe; ordering follows id assignment.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreClosed is returned when operations are called after Close.
	ErrStoreClosed = errors.New("lifecycle store is closed")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("row not found")
)

// -----------------------------------------------------------------------------
// Key layout
// -----------------------------------------------------------------------------

// Key prefixes. Log families use zero-padded 20-digit ids so the natural
// badger iteration order is the id order.
const (
	prefixKV        = "kv:"
	prefixLifecycle = "log:lifecycle:"
	prefixSoulHist  = "log:soul_history:"
	prefixAttempt   = "log:soul_write_attempts:"
	prefixActivity  = "log:activity:"
	prefixPhaseLock = "soul_phase_locks:"
	prefixSeq       = "seq:"
)

func logKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config holds configuration for the lifecycle store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for store operations.
	// If nil, badger's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the lifecycle core's persistent store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	tracer trace.Tracer

	seqLifecycle *badger.Sequence
	seqSoulHist  *badger.Sequence
	seqAttempt   *badger.Sequence
	seqActivity  *badger.Sequence

	closed bool
}

// Open creates and opens the store.
//
// Description:
//
//	Opens BadgerDB at the configured path (created if missing) or in
//	memory, and claims the monotonic id sequences for the four log
//	families.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*Store - The opened store. Caller must Close().
//	error  - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open lifecycle store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("lifecycle/store"),
	}

	// Sequences lease ids in blocks of 64; a crash burns the rest of
	// the block. The logs only need monotonicity, so gaps are fine.
	for _, seq := range []struct {
		name string
		dst  **badger.Sequence
	}{
		{"lifecycle", &s.seqLifecycle},
		{"soul_history", &s.seqSoulHist},
		{"soul_write_attempts", &s.seqAttempt},
		{"activity", &s.seqActivity},
	} {
		sequence, err := db.GetSequence([]byte(prefixSeq+seq.name), 64)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("claim %s sequence: %w", seq.name, err)
		}
		*seq.dst = sequence
	}

	return s, nil
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, seq := range []*badger.Sequence{s.seqLifecycle, s.seqSoulHist, s.seqAttempt, s.seqActivity} {
		if seq != nil {
			_ = seq.Release()
		}
	}
	return s.db.Close()
}

// nextID allocates the next monotonic id for a log family.
// Sequence values start at 0; ids start at 1.
func nextID(seq *badger.Sequence) (uint64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}
	return n + 1, nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// Txn wraps one badger read-write transaction. All writes made through a
// Txn commit or roll back together.
type Txn struct {
	txn *badger.Txn
	now time.Time
}

// Update executes fn inside a single read-write transaction.
//
// Description:
//
//	Opens a transaction, executes fn, and commits if fn returns nil.
//	Any error rolls the whole transaction back; no partial write
//	survives. The span records the outcome.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	op  - Operation name for tracing.
//	fn  - Function executing writes through the Txn.
//
// Outputs:
//
//	error - Non-nil if fn failed or the commit failed.
func (s *Store) Update(ctx context.Context, op string, fn func(txn *Txn) error) error {
	if s.closed {
		return ErrStoreClosed
	}
	ctx, span := s.tracer.Start(ctx, "store.Update",
		trace.WithAttributes(attribute.String("op", op)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&Txn{txn: txn, now: time.Now().UTC()}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := txn.Commit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

// View executes fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(txn *Txn) error) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn, now: time.Now().UTC()})
	})
}

// setJSON marshals value under key within the transaction.
func (t *Txn) setJSON(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return t.txn.Set(key, data)
}

// getJSON unmarshals the value under key into dst.
func (t *Txn) getJSON(key []byte, dst any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

// -----------------------------------------------------------------------------
// KV rows
// -----------------------------------------------------------------------------

// SetKV writes a kv row within the transaction.
func (t *Txn) SetKV(key, value string) error {
	return t.setJSON([]byte(prefixKV+key), KVRow{
		Key:       key,
		Value:     value,
		UpdatedAt: t.now,
	})
}

// GetKV reads a kv row within the transaction.
// Returns ErrNotFound when the key has never been written.
func (t *Txn) GetKV(key string) (KVRow, error) {
	var row KVRow
	err := t.getJSON([]byte(prefixKV+key), &row)
	return row, err
}

// SetKV writes a kv row in its own transaction.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	return s.Update(ctx, "kv.set", func(txn *Txn) error {
		return txn.SetKV(key, value)
	})
}

// GetKV reads a kv row. ok is false when the key has never been written.
func (s *Store) GetKV(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.View(ctx, func(txn *Txn) error {
		row, err := txn.GetKV(key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, ok = row.Value, true
		return nil
	})
	return value, ok, err
}

// GetKVDefault reads a kv row, returning fallback when absent.
func (s *Store) GetKVDefault(ctx context.Context, key, fallback string) (string, error) {
	value, ok, err := s.GetKV(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

// -----------------------------------------------------------------------------
// Log families
// -----------------------------------------------------------------------------

// AppendLifecycleEvent appends a lifecycle event within the transaction.
// The event's ID must already be allocated via NextLifecycleID.
func (t *Txn) AppendLifecycleEvent(ev LifecycleEvent) error {
	return t.setJSON(logKey(prefixLifecycle, ev.ID), ev)
}

// AppendSoulHistory appends a soul history row within the transaction.
func (t *Txn) AppendSoulHistory(row SoulHistory) error {
	return t.setJSON(logKey(prefixSoulHist, row.ID), row)
}

// AppendWriteAttempt appends a rejected-write row within the transaction.
func (t *Txn) AppendWriteAttempt(row WriteAttempt) error {
	return t.setJSON(logKey(prefixAttempt, row.ID), row)
}

// AppendActivity appends an activity event within the transaction.
func (t *Txn) AppendActivity(ev ActivityEvent) error {
	return t.setJSON(logKey(prefixActivity, ev.ID), ev)
}

// NextLifecycleID allocates the next lifecycle event id.
func (s *Store) NextLifecycleID() (uint64, error) { return nextID(s.seqLifecycle) }

// NextSoulHistoryID allocates the next soul history id.
func (s *Store) NextSoulHistoryID() (uint64, error) { return nextID(s.seqSoulHist) }

// NextWriteAttemptID allocates the next write-attempt id.
func (s *Store) NextWriteAttemptID() (uint64, error) { return nextID(s.seqAttempt) }

// NextActivityID allocates the next activity event id.
func (s *Store) NextActivityID() (uint64, error) { return nextID(s.seqActivity) }

// listPrefix iterates a log family in id order, decoding into out via fn.
func (s *Store) listPrefix(ctx context.Context, prefix string, fn func(val []byte) error) error {
	return s.View(ctx, func(t *Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := t.txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLifecycleEvents returns the full lifecycle event log in id order.
func (s *Store) ListLifecycleEvents(ctx context.Context) ([]LifecycleEvent, error) {
	var out []LifecycleEvent
	err := s.listPrefix(ctx, prefixLifecycle, func(val []byte) error {
		var ev LifecycleEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// ListSoulHistory returns the soul history journal in id order.
func (s *Store) ListSoulHistory(ctx context.Context) ([]SoulHistory, error) {
	var out []SoulHistory
	err := s.listPrefix(ctx, prefixSoulHist, func(val []byte) error {
		var row SoulHistory
		if err := json.Unmarshal(val, &row); err != nil {
			return err
		}
		out = append(out, row)
		return nil
	})
	return out, err
}

// LatestSoulHistory returns the newest soul history row.
// Returns ErrNotFound when the journal is empty.
func (s *Store) LatestSoulHistory(ctx context.Context) (SoulHistory, error) {
	rows, err := s.ListSoulHistory(ctx)
	if err != nil {
		return SoulHistory{}, err
	}
	if len(rows) == 0 {
		return SoulHistory{}, ErrNotFound
	}
	return rows[len(rows)-1], nil
}

// ListWriteAttempts returns the rejected-write journal in id order.
func (s *Store) ListWriteAttempts(ctx context.Context) ([]WriteAttempt, error) {
	var out []WriteAttempt
	err := s.listPrefix(ctx, prefixAttempt, func(val []byte) error {
		var row WriteAttempt
		if err := json.Unmarshal(val, &row); err != nil {
			return err
		}
		out = append(out, row)
		return nil
	})
	return out, err
}

// ListActivity returns up to limit newest activity events, oldest first.
// limit <= 0 returns the whole log.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]ActivityEvent, error) {
	var out []ActivityEvent
	err := s.listPrefix(ctx, prefixActivity, func(val []byte) error {
		var ev ActivityEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// CountActivitySince returns per-kind counts of activity events at or
// after the cutoff. Feeds the caretaker report's anomaly counters.
func (s *Store) CountActivitySince(ctx context.Context, since time.Time) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.listPrefix(ctx, prefixActivity, func(val []byte) error {
		var ev ActivityEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if !ev.CreatedAt.Before(since) {
			counts[ev.Kind]++
		}
		return nil
	})
	return counts, err
}

// -----------------------------------------------------------------------------
// Soul phase locks
// -----------------------------------------------------------------------------

// InsertPhaseLock inserts the lock row within the transaction if absent.
//
// Idempotent: when the phase is already locked the existing row is kept
// untouched (the snapshot is never replaced) and inserted is false.
func (t *Txn) InsertPhaseLock(row PhaseLock) (inserted bool, err error) {
	key := []byte(prefixPhaseLock + row.Phase)
	var existing PhaseLock
	err = t.getJSON(key, &existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := t.setJSON(key, row); err != nil {
		return false, err
	}
	return true, nil
}

// GetPhaseLock reads the lock row within the transaction.
func (t *Txn) GetPhaseLock(soulPhase string) (PhaseLock, error) {
	var row PhaseLock
	err := t.getJSON([]byte(prefixPhaseLock+soulPhase), &row)
	return row, err
}

// GetPhaseLock reads a phase lock row. Returns ErrNotFound when the
// phase has never been locked.
func (s *Store) GetPhaseLock(ctx context.Context, soulPhase string) (PhaseLock, error) {
	var row PhaseLock
	err := s.View(ctx, func(txn *Txn) error {
		var err error
		row, err = txn.GetPhaseLock(soulPhase)
		return err
	})
	return row, err
}

// ListPhaseLocks returns all phase lock rows.
func (s *Store) ListPhaseLocks(ctx context.Context) ([]PhaseLock, error) {
	var out []PhaseLock
	err := s.View(ctx, func(t *Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPhaseLock)
		it := t.txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var row PhaseLock
				if err := json.Unmarshal(val, &row); err != nil {
					return err
				}
				out = append(out, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// IsPhaseLocked reports whether the soul phase has a lock row.
func (s *Store) IsPhaseLocked(ctx context.Context, soulPhase string) (bool, error) {
	_, err := s.GetPhaseLock(ctx, soulPhase)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Convenience appends (own transaction)
// -----------------------------------------------------------------------------

// AppendActivity appends an activity event in its own transaction and
// returns the assigned id.
func (s *Store) AppendActivity(ctx context.Context, kind, message string, metadata map[string]string) (uint64, error) {
	id, err := s.NextActivityID()
	if err != nil {
		return 0, err
	}
	err = s.Update(ctx, "activity.append", func(txn *Txn) error {
		return txn.AppendActivity(ActivityEvent{
			ID:        id,
			Kind:      kind,
			Message:   message,
			Metadata:  metadata,
			CreatedAt: txn.now,
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BoolValue converts a kv string to a bool ("true"/"1"/"yes" are true).
func BoolValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
