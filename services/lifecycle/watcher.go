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
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
	"github.com/AleutianAI/automaton/services/lifecycle/soul"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
)

// WatchSoul watches the identity document for external edits.
//
// Description:
//
//	The store's own writes land as atomic renames whose content matches
//	the newest soul history row. Any on-disk content that does not
//	match the journal was written by someone else (the creator, or an
//	intruder) and is surfaced as a SOUL_EXTERNAL_EDIT narrative event.
//
//	Blocks until ctx is cancelled. Watch failures degrade to a logged
//	warning; external-edit detection is best-effort by design.
//
// Inputs:
//
//	ctx - Cancellation context; cancelling stops the watcher.
//
// Outputs:
//
//	error - Non-nil if the watcher cannot start.
func (s *Service) WatchSoul(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create soul watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file node, and a
	// directory watch survives that.
	dir := filepath.Dir(s.souls.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	soulName := filepath.Base(s.souls.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != soulName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.checkExternalEdit(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("soul watcher error", "error", err.Error())
		}
	}
}

// checkExternalEdit compares the on-disk document with the journal head.
func (s *Service) checkExternalEdit(ctx context.Context) {
	data, err := os.ReadFile(s.souls.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("soul unreadable during watch", "error", err.Error())
		}
		return
	}

	parsed, err := soul.Parse(string(data))
	if err != nil {
		return
	}

	latest, err := s.db.LatestSoulHistory(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("soul journal unreadable during watch", "error", err.Error())
		return
	}

	if parsed.ContentHash == latest.ContentHash {
		return // our own write landing
	}

	s.rec.Record(ctx, narrative.KindSoulExternalEdit,
		"identity document changed outside the store",
		map[string]string{
			"journal_hash": shortHash(latest.ContentHash),
			"disk_hash":    shortHash(parsed.ContentHash),
		})
	s.logger.Warn("external soul edit detected",
		"journal_hash", shortHash(latest.ContentHash),
		"disk_hash", shortHash(parsed.ContentHash),
	)
}

// shortHash abbreviates a content hash for logs.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return strings.Clone(hash)
}
