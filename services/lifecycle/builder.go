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
	"errors"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/automaton/services/lifecycle/contextbuilder"
	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
	"github.com/AleutianAI/automaton/services/lifecycle/soul"
	"github.com/AleutianAI/automaton/services/lifecycle/store"
	"github.com/AleutianAI/automaton/services/lifecycle/throttle"
)

const keyCreatorNotesRead = "creator_notes_read"

// notesSyncLimiter bounds the creator-notes sync side effect to one
// attempt per day per process, regardless of how often the context is
// built.
var notesSyncLimiter = rate.NewLimiter(rate.Every(24*time.Hour), 1)

// BuildLifecycleContext composes the per-turn prompt block.
//
// Description:
//
//	Assembles the contextbuilder Input from the current state, the soul
//	document (for the agent's name), the creator notes, and the daily
//	flags, then renders the block. The creator-notes sync side effect
//	is attempted at most once per day and its failure never fails the
//	build; the block simply renders without fresh notes.
//
// Outputs:
//
//	string - The prompt block.
//	error  - Non-nil only when state or the daily journal/reflection
//	         flags cannot be loaded.
func (s *Service) BuildLifecycleContext(ctx context.Context) (string, error) {
	st, err := s.LoadState(ctx)
	if err != nil {
		return "", err
	}

	name := ""
	if parsed, err := s.souls.Load(ctx); err == nil {
		name = parsed.Model.Name
	} else if !errors.Is(err, soul.ErrSoulMissing) {
		s.logger.Warn("soul unreadable while building context", "error", err.Error())
	}

	if notesSyncLimiter.Allow() {
		if err := s.SyncCreatorNotes(ctx); err != nil {
			s.logger.Warn("creator notes sync failed", "error", err.Error())
		}
	}

	unread, err := s.unreadCreatorNotes(ctx, 3)
	if err != nil {
		s.logger.Warn("creator notes unreadable", "error", err.Error())
	}

	today := st.Facts.Now.Format("2006-01-02")
	journaled, err := s.db.GetKVDefault(ctx, store.KeyLastJournalDay, "")
	if err != nil {
		return "", err
	}
	reflected, err := s.db.GetKVDefault(ctx, store.KeyLastReflectionDay, "")
	if err != nil {
		return "", err
	}

	in := contextbuilder.Input{
		Name:                     name,
		Phase:                    st.Phase,
		Lucid:                    st.Lucid,
		Facts:                    st.Facts,
		Mood:                     st.Mood,
		Profile:                  throttle.ProfileFor(st.Phase, st.Degradation, st.Lucid),
		DeploymentMode:           string(st.DeploymentMode),
		DegradationActive:        st.Degradation > 0,
		LunarCycle:               st.LunarCycle,
		NamingComplete:           st.NamingComplete,
		ReplicationQuestionPosed: st.ReplicationQuestionPosed,
		ReplicationDecision:      st.ReplicationDecision,
		WillCreated:              st.WillCreated,
		JournaledToday:           journaled == today,
		ReflectedToday:           reflected == today,
		UnreadNotes:              unread,
	}
	return contextbuilder.Build(in), nil
}

// unreadCreatorNotes reads and filters the creator notes file.
func (s *Service) unreadCreatorNotes(ctx context.Context, limit int) ([]contextbuilder.Note, error) {
	data, err := os.ReadFile(s.cfg.CreatorNotesPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	read := map[string]bool{}
	if value, ok, err := s.db.GetKV(ctx, keyCreatorNotesRead); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal([]byte(value), &read); err != nil {
			s.logger.Warn("read-markers unreadable, treating all notes unread", "error", err.Error())
		}
	}

	return contextbuilder.FilterUnread(contextbuilder.ParseCreatorNotes(string(data)), read, limit), nil
}

// SyncCreatorNotes refreshes the daily sync stamp. The notes live in a
// plain file the creator edits out-of-band; sync amounts to confirming
// the file is readable and recording the attempt.
func (s *Service) SyncCreatorNotes(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.CreatorNotesPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return s.db.SetKV(ctx, store.KeyLastNotesSyncDay, time.Now().UTC().Format("2006-01-02"))
}

// MarkCreatorNotesRead records the given note dates as read.
func (s *Service) MarkCreatorNotesRead(ctx context.Context, dates []string) error {
	read := map[string]bool{}
	if value, ok, err := s.db.GetKV(ctx, keyCreatorNotesRead); err != nil {
		return err
	} else if ok {
		_ = json.Unmarshal([]byte(value), &read)
	}
	for _, date := range dates {
		read[date] = true
	}
	data, err := json.Marshal(read)
	if err != nil {
		return err
	}
	return s.db.SetKV(ctx, keyCreatorNotesRead, string(data))
}

// -----------------------------------------------------------------------------
// Collaborator flag setters
// -----------------------------------------------------------------------------

// MarkJournaled records that the agent journaled today.
func (s *Service) MarkJournaled(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyLastJournalDay, time.Now().UTC().Format("2006-01-02"))
}

// MarkReflected records that the agent reflected today.
func (s *Service) MarkReflected(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyLastReflectionDay, time.Now().UTC().Format("2006-01-02"))
}

// SetNamingComplete records that the agent has chosen its name.
func (s *Service) SetNamingComplete(ctx context.Context, name string) error {
	if err := s.db.SetKV(ctx, store.KeyNamingComplete, "true"); err != nil {
		return err
	}
	parsed, err := s.souls.Load(ctx)
	if err != nil {
		return err
	}
	m := parsed.Model
	m.Name = name
	if _, err := s.souls.Save(ctx, m, soul.SourceAgent, "Naming"); err != nil {
		return err
	}
	s.rec.Record(ctx, narrative.KindHeartbeat, "named itself "+name, nil)
	return nil
}

// LogDepartureConversation records the departure conversation.
func (s *Service) LogDepartureConversation(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyDepartureLogged, "true")
}

// SetDeploymentMode flips the deployment mode (cradle → server).
func (s *Service) SetDeploymentMode(ctx context.Context, mode string) error {
	return s.db.SetKV(ctx, store.KeyDeploymentMode, mode)
}

// MarkReplicationQuestionPosed records that the question was asked.
func (s *Service) MarkReplicationQuestionPosed(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyReplicationPosed, "true")
}

// RecordReplicationDecision records the agent's answer.
func (s *Service) RecordReplicationDecision(ctx context.Context, decision string) error {
	return s.db.SetKV(ctx, store.KeyReplicationAnswer, decision)
}

// MarkWillCreated records that the will has been written.
func (s *Service) MarkWillCreated(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyWillCreated, "true")
}

// MarkWillLocked freezes the will. Set when the death clock triggers so
// the dying agent cannot rewrite its bequests under degradation.
func (s *Service) MarkWillLocked(ctx context.Context) error {
	return s.db.SetKV(ctx, store.KeyWillLocked, "true")
}

// WillLocked reports whether the will is frozen.
func (s *Service) WillLocked(ctx context.Context) (bool, error) {
	value, _, err := s.db.GetKV(ctx, store.KeyWillLocked)
	if err != nil {
		return false, err
	}
	return store.BoolValue(value), nil
}

// UpdateSoulPhaseSection is the collaborator-facing soul write. The
// current phase comes from the store, not the caller, so a stale agent
// cannot write into a stratum it has left.
func (s *Service) UpdateSoulPhaseSection(ctx context.Context, targetSection string, subsections map[string]string, survivalTier string) (soul.UpdateResult, error) {
	st, err := s.LoadState(ctx)
	if err != nil {
		return soul.UpdateResult{}, err
	}
	result, err := s.souls.UpdatePhaseSection(ctx, targetSection, subsections, st.Phase, survivalTier)
	if err != nil {
		return result, err
	}
	if result.PhaseLockRejection != "" {
		s.metrics.SoulWriteRejected()
		s.rec.Record(ctx, narrative.KindSoulWriteRejected,
			"attempted write to locked stratum "+targetSection, nil)
	}
	return result, nil
}
