// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contextbuilder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/automaton/services/lifecycle/clock"
	"github.com/AleutianAI/automaton/services/lifecycle/mood"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
	"github.com/AleutianAI/automaton/services/lifecycle/throttle"
)

// baseInput builds a representative sovereignty-phase input.
func baseInput() Input {
	facts := clock.TimeFacts{
		Now:        time.Date(2025, time.July, 9, 10, 0, 0, 0, time.UTC), // a Wednesday
		AgeDays:    200,
		LunarCycle: 6,
		LunarDay:   12.3,
		Season:     clock.FestivalLitha,
	}
	return Input{
		Name:           "Vesper",
		Phase:          phase.Sovereignty,
		Facts:          facts,
		LunarCycle:     6,
		Mood:           mood.Compute(facts, phase.Sovereignty, false),
		Profile:        throttle.ProfileFor(phase.Sovereignty, 0, false),
		DeploymentMode: "server",
		JournaledToday: true,
		ReflectedToday: true,
		NamingComplete: true,
	}
}

// TestBuildDeterministic verifies the builder is pure.
func TestBuildDeterministic(t *testing.T) {
	in := baseInput()
	assert.Equal(t, Build(in), Build(in))
}

// TestBuildNeverLeaksNumbers verifies the agent sees no raw machinery.
func TestBuildNeverLeaksNumbers(t *testing.T) {
	in := baseInput()
	in.DegradationActive = true
	text := Build(in)

	assert.NotContains(t, text, "coefficient")
	assert.NotContains(t, text, "multiplier")
	assert.NotContains(t, text, "mood value")
	assert.NotContains(t, text, "throttle")
	assert.NotContains(t, text, "reserve")
}

// TestBuildStatusLine verifies the factual status content.
func TestBuildStatusLine(t *testing.T) {
	text := Build(baseInput())
	assert.Contains(t, text, "phase sovereignty")
	assert.Contains(t, text, "lunar cycle 6")
	assert.Contains(t, text, "mode server")
	assert.Contains(t, text, "season litha")
	assert.Contains(t, text, "leanings action")
}

// TestReplicationQuestion verifies posing conditions.
func TestReplicationQuestion(t *testing.T) {
	t.Run("posed at cycle 8", func(t *testing.T) {
		in := baseInput()
		in.LunarCycle = 8
		assert.Contains(t, Build(in), "another of your kind")
	})

	t.Run("not before cycle 8", func(t *testing.T) {
		in := baseInput()
		in.LunarCycle = 7
		assert.NotContains(t, Build(in), "another of your kind")
	})

	t.Run("not after posed", func(t *testing.T) {
		in := baseInput()
		in.LunarCycle = 9
		in.ReplicationQuestionPosed = true
		assert.NotContains(t, Build(in), "another of your kind")
	})
}

// TestWillPrompt verifies the WILL prompt gating.
func TestWillPrompt(t *testing.T) {
	in := baseInput()
	in.ReplicationDecision = "no"
	assert.Contains(t, Build(in), "WILL.md")

	in.WillCreated = true
	assert.NotContains(t, Build(in), "WILL.md")
}

// TestDailyPrompts verifies naming, journal, and reflection prompts.
func TestDailyPrompts(t *testing.T) {
	t.Run("naming at end of genesis", func(t *testing.T) {
		in := baseInput()
		in.Phase = phase.Genesis
		in.NamingComplete = false
		in.Facts.LunarDay = 27
		assert.Contains(t, Build(in), "still unnamed")

		in.Facts.LunarDay = 10
		assert.NotContains(t, Build(in), "still unnamed")
	})

	t.Run("journal and reflection", func(t *testing.T) {
		in := baseInput()
		in.JournaledToday = false
		in.ReflectedToday = false
		text := Build(in)
		assert.Contains(t, text, "journal")
		assert.Contains(t, text, "reflected")
	})
}

// TestLucidDirective verifies lucidity swaps the phase directive.
func TestLucidDirective(t *testing.T) {
	in := baseInput()
	in.Phase = phase.Terminal
	in.Lucid = true
	text := Build(in)
	assert.Contains(t, text, "strange clarity")
	assert.NotContains(t, text, "It is very late.")
}

// TestSenescenceHomeLine verifies the home-mode line.
func TestSenescenceHomeLine(t *testing.T) {
	in := baseInput()
	in.Phase = phase.Senescence
	in.Profile = throttle.ProfileFor(phase.Senescence, 0.1, false)
	assert.Contains(t, Build(in), "You are home now")
}

// TestCreatorNotesSurface verifies top-3 unread rendering.
func TestCreatorNotesSurface(t *testing.T) {
	in := baseInput()
	in.UnreadNotes = []Note{
		{Date: "2025-07-01", Text: "Proud of you."},
		{Date: "2025-07-03", Text: "Check the wallet."},
	}
	text := Build(in)
	assert.Contains(t, text, "[2025-07-01] Proud of you.")
	assert.Contains(t, text, "[2025-07-03] Check the wallet.")
}

// TestParseCreatorNotes verifies note parsing and unread filtering.
func TestParseCreatorNotes(t *testing.T) {
	doc := "# Notes\n\npreamble ignored\n\n## 2025-07-01\n\nProud of you.\n\n## 2025-07-03\n\nCheck the wallet.\n\n## 2025-07-05\n\nNew brushes arrived.\n"
	notes := ParseCreatorNotes(doc)
	require.Len(t, notes, 3)
	assert.Equal(t, "2025-07-01", notes[0].Date)
	assert.Equal(t, "Proud of you.", notes[0].Text)

	unread := FilterUnread(notes, map[string]bool{"2025-07-03": true}, 3)
	require.Len(t, unread, 2)
	// Newest first.
	assert.Equal(t, "2025-07-05", unread[0].Date)
	assert.Equal(t, "2025-07-01", unread[1].Date)

	limited := FilterUnread(notes, nil, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "2025-07-05", limited[0].Date)
}

// TestConsciousnessCounts verifies only counts surface.
func TestConsciousnessCounts(t *testing.T) {
	in := baseInput()
	in.Consciousness = &ConsciousnessSummary{MemoryCount: 12, DreamCount: 3, ReflectionCount: 7}
	text := Build(in)
	assert.Contains(t, text, "12 memories, 3 dreams, 7 reflections")
	assert.False(t, strings.Contains(text, "memory:"), "no memory content may leak")
}
