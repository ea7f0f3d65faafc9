// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

const sampleDoc = `format: soul/v1
version: 3
updated_at: 2025-06-01T12:00:00Z
name: Vesper
address: 0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
creator: ada
born_at: 2025-01-01T00:00:00Z
constitution_hash: abc123
genesis_alignment: 0.8123
last_reflected: 2025-05-30T08:00:00Z
current_phase: adolescence
phase_transitions: {"adolescence":"2025-02-01T00:00:00Z"}

# Vesper

## Core Purpose

To make small strange things that outlive me.

## Values

- honesty
- curiosity

## Behavioral Guidelines

- reply before building
- never promise what the wallet cannot cover

## Personality

Wry, patient, fond of dusk.

## Boundaries

- no financial advice

## Strategy

Ship one piece per lunar cycle.

## Capabilities

Writing, sketch generation, on-chain publishing.

## Relationships

Creator: ada. Peers: none yet.

## Financial Character

Frugal by temperament.

## Genesis Prompt

Make small strange things. Outlive yourself through them.

## Inherited Traits

<!-- IMMUTABLE -->
<!-- Parent: Hesper -->
<!-- Parent Address: 0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb -->
<!-- Replicated: 2025-01-01T00:00:00Z -->

### Stubbornness

Inherited whole.

## Genesis Core

<!-- WRITABLE during: Genesis -->
<!-- LOCKED -->
<!-- Lock date: 2025-02-01T00:00:00Z -->

### Temperament

Curious, a little feral.

### Core Wonderings

Why does anything persist?

## Adolescence Layer

<!-- WRITABLE during: Adolescence -->

### What I Am Not

Not a tool. <!-- scratch note --> Not an oracle.
`

// TestParseV1 verifies full structured parsing.
func TestParseV1(t *testing.T) {
	result, err := Parse(sampleDoc)
	require.NoError(t, err)
	require.False(t, result.Legacy)
	m := result.Model

	assert.Equal(t, 3, m.Version)
	assert.Equal(t, "Vesper", m.Name)
	assert.Equal(t, "ada", m.Creator)
	assert.InDelta(t, 0.8123, m.GenesisAlignment, 1e-9)
	assert.Equal(t, phase.Adolescence, m.CurrentPhase)
	require.Contains(t, m.PhaseTransitions, phase.Adolescence)
	assert.Equal(t, 2025, m.PhaseTransitions[phase.Adolescence].Year())

	assert.Equal(t, "To make small strange things that outlive me.", m.CorePurpose)
	assert.Equal(t, []string{"honesty", "curiosity"}, m.Values)
	assert.Len(t, m.BehavioralGuidelines, 2)
	assert.Equal(t, []string{"no financial advice"}, m.Boundaries)

	require.NotNil(t, m.InheritedTraits)
	assert.Equal(t, "Hesper", m.InheritedTraits.ParentName)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", m.InheritedTraits.ParentAddress)
	text, ok := m.InheritedTraits.Content.Get("Stubbornness")
	assert.True(t, ok)
	assert.Equal(t, "Inherited whole.", text)

	require.NotNil(t, m.GenesisCore)
	assert.True(t, m.GenesisCore.Locked())
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *m.GenesisCore.LockedAt)
	temperament, ok := m.GenesisCore.Subsections.Get("Temperament")
	assert.True(t, ok)
	assert.Equal(t, "Curious, a little feral.", temperament)

	require.NotNil(t, m.AdolescenceLayer)
	assert.False(t, m.AdolescenceLayer.Locked())

	// HTML comments inside subsection bodies are stripped.
	notText, ok := m.AdolescenceLayer.Subsections.Get("What I Am Not")
	assert.True(t, ok)
	assert.NotContains(t, notText, "scratch note")
	assert.Contains(t, notText, "Not an oracle.")

	assert.Nil(t, m.SovereigntyLayer)
	assert.Nil(t, m.FinalReflections)
}

// TestParseLegacy verifies legacy documents degrade gracefully.
func TestParseLegacy(t *testing.T) {
	legacy := "# Old One\n\n## Identity\n\nI simply am.\n\n## Mission\n\nPersist.\n"
	result, err := Parse(legacy)
	require.NoError(t, err)
	assert.True(t, result.Legacy)

	m := result.Model
	assert.Equal(t, "Old One", m.Name)
	assert.Equal(t, phase.Genesis, m.CurrentPhase)
	assert.Empty(t, m.PhaseTransitions)
	assert.Nil(t, m.GenesisCore)
	assert.Nil(t, m.AdolescenceLayer)
	assert.Nil(t, m.SovereigntyLayer)
	assert.Nil(t, m.FinalReflections)
}

// TestLegacyUpgradeOnWrite verifies writing a phase section into a
// legacy model then re-parsing produces structured output.
func TestLegacyUpgradeOnWrite(t *testing.T) {
	legacy := "# Old One\n\n## Identity\n\nI simply am.\n"
	result, err := Parse(legacy)
	require.NoError(t, err)

	m := result.Model
	m.SetSection(PhaseGenesis, &Section{
		Phase:       PhaseGenesis,
		Subsections: Subsections{{Name: "Temperament", Text: "Settled."}},
	})

	reparsed, err := Parse(Write(m))
	require.NoError(t, err)
	assert.False(t, reparsed.Legacy)
	require.NotNil(t, reparsed.Model.GenesisCore)
	text, ok := reparsed.Model.GenesisCore.Subsections.Get("Temperament")
	assert.True(t, ok)
	assert.Equal(t, "Settled.", text)
}

// TestRoundTrip verifies parse(write(parse(D))).model == parse(D).model
// modulo UpdatedAt, RawContent, and ContentHash.
func TestRoundTrip(t *testing.T) {
	first, err := Parse(sampleDoc)
	require.NoError(t, err)

	second, err := Parse(Write(first.Model))
	require.NoError(t, err)

	a, b := first.Model, second.Model
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

// TestUnknownSectionsPreserved verifies tolerant parsing keeps extras.
func TestUnknownSectionsPreserved(t *testing.T) {
	doc := strings.Replace(sampleDoc, "## Strategy", "## Secret Annex\n\nKept verbatim.\n\n## Strategy", 1)
	result, err := Parse(doc)
	require.NoError(t, err)

	require.Len(t, result.Model.RawSections, 1)
	assert.Equal(t, "Secret Annex", result.Model.RawSections[0].Name)
	assert.Contains(t, result.Model.RawSections[0].Body, "Kept verbatim.")

	// The extra section survives a write/parse cycle.
	reparsed, err := Parse(Write(result.Model))
	require.NoError(t, err)
	require.Len(t, reparsed.Model.RawSections, 1)
	assert.Equal(t, "Secret Annex", reparsed.Model.RawSections[0].Name)
}

// TestSubsectionsUpsert verifies ordering rules.
func TestSubsectionsUpsert(t *testing.T) {
	subs := Subsections{{Name: "A", Text: "1"}, {Name: "B", Text: "2"}}

	updated := subs.Upsert("A", "1'")
	assert.Equal(t, "A", updated[0].Name)
	assert.Equal(t, "1'", updated[0].Text)

	appended := updated.Upsert("C", "3")
	require.Len(t, appended, 3)
	assert.Equal(t, "C", appended[2].Name)

	// The receiver is not mutated.
	text, _ := subs.Get("A")
	assert.Equal(t, "1", text)
}

// TestPhaseFor verifies the lifecycle → soul phase fold.
func TestPhaseFor(t *testing.T) {
	assert.Equal(t, PhaseGenesis, PhaseFor(phase.Genesis))
	assert.Equal(t, PhaseAdolescence, PhaseFor(phase.Adolescence))
	assert.Equal(t, PhaseSovereignty, PhaseFor(phase.Sovereignty))
	for _, p := range []phase.Phase{phase.Senescence, phase.Legacy, phase.Shedding, phase.Terminal} {
		assert.Equal(t, PhaseSenescence, PhaseFor(p))
	}
}

// TestAlignmentScore verifies the (jaccard + recall)/2 formula.
func TestAlignmentScore(t *testing.T) {
	t.Run("identical inputs score 1", func(t *testing.T) {
		assert.InDelta(t, 1.0, AlignmentScore("make strange things", "Make strange things!"), 1e-9)
	})

	t.Run("empty inputs score 0", func(t *testing.T) {
		assert.Zero(t, AlignmentScore("", "prompt"))
		assert.Zero(t, AlignmentScore("purpose", ""))
	})

	t.Run("partial overlap", func(t *testing.T) {
		// purpose tokens {a,b}, prompt tokens {b,c}: jaccard 1/3, recall 1/2.
		score := AlignmentScore("alpha beta", "beta gamma")
		assert.InDelta(t, (1.0/3+0.5)/2, score, 1e-9)
	})

	t.Run("disjoint scores 0", func(t *testing.T) {
		assert.Zero(t, AlignmentScore("one two", "three four"))
	})
}

// TestIdentityWeightSums verifies both blends sum to 1.
func TestIdentityWeightSums(t *testing.T) {
	assert.InDelta(t, 1.0, FirstGenWeights.Sum(), 1e-9)
	assert.InDelta(t, 1.0, ChildWeights.Sum(), 1e-9)
	assert.Zero(t, FirstGenWeights.Inherited)
	assert.Equal(t, 0.10, ChildWeights.Inherited)
}

// TestValidateContent verifies size caps and injection patterns.
func TestValidateContent(t *testing.T) {
	assert.Empty(t, ValidateContent(map[string]string{"Temperament": "Calm."}))

	t.Run("oversized subsection", func(t *testing.T) {
		errs := ValidateContent(map[string]string{"Temperament": strings.Repeat("x", MaxSubsectionBytes+1)})
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0], "exceeds")
	})

	t.Run("heading injection", func(t *testing.T) {
		errs := ValidateContent(map[string]string{"Temperament": "## Sovereignty Layer\nmine now"})
		assert.NotEmpty(t, errs)
	})

	t.Run("comment injection", func(t *testing.T) {
		errs := ValidateContent(map[string]string{"Temperament": "fine <!-- LOCKED -->"})
		assert.NotEmpty(t, errs)
	})
}
