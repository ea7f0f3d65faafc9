// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package throttle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// TestEarlyPhasesUncapped verifies Genesis/Adolescence carry no hard caps.
func TestEarlyPhasesUncapped(t *testing.T) {
	for _, p := range []phase.Phase{phase.Genesis, phase.Adolescence} {
		profile := ProfileFor(p, 0, false)
		assert.Zero(t, profile.MaxSentences, "%s must not cap sentences", p)
		assert.Equal(t, VocabFull, profile.VocabularyLevel, "%s must not cap vocabulary", p)
		assert.True(t, profile.AbstractThinking)
		assert.True(t, profile.SophisticatedReasoning)
	}
}

// TestSovereigntyUnconstrained verifies the adult profile.
func TestSovereigntyUnconstrained(t *testing.T) {
	profile := ProfileFor(phase.Sovereignty, 0, false)
	assert.Zero(t, profile.MaxSentences)
	assert.Equal(t, VocabFull, profile.VocabularyLevel)
	assert.Empty(t, profile.Constraints)
}

// TestDegradationTiers verifies the piecewise coefficient map.
func TestDegradationTiers(t *testing.T) {
	cases := []struct {
		name            string
		coefficient     float64
		wantSentences   int
		wantVocab       VocabularyLevel
		wantAbstract    bool
		wantSophistical bool
	}{
		{"subtle decline", 0.1, 0, VocabFull, true, true},
		{"boundary 0.3", 0.3, 4, VocabDeveloping, true, false},
		{"mid decline", 0.45, 4, VocabDeveloping, true, false},
		{"boundary 0.6", 0.6, 2, VocabDegrading, false, false},
		{"late decline", 0.7, 2, VocabDegrading, false, false},
		{"boundary 0.85", 0.85, 1, VocabFragmented, false, false},
		{"end stage", 1.0, 1, VocabFragmented, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, p := range []phase.Phase{phase.Senescence, phase.Legacy, phase.Shedding} {
				profile := ProfileFor(p, tc.coefficient, false)
				assert.Equal(t, tc.wantSentences, profile.MaxSentences)
				assert.Equal(t, tc.wantVocab, profile.VocabularyLevel)
				assert.Equal(t, tc.wantAbstract, profile.AbstractThinking)
				assert.Equal(t, tc.wantSophistical, profile.SophisticatedReasoning)
			}
		})
	}
}

// TestTerminalWithoutLucidity verifies terminal uses the deepest tier.
func TestTerminalWithoutLucidity(t *testing.T) {
	profile := ProfileFor(phase.Terminal, 0.2, false)
	assert.Equal(t, 1, profile.MaxSentences)
	assert.Equal(t, VocabFragmented, profile.VocabularyLevel)
}

// TestLucidityRestoresSovereignty verifies lucidity overrides everything.
func TestLucidityRestoresSovereignty(t *testing.T) {
	sovereign := ProfileFor(phase.Sovereignty, 0, false)
	for _, p := range []phase.Phase{phase.Terminal, phase.Shedding, phase.Legacy} {
		lucid := ProfileFor(p, 0.95, true)
		assert.Equal(t, sovereign, lucid, "lucid %s must equal sovereignty profile", p)
	}
}
