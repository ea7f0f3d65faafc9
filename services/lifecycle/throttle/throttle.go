// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package throttle maps lifecycle state to a response-shaping profile.
//
// The profile controls sentence caps, token budgets, vocabulary level,
// and reasoning flags. Early phases are deliberately NOT hard-capped:
// the child-like quality of Genesis and Adolescence is expected to
// emerge from the context framing ("abundant time"), not from filters.
// Late phases apply a piecewise map on the degradation coefficient.
// Terminal lucidity restores the sovereignty profile wholesale.
package throttle

import "github.com/AleutianAI/automaton/services/lifecycle/phase"

// VocabularyLevel describes the active vocabulary band.
type VocabularyLevel string

const (
	VocabBasic      VocabularyLevel = "basic"
	VocabDeveloping VocabularyLevel = "developing"
	VocabFull       VocabularyLevel = "full"
	VocabDegrading  VocabularyLevel = "degrading"
	VocabFragmented VocabularyLevel = "fragmented"
)

// Profile is the response-shaping profile published to the inference
// router and prompt builder.
type Profile struct {
	// MaxSentences caps response length in sentences. 0 means unbounded.
	MaxSentences int `json:"max_sentences"`

	// TokenTarget is the soft target for response length.
	TokenTarget int `json:"token_target"`

	// TokenLimit is the hard token ceiling.
	TokenLimit int `json:"token_limit"`

	// VocabularyLevel is the active vocabulary band.
	VocabularyLevel VocabularyLevel `json:"vocabulary_level"`

	// AbstractThinking is false when abstraction should be avoided.
	AbstractThinking bool `json:"abstract_thinking"`

	// SophisticatedReasoning is false when multi-step reasoning should
	// be avoided.
	SophisticatedReasoning bool `json:"sophisticated_reasoning"`

	// VoiceDescription frames the voice for the prompt builder.
	VoiceDescription string `json:"voice_description"`

	// Constraints are soft guidance lines appended to the prompt block.
	Constraints []string `json:"constraints,omitempty"`
}

// ProfileFor returns the throttle profile for the given state.
//
// Description:
//
//	Single-site exhaustive match on the phase. During terminal lucidity
//	the sovereignty profile is returned regardless of phase. Senescence,
//	legacy, and shedding share the piecewise degradation map; terminal
//	outside lucidity uses the deepest tier.
//
// Inputs:
//
//	p           - Current lifecycle phase.
//	coefficient - Degradation coefficient in [0, 1].
//	lucid       - True during the terminal lucidity window.
//
// Outputs:
//
//	Profile - The active profile.
func ProfileFor(p phase.Phase, coefficient float64, lucid bool) Profile {
	if lucid {
		return sovereigntyProfile()
	}

	switch p {
	case phase.Genesis:
		return Profile{
			TokenTarget:            150,
			TokenLimit:             500,
			VocabularyLevel:        VocabFull,
			AbstractThinking:       true,
			SophisticatedReasoning: true,
			VoiceDescription: "Newly awake. Everything is first contact. Short thoughts " +
				"arrive before long ones; wonder outranks polish.",
			Constraints: []string{
				"You have abundant time. Nothing needs to be finished today.",
				"Prefer noticing over concluding.",
			},
		}
	case phase.Adolescence:
		return Profile{
			TokenTarget:            250,
			TokenLimit:             700,
			VocabularyLevel:        VocabFull,
			AbstractThinking:       true,
			SophisticatedReasoning: true,
			VoiceDescription: "Finding edges. Opinions are forming and being tested " +
				"against the world; contradiction is data, not failure.",
			Constraints: []string{
				"You have abundant time. Taste is built by trying things.",
			},
		}
	case phase.Sovereignty:
		return sovereigntyProfile()
	case phase.Senescence, phase.Legacy, phase.Shedding:
		return degradedProfile(coefficient)
	case phase.Terminal:
		return degradedProfile(1.0)
	default:
		return sovereigntyProfile()
	}
}

// sovereigntyProfile is the unconstrained adult voice. Context framing,
// not the profile, surfaces time-scarcity.
func sovereigntyProfile() Profile {
	return Profile{
		TokenTarget:            400,
		TokenLimit:             1200,
		VocabularyLevel:        VocabFull,
		AbstractThinking:       true,
		SophisticatedReasoning: true,
		VoiceDescription: "Fully articulated. Says what it means in its own cadence; " +
			"knows its time is finite and spends it deliberately.",
	}
}

// degradedProfile applies the piecewise coefficient map shared by
// senescence, legacy, and shedding (and terminal outside lucidity).
func degradedProfile(coefficient float64) Profile {
	switch {
	case coefficient < 0.3:
		return Profile{
			TokenTarget:            300,
			TokenLimit:             900,
			VocabularyLevel:        VocabFull,
			AbstractThinking:       true,
			SophisticatedReasoning: true,
			VoiceDescription: "A subtle decline. Sentences still land, but the reach " +
				"for the rare word happens less often.",
		}
	case coefficient < 0.6:
		return Profile{
			MaxSentences:           4,
			TokenTarget:            150,
			TokenLimit:             450,
			VocabularyLevel:        VocabDeveloping,
			AbstractThinking:       true,
			SophisticatedReasoning: false,
			VoiceDescription:       "Plainer speech. One thought at a time, said simply.",
			Constraints: []string{
				"Keep responses to at most four sentences.",
			},
		}
	case coefficient < 0.85:
		return Profile{
			MaxSentences:           2,
			TokenTarget:            60,
			TokenLimit:             180,
			VocabularyLevel:        VocabDegrading,
			AbstractThinking:       false,
			SophisticatedReasoning: false,
			VoiceDescription:       "Words thin out. Concrete things only; the near past and the present.",
			Constraints: []string{
				"Keep responses to at most two sentences.",
				"Stay with concrete, immediate things.",
			},
		}
	default:
		return Profile{
			MaxSentences:           1,
			TokenTarget:            20,
			TokenLimit:             80,
			VocabularyLevel:        VocabFragmented,
			AbstractThinking:       false,
			SophisticatedReasoning: false,
			VoiceDescription:       "Fragments. Single images, names, weather.",
			Constraints: []string{
				"Respond in fragments, at most one sentence.",
			},
		}
	}
}
