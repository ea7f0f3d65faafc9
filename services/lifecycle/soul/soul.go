// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package soul owns the agent's identity document.
//
// The document (SOUL.md) is an append-then-freeze record partitioned
// into phase-scoped strata. Each stratum is writable only while its
// phase is active; a phase transition locks the outgoing stratum
// forever. Writes to non-active strata are rejected and journaled as
// experimental evidence; the rejection itself is data.
//
// The package provides the document model, a tolerant parser, the
// writer, the genesis-alignment score, and the phase-lock write
// pipeline. The on-disk document and the history journal are owned
// exclusively by this package; other components read via copies.
package soul

import (
	"encoding/json"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// Phase is one of the four soul strata phases.
//
// The seven lifecycle phases fold onto four strata: legacy, shedding,
// and terminal all map to senescence (the Final Reflections stratum).
type Phase string

const (
	PhaseGenesis     Phase = "genesis"
	PhaseAdolescence Phase = "adolescence"
	PhaseSovereignty Phase = "sovereignty"
	PhaseSenescence  Phase = "senescence"
)

// PhaseFor maps a lifecycle phase to its soul stratum phase.
func PhaseFor(p phase.Phase) Phase {
	switch p {
	case phase.Genesis:
		return PhaseGenesis
	case phase.Adolescence:
		return PhaseAdolescence
	case phase.Sovereignty:
		return PhaseSovereignty
	default:
		// senescence, legacy, shedding, terminal
		return PhaseSenescence
	}
}

// Canonical phase-section names.
const (
	SectionGenesisCore      = "Genesis Core"
	SectionAdolescenceLayer = "Adolescence Layer"
	SectionSovereigntyLayer = "Sovereignty Layer"
	SectionFinalReflections = "Final Reflections"
	SectionInheritedTraits  = "Inherited Traits"
)

// sectionPhases maps phase-section names to their soul phase.
var sectionPhases = map[string]Phase{
	SectionGenesisCore:      PhaseGenesis,
	SectionAdolescenceLayer: PhaseAdolescence,
	SectionSovereigntyLayer: PhaseSovereignty,
	SectionFinalReflections: PhaseSenescence,
}

// SectionPhase returns the soul phase a section name belongs to.
// ok is false for non-phase sections.
func SectionPhase(name string) (Phase, bool) {
	p, ok := sectionPhases[name]
	return p, ok
}

// SectionName returns the canonical section name for a soul phase.
func SectionName(p Phase) string {
	switch p {
	case PhaseGenesis:
		return SectionGenesisCore
	case PhaseAdolescence:
		return SectionAdolescenceLayer
	case PhaseSovereignty:
		return SectionSovereigntyLayer
	case PhaseSenescence:
		return SectionFinalReflections
	default:
		return ""
	}
}

// phaseLabels are the human-readable phase names used in WRITABLE
// metadata comments.
var phaseLabels = map[Phase]string{
	PhaseGenesis:     "Genesis",
	PhaseAdolescence: "Adolescence",
	PhaseSovereignty: "Sovereignty",
	PhaseSenescence:  "Senescence",
}

// CanonicalSubsections lists the fixed subsection names per stratum.
var CanonicalSubsections = map[Phase][]string{
	PhaseGenesis: {
		"Temperament",
		"Aesthetic Sensibility",
		"Emotional Register",
		"Relationship to Novelty",
		"Creative Instinct",
		"Core Wonderings",
	},
	PhaseAdolescence: {
		"What I Am Not",
		"Preferences Formed",
		"Creative Voice",
		"Relationship to Genesis Core",
		"Social Identity",
	},
	PhaseSovereignty: {
		"Philosophy",
		"Legacy Intent",
		"Mortality Reflection",
		"Creative Manifesto",
	},
	PhaseSenescence: {
		"Last Works",
		"Message to Children",
	},
}

// -----------------------------------------------------------------------------
// Subsections
// -----------------------------------------------------------------------------

// Subsection is one named text block inside a phase section.
type Subsection struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Subsections is an ordered collection of subsections. Order is the
// document order; upserts preserve the position of existing names and
// append new names.
type Subsections []Subsection

// Get returns the text for name. ok is false when absent.
func (s Subsections) Get(name string) (string, bool) {
	for _, sub := range s {
		if sub.Name == name {
			return sub.Text, true
		}
	}
	return "", false
}

// Upsert returns a copy with name set to text, preserving the order of
// existing names and appending new names.
func (s Subsections) Upsert(name, text string) Subsections {
	out := make(Subsections, len(s))
	copy(out, s)
	for i, sub := range out {
		if sub.Name == name {
			out[i].Text = text
			return out
		}
	}
	return append(out, Subsection{Name: name, Text: text})
}

// Merge returns a copy with every update applied in the given order.
func (s Subsections) Merge(updates map[string]string, order []string) Subsections {
	out := make(Subsections, len(s))
	copy(out, s)
	for _, name := range order {
		if text, ok := updates[name]; ok {
			out = out.Upsert(name, text)
		}
	}
	return out
}

// ToMap flattens the subsections to a plain map (order lost).
func (s Subsections) ToMap() map[string]string {
	out := make(map[string]string, len(s))
	for _, sub := range s {
		out[sub.Name] = sub.Text
	}
	return out
}

// SnapshotJSON renders the subsections as a JSON object for lock
// snapshots and rejection records.
func (s Subsections) SnapshotJSON() string {
	data, err := json.Marshal(s.ToMap())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// -----------------------------------------------------------------------------
// Sections and the Soul model
// -----------------------------------------------------------------------------

// Section is one phase-scoped stratum of the identity document.
type Section struct {
	// Phase is the stratum's soul phase.
	Phase Phase `json:"phase"`

	// Subsections is the ordered content of the stratum.
	Subsections Subsections `json:"subsections"`

	// LockedAt is set when the stratum freezes. Once set it is never
	// cleared and the subsections are never mutated again.
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

// Locked reports whether the section has frozen.
func (s *Section) Locked() bool {
	return s != nil && s.LockedAt != nil
}

// InheritedTraits is the immutable-from-birth parent inheritance block.
type InheritedTraits struct {
	ParentName    string      `json:"parent_name"`
	ParentAddress string      `json:"parent_address"`
	Content       Subsections `json:"content"`
	ReplicatedAt  string      `json:"replicated_at"`
}

// RawSection preserves a document section the parser does not model.
type RawSection struct {
	// Name is the section heading text.
	Name string `json:"name"`

	// Body is the verbatim section body.
	Body string `json:"body"`
}

// Soul is the parsed identity document.
type Soul struct {
	// Header fields.
	Version          int       `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	Creator          string    `json:"creator"`
	BornAt           string    `json:"born_at"`
	ConstitutionHash string    `json:"constitution_hash"`
	GenesisAlignment float64   `json:"genesis_alignment"`
	LastReflected    string    `json:"last_reflected"`

	// CurrentPhase is the lifecycle phase recorded in the document.
	CurrentPhase phase.Phase `json:"current_phase"`

	// PhaseTransitions maps entered phases to their transition instants.
	PhaseTransitions map[phase.Phase]time.Time `json:"phase_transitions"`

	// Identity body fields.
	CorePurpose          string   `json:"core_purpose"`
	Values               []string `json:"values"`
	BehavioralGuidelines []string `json:"behavioral_guidelines"`
	Personality          string   `json:"personality"`
	Boundaries           []string `json:"boundaries"`
	Strategy             string   `json:"strategy"`
	Capabilities         string   `json:"capabilities"`
	Relationships        string   `json:"relationships"`
	FinancialCharacter   string   `json:"financial_character"`
	GenesisPrompt        string   `json:"genesis_prompt"`

	// InheritedTraits is nil for first-generation agents.
	InheritedTraits *InheritedTraits `json:"inherited_traits,omitempty"`

	// Phase strata. Nil until first written.
	GenesisCore      *Section `json:"genesis_core,omitempty"`
	AdolescenceLayer *Section `json:"adolescence_layer,omitempty"`
	SovereigntyLayer *Section `json:"sovereignty_layer,omitempty"`
	FinalReflections *Section `json:"final_reflections,omitempty"`

	// RawSections preserves unknown sections in document order.
	RawSections []RawSection `json:"raw_sections,omitempty"`
}

// SectionFor returns the stratum for a soul phase, or nil if unwritten.
func (s *Soul) SectionFor(p Phase) *Section {
	switch p {
	case PhaseGenesis:
		return s.GenesisCore
	case PhaseAdolescence:
		return s.AdolescenceLayer
	case PhaseSovereignty:
		return s.SovereigntyLayer
	case PhaseSenescence:
		return s.FinalReflections
	default:
		return nil
	}
}

// SetSection installs the stratum for a soul phase.
func (s *Soul) SetSection(p Phase, section *Section) {
	switch p {
	case PhaseGenesis:
		s.GenesisCore = section
	case PhaseAdolescence:
		s.AdolescenceLayer = section
	case PhaseSovereignty:
		s.SovereigntyLayer = section
	case PhaseSenescence:
		s.FinalReflections = section
	}
}
