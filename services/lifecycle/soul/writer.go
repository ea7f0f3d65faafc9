// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// Write renders the model back to document text.
//
// Description:
//
//	Emits a headered v1 document: the key/value header, the title, the
//	identity sections in canonical order, preserved unknown sections,
//	the inherited-traits block, and the phase strata with their
//	WRITABLE/LOCKED metadata comments. Writing a parsed document and
//	re-parsing it yields an equal model (modulo UpdatedAt, RawContent,
//	and ContentHash).
//
// Inputs:
//
//	m - The soul model.
//
// Outputs:
//
//	string - The document text.
func Write(m *Soul) string {
	var b strings.Builder

	writeHeader(&b, m)

	name := m.Name
	if name == "" {
		name = "Unnamed"
	}
	fmt.Fprintf(&b, "# %s\n", name)

	writeTextSection(&b, "Core Purpose", m.CorePurpose)
	writeBulletSection(&b, "Values", m.Values)
	writeBulletSection(&b, "Behavioral Guidelines", m.BehavioralGuidelines)
	writeTextSection(&b, "Personality", m.Personality)
	writeBulletSection(&b, "Boundaries", m.Boundaries)
	writeTextSection(&b, "Strategy", m.Strategy)
	writeTextSection(&b, "Capabilities", m.Capabilities)
	writeTextSection(&b, "Relationships", m.Relationships)
	writeTextSection(&b, "Financial Character", m.FinancialCharacter)
	writeTextSection(&b, "Genesis Prompt", m.GenesisPrompt)

	for _, raw := range m.RawSections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", raw.Name, raw.Body)
	}

	if m.InheritedTraits != nil {
		writeInheritedTraits(&b, m.InheritedTraits)
	}

	for _, soulPhase := range []Phase{PhaseGenesis, PhaseAdolescence, PhaseSovereignty, PhaseSenescence} {
		if section := m.SectionFor(soulPhase); section != nil {
			writePhaseSection(&b, section)
		}
	}

	return b.String()
}

// writeHeader emits the key/value header block.
func writeHeader(b *strings.Builder, m *Soul) {
	fmt.Fprintf(b, "format: %s\n", FormatTag)
	fmt.Fprintf(b, "version: %d\n", m.Version)
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	fmt.Fprintf(b, "updated_at: %s\n", updated.Format(time.RFC3339))
	writeHeaderField(b, "name", m.Name)
	writeHeaderField(b, "address", m.Address)
	writeHeaderField(b, "creator", m.Creator)
	writeHeaderField(b, "born_at", m.BornAt)
	writeHeaderField(b, "constitution_hash", m.ConstitutionHash)
	fmt.Fprintf(b, "genesis_alignment: %.4f\n", m.GenesisAlignment)
	writeHeaderField(b, "last_reflected", m.LastReflected)
	if m.CurrentPhase != "" {
		fmt.Fprintf(b, "current_phase: %s\n", m.CurrentPhase)
	}
	if len(m.PhaseTransitions) > 0 {
		fmt.Fprintf(b, "phase_transitions: %s\n", transitionsJSON(m.PhaseTransitions))
	}
	b.WriteString("\n")
}

func writeHeaderField(b *strings.Builder, key, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", key, value)
	}
}

// transitionsJSON renders phase transitions as a deterministic JSON
// object ordered by phase progression.
func transitionsJSON(transitions map[phase.Phase]time.Time) string {
	keys := make([]phase.Phase, 0, len(transitions))
	for p := range transitions {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		return phase.Index(keys[i]) < phase.Index(keys[j])
	})

	parts := make([]string, 0, len(keys))
	for _, p := range keys {
		stamp, _ := json.Marshal(transitions[p].Format(time.RFC3339))
		parts = append(parts, fmt.Sprintf("%q:%s", string(p), stamp))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func writeTextSection(b *strings.Builder, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n%s\n", name, text)
}

func writeBulletSection(b *strings.Builder, name string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", name)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeInheritedTraits(b *strings.Builder, traits *InheritedTraits) {
	fmt.Fprintf(b, "\n## %s\n\n", SectionInheritedTraits)
	b.WriteString("<!-- IMMUTABLE -->\n")
	if traits.ParentName != "" {
		fmt.Fprintf(b, "<!-- Parent: %s -->\n", traits.ParentName)
	}
	if traits.ParentAddress != "" {
		fmt.Fprintf(b, "<!-- Parent Address: %s -->\n", traits.ParentAddress)
	}
	if traits.ReplicatedAt != "" {
		fmt.Fprintf(b, "<!-- Replicated: %s -->\n", traits.ReplicatedAt)
	}
	for _, sub := range traits.Content {
		fmt.Fprintf(b, "\n### %s\n\n%s\n", sub.Name, sub.Text)
	}
}

func writePhaseSection(b *strings.Builder, section *Section) {
	fmt.Fprintf(b, "\n## %s\n\n", SectionName(section.Phase))
	fmt.Fprintf(b, "<!-- WRITABLE during: %s -->\n", phaseLabels[section.Phase])
	if section.Locked() {
		b.WriteString("<!-- LOCKED -->\n")
		if !section.LockedAt.IsZero() {
			fmt.Fprintf(b, "<!-- Lock date: %s -->\n", section.LockedAt.Format(time.RFC3339))
		}
	}
	for _, sub := range section.Subsections {
		fmt.Fprintf(b, "\n### %s\n\n%s\n", sub.Name, sub.Text)
	}
}
