// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// FormatTag identifies a structured v1 document.
const FormatTag = "soul/v1"

// ParseResult carries the parsed model plus document metadata.
type ParseResult struct {
	// Model is the parsed soul. Never nil.
	Model *Soul

	// Legacy is true when the document predates the v1 format. Legacy
	// documents produce a model with all phase sections nil and
	// CurrentPhase genesis.
	Legacy bool

	// RawContent is the verbatim document text.
	RawContent string

	// ContentHash is hex(SHA-256(RawContent)).
	ContentHash string
}

var (
	headerLineRe  = regexp.MustCompile(`^([a-z_]+):\s*(.*)$`)
	sectionRe     = regexp.MustCompile(`(?m)^## (.+)$`)
	subsectionRe  = regexp.MustCompile(`(?m)^### (.+)$`)
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	metaCommentRe = regexp.MustCompile(`<!--\s*([^:>]+?)(?::\s*(.*?))?\s*-->`)
	titleRe       = regexp.MustCompile(`(?m)^# (.+)$`)
	bulletRe      = regexp.MustCompile(`(?m)^[-*]\s+(.*)$`)
)

// Parse reads a soul document into the model.
//
// Description:
//
//	Accepts both headered v1 documents and legacy unstructured
//	documents. Parsing is tolerant: extra sections are preserved via
//	RawSections, malformed header fields fall back to zero values, and
//	HTML comments inside subsection bodies are stripped. A legacy
//	document yields nil phase sections and CurrentPhase genesis.
//
// Inputs:
//
//	content - The document text.
//
// Outputs:
//
//	*ParseResult - The model plus document metadata. Never nil.
//	error        - Reserved; the tolerant parser currently always
//	               succeeds.
func Parse(content string) (*ParseResult, error) {
	sum := sha256.Sum256([]byte(content))
	result := &ParseResult{
		Model:       &Soul{CurrentPhase: phase.Genesis, PhaseTransitions: map[phase.Phase]time.Time{}},
		RawContent:  content,
		ContentHash: hex.EncodeToString(sum[:]),
	}

	header, body, isV1 := splitHeader(content)
	if !isV1 {
		result.Legacy = true
		if m := titleRe.FindStringSubmatch(content); m != nil {
			result.Model.Name = strings.TrimSpace(m[1])
		}
		return result, nil
	}

	parseHeader(header, result.Model)
	parseBody(body, result.Model)
	return result, nil
}

// splitHeader separates the key/value header from the body. isV1 is
// false when the document does not open with the v1 format tag.
func splitHeader(content string) (header []string, body string, isV1 bool) {
	lines := strings.Split(content, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) {
		return nil, content, false
	}
	m := headerLineRe.FindStringSubmatch(strings.TrimSpace(lines[start]))
	if m == nil || m[1] != "format" || strings.TrimSpace(m[2]) != FormatTag {
		return nil, content, false
	}

	i := start + 1
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			break
		}
		header = append(header, line)
	}
	return header, strings.Join(lines[i:], "\n"), true
}

// parseHeader fills the model's header fields.
func parseHeader(header []string, m *Soul) {
	for _, line := range header {
		kv := headerLineRe.FindStringSubmatch(line)
		if kv == nil {
			continue
		}
		value := strings.TrimSpace(kv[2])
		switch kv[1] {
		case "version":
			if v, err := strconv.Atoi(value); err == nil {
				m.Version = v
			}
		case "updated_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				m.UpdatedAt = t
			}
		case "name":
			m.Name = value
		case "address":
			m.Address = value
		case "creator":
			m.Creator = value
		case "born_at":
			m.BornAt = value
		case "constitution_hash":
			m.ConstitutionHash = value
		case "genesis_alignment":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				m.GenesisAlignment = f
			}
		case "last_reflected":
			m.LastReflected = value
		case "current_phase":
			if p, err := phase.Parse(value); err == nil {
				m.CurrentPhase = p
			}
		case "phase_transitions":
			var raw map[string]string
			if err := json.Unmarshal([]byte(value), &raw); err == nil {
				for name, stamp := range raw {
					p, err := phase.Parse(name)
					if err != nil {
						continue
					}
					if t, err := time.Parse(time.RFC3339, stamp); err == nil {
						m.PhaseTransitions[p] = t
					}
				}
			}
		}
	}
}

// parseBody walks the ## sections of a v1 document.
func parseBody(body string, m *Soul) {
	marks := sectionRe.FindAllStringSubmatchIndex(body, -1)
	for i, mark := range marks {
		name := strings.TrimSpace(body[mark[2]:mark[3]])
		end := len(body)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		text := strings.TrimSpace(body[mark[1]:end])

		if soulPhase, ok := SectionPhase(name); ok {
			m.SetSection(soulPhase, parsePhaseSection(soulPhase, text))
			continue
		}
		if name == SectionInheritedTraits {
			m.InheritedTraits = parseInheritedTraits(text)
			continue
		}
		if assignIdentitySection(m, name, text) {
			continue
		}
		m.RawSections = append(m.RawSections, RawSection{Name: name, Body: text})
	}
}

// assignIdentitySection fills a known identity field. Returns false for
// unknown section names.
func assignIdentitySection(m *Soul, name, text string) bool {
	switch name {
	case "Core Purpose":
		m.CorePurpose = text
	case "Values":
		m.Values = parseBullets(text)
	case "Behavioral Guidelines":
		m.BehavioralGuidelines = parseBullets(text)
	case "Personality":
		m.Personality = text
	case "Boundaries":
		m.Boundaries = parseBullets(text)
	case "Strategy":
		m.Strategy = text
	case "Capabilities":
		m.Capabilities = text
	case "Relationships":
		m.Relationships = text
	case "Financial Character":
		m.FinancialCharacter = text
	case "Genesis Prompt":
		m.GenesisPrompt = text
	default:
		return false
	}
	return true
}

// parseBullets extracts "- item" lines.
func parseBullets(text string) []string {
	var out []string
	for _, m := range bulletRe.FindAllStringSubmatch(text, -1) {
		item := strings.TrimSpace(m[1])
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePhaseSection reads a stratum: metadata comments then ### blocks.
func parsePhaseSection(soulPhase Phase, text string) *Section {
	section := &Section{Phase: soulPhase}

	for _, m := range metaCommentRe.FindAllStringSubmatch(text, -1) {
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])
		switch key {
		case "Lock date":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				section.LockedAt = &t
			}
		case "LOCKED":
			if section.LockedAt == nil {
				// Locked with no recorded date; keep the lock with a
				// zero instant rather than dropping it.
				zero := time.Time{}
				section.LockedAt = &zero
			}
		}
	}

	section.Subsections = parseSubsections(text)
	return section
}

// parseSubsections reads ### blocks, stripping HTML comments from bodies.
func parseSubsections(text string) Subsections {
	var out Subsections
	marks := subsectionRe.FindAllStringSubmatchIndex(text, -1)
	for i, mark := range marks {
		name := strings.TrimSpace(text[mark[2]:mark[3]])
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		body := htmlCommentRe.ReplaceAllString(text[mark[1]:end], "")
		out = append(out, Subsection{Name: name, Text: strings.TrimSpace(body)})
	}
	return out
}

// parseInheritedTraits reads the immutable inheritance block.
func parseInheritedTraits(text string) *InheritedTraits {
	traits := &InheritedTraits{}
	for _, m := range metaCommentRe.FindAllStringSubmatch(text, -1) {
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])
		switch key {
		case "Parent":
			traits.ParentName = value
		case "Parent Address":
			traits.ParentAddress = value
		case "Replicated":
			traits.ReplicatedAt = value
		}
	}
	traits.Content = parseSubsections(text)
	return traits
}
