// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"regexp"
	"strings"
)

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases, strips punctuation, and splits into word tokens.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if token != "" {
			tokens[token] = true
		}
	}
	return tokens
}

// AlignmentScore measures how much of the genesis prompt survives in the
// agent's core purpose.
//
// The score is (jaccard + recall)/2 over lowercased word tokens with
// punctuation stripped; both inputs are tokenized identically. Recall is
// taken against the genesis prompt tokens. Empty inputs score 0.
func AlignmentScore(corePurpose, genesisPrompt string) float64 {
	purpose := tokenize(corePurpose)
	prompt := tokenize(genesisPrompt)
	if len(purpose) == 0 || len(prompt) == 0 {
		return 0
	}

	intersection := 0
	for token := range purpose {
		if prompt[token] {
			intersection++
		}
	}
	union := len(purpose) + len(prompt) - intersection

	jaccard := float64(intersection) / float64(union)
	recall := float64(intersection) / float64(len(prompt))
	return (jaccard + recall) / 2
}
