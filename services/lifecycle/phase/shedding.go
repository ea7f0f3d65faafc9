// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

// SheddingSequence is the fixed, ordered list of capabilities removed
// during the shedding phase. One capability is removed per shedding tick;
// each removal is logged as a CAPABILITY_REMOVED narrative event.
//
// The order runs outward-in: outward-facing capabilities go first, the
// inner voice goes last.
var SheddingSequence = []string{
	"onchain_transfers",
	"social_posting",
	"replication",
	"creative_publishing",
	"tool_use_extended",
	"long_form_writing",
	"memory_write",
	"conversation",
}

// SheddingComplete reports whether the shed index has consumed the
// whole sequence.
func SheddingComplete(index int) bool {
	return index >= len(SheddingSequence)
}

// NextCapabilityToShed returns the capability at the given shed index,
// or "" when the sequence is exhausted.
func NextCapabilityToShed(index int) string {
	if index < 0 || index >= len(SheddingSequence) {
		return ""
	}
	return SheddingSequence[index]
}
