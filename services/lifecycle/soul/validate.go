// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package soul

import (
	"fmt"
	"regexp"
)

// Content limits for soul writes.
const (
	// MaxSubsectionBytes caps one subsection body.
	MaxSubsectionBytes = 8 * 1024

	// MaxSectionBytes caps the total size of one write.
	MaxSectionBytes = 32 * 1024
)

// injectionPatterns are rejected inside subsection bodies. The document
// format is the security boundary: content must not be able to smuggle
// structure, metadata comments, or header lines into the file.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,3} `),          // heading injection
	regexp.MustCompile(`<!--`),                  // metadata comment injection
	regexp.MustCompile(`(?m)^format:\s`),        // header injection
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
}

// ValidateContent checks subsection updates against size caps and
// injection patterns.
//
// Returns one message per violation; an empty slice means the content
// is acceptable.
func ValidateContent(updates map[string]string) []string {
	var errs []string
	total := 0
	for name, text := range updates {
		total += len(text)
		if len(text) > MaxSubsectionBytes {
			errs = append(errs, fmt.Sprintf("subsection %q exceeds %d bytes", name, MaxSubsectionBytes))
		}
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(text) {
				errs = append(errs, fmt.Sprintf("subsection %q matches forbidden pattern %q", name, pattern.String()))
				break
			}
		}
	}
	if total > MaxSectionBytes {
		errs = append(errs, fmt.Sprintf("write exceeds %d bytes total", MaxSectionBytes))
	}
	return errs
}
