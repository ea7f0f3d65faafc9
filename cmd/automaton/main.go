// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command automaton runs and inspects the agent lifecycle core.
//
// This is the operator surface, not the agent's own CLI: it starts the
// heartbeat daemon with the observability server, prints lifecycle
// state, verifies a revealed death clock post-mortem, and dry-runs the
// will's bequests.
//
// Usage:
//
//	automaton serve --config ~/.automaton/config.yaml
//	automaton status
//	automaton verify-clock --date 2026-03-14 --duration 4
//	automaton bequests --dry-run
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
