// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/automaton/services/lifecycle/bequests"
	"github.com/AleutianAI/automaton/services/lifecycle/config"
)

func newBequestsCmd(flags *rootFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "bequests",
		Short: "Parse and validate the will's bequests",
		Long: "Reads WILL.md, parses the [bequests] block, and reports what " +
			"would execute. Execution itself is driven by the runtime at exit; " +
			"this command only inspects.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun {
				return fmt.Errorf("only --dry-run is supported; execution is driven by the runtime at exit")
			}

			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(cfg.WillPath())
			if err != nil {
				return fmt.Errorf("read will: %w", err)
			}

			transfers := bequests.Parse(string(data))
			valid, issues := bequests.Validate(transfers)

			fmt.Fprintf(cmd.OutOrStdout(), "parsed %d transfers, %d valid\n", len(transfers), len(valid))
			for _, t := range valid {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s %s on %s\n", t.Recipient, t.Amount, t.Asset, t.Chain)
			}
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  invalid #%d: %s\n", issue.Index, issue.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Inspect without executing")
	return cmd
}
