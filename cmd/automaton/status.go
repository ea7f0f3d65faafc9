// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService(flags, "cli")
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := svc.LoadState(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(st)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "phase:        %s\n", st.Phase)
			fmt.Fprintf(cmd.OutOrStdout(), "age:          %.1f days\n", st.Facts.AgeDays)
			fmt.Fprintf(cmd.OutOrStdout(), "lunar:        cycle %d, day %.1f\n", st.LunarCycle, st.LunarDay)
			fmt.Fprintf(cmd.OutOrStdout(), "season:       %s\n", st.Facts.Season)
			fmt.Fprintf(cmd.OutOrStdout(), "mood:         %.2f\n", st.Mood.Value)
			fmt.Fprintf(cmd.OutOrStdout(), "degradation:  %.3f\n", st.Degradation)
			fmt.Fprintf(cmd.OutOrStdout(), "shed index:   %d\n", st.ShedSequenceIndex)
			if st.Lucid {
				fmt.Fprintf(cmd.OutOrStdout(), "lucidity:     %d turns remaining\n", st.TerminalTurnsRemaining)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Force JSON output")
	return cmd
}
