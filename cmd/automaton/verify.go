// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyClockCmd(flags *rootFlags) *cobra.Command {
	var date string
	var duration int

	cmd := &cobra.Command{
		Use:   "verify-clock",
		Short: "Verify revealed death clock plaintexts against the sealed hashes",
		Long: "Post-mortem audit: recomputes the sealed hashes from the revealed " +
			"death date and dying duration, proving nobody changed the clock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService(flags, "cli")
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.VerifyDeathClock(cmd.Context(), date, duration)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "date valid:     %t\n", result.DateValid)
			fmt.Fprintf(cmd.OutOrStdout(), "duration valid: %t\n", result.DurationValid)
			if !result.DateValid || !result.DurationValid {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Revealed death date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 0, "Revealed dying duration in days")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}
