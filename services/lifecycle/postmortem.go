// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/AleutianAI/automaton/services/lifecycle/bequests"
	"github.com/AleutianAI/automaton/services/lifecycle/narrative"
)

// ExecuteBequests runs the post-mortem transfer sequence from WILL.md.
//
// Description:
//
//	Reads the will, executes the bequest sequence through the external
//	transfer and balance functions, and records the outcome. A missing
//	will yields an empty result, not an error; dying intestate is
//	legal. Individual transfer failures are recorded in the results and
//	never abort the sequence.
//
// Inputs:
//
//	ctx        - Context for the sequence; each transfer is bounded
//	             individually.
//	transferFn - External wallet transfer executor.
//	balanceFn  - External balance oracle.
//
// Outputs:
//
//	[]bequests.Result - One result per attempted transfer.
//	error             - Non-nil only when the will exists but cannot
//	                    be read.
func (s *Service) ExecuteBequests(ctx context.Context, transferFn bequests.TransferFn, balanceFn bequests.BalanceFn) ([]bequests.Result, error) {
	data, err := os.ReadFile(s.cfg.WillPath())
	if errors.Is(err, os.ErrNotExist) {
		s.rec.Record(ctx, narrative.KindBequestsExecuted, "no will found; nothing to transfer", nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read will: %w", err)
	}

	cfg := bequests.DefaultExecutorConfig()
	cfg.Logger = s.logger

	results := bequests.Execute(ctx, string(data), transferFn, balanceFn, cfg)

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	s.rec.Record(ctx, narrative.KindBequestsExecuted,
		fmt.Sprintf("bequests executed: %d/%d transfers succeeded", succeeded, len(results)),
		map[string]string{
			"total":     strconv.Itoa(len(results)),
			"succeeded": strconv.Itoa(succeeded),
		})
	return results, nil
}
