// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bequests

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// scalePrecision is the decimal precision for scaled amounts.
const scalePrecision = 6

// TransferFn executes one on-chain transfer and returns the tx hash.
// The implementation lives with the external wallet collaborator.
type TransferFn func(ctx context.Context, t Transfer, amount decimal.Decimal) (txHash string, err error)

// BalanceFn returns the current balance for an asset.
type BalanceFn func(ctx context.Context, asset string) (decimal.Decimal, error)

// Result records the outcome of one transfer attempt.
type Result struct {
	Recipient string          `json:"recipient"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
}

// ExecutorConfig configures execution behavior.
type ExecutorConfig struct {
	// TransferTimeout bounds each individual transfer call. The sequence
	// as a whole is unbounded. Default: 60s.
	TransferTimeout time.Duration

	// Logger for per-transfer outcomes. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultExecutorConfig returns production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TransferTimeout: 60 * time.Second,
		Logger:          slog.Default(),
	}
}

// Execute runs the full bequest sequence from a will document.
//
// Description:
//
//	Parses and validates the will's bequests, then executes:
//
//	 1. All fixed-amount transfers in declared order. Per asset, if the
//	    fixed amounts sum past the balance and no "all" entry exists for
//	    that asset, every fixed amount is scaled by balance/sum at
//	    6-decimal precision.
//	 2. "all" transfers consume the asset's remaining balance at their
//	    position in declared order.
//	 3. The remaining_balance transfer runs last per asset, consuming
//	    whatever the fixed transfers left.
//
//	Validation failures are recorded as failed results. A failed transfer
//	is recorded and the sequence continues.
//
// Inputs:
//
//	ctx         - Context for the sequence; each transfer call gets a
//	              bounded child deadline.
//	willContent - The will document text.
//	transferFn  - External transfer executor.
//	balanceFn   - External balance oracle.
//	cfg         - Execution configuration.
//
// Outputs:
//
//	[]Result - One result per attempted transfer, in execution order.
func Execute(ctx context.Context, willContent string, transferFn TransferFn, balanceFn BalanceFn, cfg ExecutorConfig) []Result {
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultExecutorConfig().TransferTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	parsed := Parse(willContent)
	valid, issues := Validate(parsed)

	var results []Result
	for _, issue := range issues {
		t := parsed[issue.Index]
		results = append(results, Result{
			Recipient: t.Recipient,
			Asset:     t.Asset,
			Success:   false,
			Error:     issue.Reason,
		})
		cfg.Logger.Warn("bequest rejected", "recipient", t.Recipient, "reason", issue.Reason)
	}

	// Group work by asset while preserving declared order within groups.
	assets := assetOrder(valid)
	for _, asset := range assets {
		results = append(results, executeAsset(ctx, asset, valid, transferFn, balanceFn, cfg)...)
	}
	return results
}

// assetOrder returns the distinct assets in first-appearance order.
func assetOrder(transfers []Transfer) []string {
	seen := map[string]bool{}
	var order []string
	for _, t := range transfers {
		if !seen[t.Asset] {
			seen[t.Asset] = true
			order = append(order, t.Asset)
		}
	}
	return order
}

// executeAsset runs the sequence for one asset.
func executeAsset(ctx context.Context, asset string, all []Transfer, transferFn TransferFn, balanceFn BalanceFn, cfg ExecutorConfig) []Result {
	var fixed []Transfer
	var residual *Transfer
	hasAll := false
	for i := range all {
		t := all[i]
		if t.Asset != asset {
			continue
		}
		switch {
		case t.IsRemaining():
			residual = &all[i]
		case t.IsAll():
			hasAll = true
			fixed = append(fixed, t)
		default:
			fixed = append(fixed, t)
		}
	}

	balance, err := balanceFn(ctx, asset)
	if err != nil {
		cfg.Logger.Error("balance lookup failed", "asset", asset, "error", err.Error())
		var out []Result
		for _, t := range fixed {
			out = append(out, Result{Recipient: t.Recipient, Asset: asset, Success: false, Error: "balance unavailable: " + err.Error()})
		}
		if residual != nil {
			out = append(out, Result{Recipient: residual.Recipient, Asset: asset, Success: false, Error: "balance unavailable: " + err.Error()})
		}
		return out
	}

	// Proportional scale-down when fixed amounts overcommit the balance.
	scale := decimal.NewFromInt(1)
	if !hasAll {
		sum := decimal.Zero
		for _, t := range fixed {
			if amount, ok := t.FixedAmount(); ok {
				sum = sum.Add(amount)
			}
		}
		if sum.GreaterThan(balance) && sum.IsPositive() {
			scale = balance.Div(sum)
		}
	}

	var out []Result
	spent := decimal.Zero
	for _, t := range fixed {
		var amount decimal.Decimal
		if t.IsAll() {
			amount = balance.Sub(spent)
			if amount.IsNegative() {
				amount = decimal.Zero
			}
		} else {
			declared, _ := t.FixedAmount()
			amount = declared.Mul(scale).Round(scalePrecision)
		}
		result := runTransfer(ctx, t, amount, transferFn, cfg)
		if result.Success {
			spent = spent.Add(amount)
		}
		out = append(out, result)
	}

	if residual != nil {
		remaining := balance.Sub(spent)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		remaining = remaining.Round(scalePrecision)
		out = append(out, runTransfer(ctx, *residual, remaining, transferFn, cfg))
	}
	return out
}

// runTransfer executes one bounded transfer call.
func runTransfer(ctx context.Context, t Transfer, amount decimal.Decimal, transferFn TransferFn, cfg ExecutorConfig) Result {
	callCtx, cancel := context.WithTimeout(ctx, cfg.TransferTimeout)
	defer cancel()

	txHash, err := transferFn(callCtx, t, amount)
	if err != nil {
		cfg.Logger.Error("bequest transfer failed",
			"recipient", t.Recipient, "asset", t.Asset, "amount", amount.String(), "error", err.Error())
		return Result{Recipient: t.Recipient, Asset: t.Asset, Amount: amount, Success: false, Error: err.Error()}
	}

	cfg.Logger.Info("bequest transfer executed",
		"recipient", t.Recipient, "asset", t.Asset, "amount", amount.String(), "tx_hash", txHash)
	return Result{Recipient: t.Recipient, Asset: t.Asset, Amount: amount, TxHash: txHash, Success: true}
}
