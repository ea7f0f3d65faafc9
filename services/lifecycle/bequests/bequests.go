// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bequests parses, validates, and executes post-mortem transfers.
//
// The will document carries a `[bequests]` block of `[[bequests.transfer]]`
// entries. Execution runs after death: fixed-amount transfers first in
// declared order (scaled down proportionally per asset if the balance
// cannot cover them), then the single `remaining_balance` transfer per
// asset. One failed transfer never aborts the sequence.
//
// Amounts are decimal.Decimal throughout; scaling rounds to 6 decimal
// places deterministically.
package bequests

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount sentinels.
const (
	AmountRemainingBalance = "remaining_balance"
	AmountAll              = "all"
)

// Transfer is one declared bequest.
type Transfer struct {
	// Recipient is a 0x-prefixed 40-hex-digit address.
	Recipient string `json:"recipient"`

	// Asset is the asset symbol (e.g. "USDC", "ETH").
	Asset string `json:"asset"`

	// Amount is the declared amount: a positive number,
	// "remaining_balance", or "all".
	Amount string `json:"amount"`

	// Chain names the chain the transfer executes on.
	Chain string `json:"chain"`

	// Note is an optional message accompanying the transfer.
	Note string `json:"note,omitempty"`
}

// IsRemaining reports whether the transfer claims the residual balance.
func (t Transfer) IsRemaining() bool {
	return t.Amount == AmountRemainingBalance
}

// IsAll reports whether the transfer claims the full balance.
func (t Transfer) IsAll() bool {
	return t.Amount == AmountAll
}

// FixedAmount returns the numeric amount for a fixed transfer.
// ok is false for sentinels and unparseable amounts.
func (t Transfer) FixedAmount() (decimal.Decimal, bool) {
	if t.IsRemaining() || t.IsAll() {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

var (
	blockStartRe = regexp.MustCompile(`(?m)^\s*\[bequests\]\s*$`)
	transferRe   = regexp.MustCompile(`(?m)^\s*\[\[bequests\.transfer\]\]\s*$`)
	kvLineRe     = regexp.MustCompile(`^\s*([a-z_]+)\s*=\s*"?([^"]*)"?\s*$`)
	sectionRe    = regexp.MustCompile(`(?m)^\s*\[[a-z]`)
)

// Parse extracts the bequest transfers from a will document.
//
// Description:
//
//	Locates the `[bequests]` block, splits it on `[[bequests.transfer]]`
//	markers, and captures recipient/asset/amount/chain/note per entry.
//	Entries missing recipient, asset, amount, or chain are ignored; the
//	note is optional. A will with no bequests block yields an empty slice.
//
// Inputs:
//
//	willContent - The full will document text.
//
// Outputs:
//
//	[]Transfer - Declared transfers in document order.
func Parse(willContent string) []Transfer {
	loc := blockStartRe.FindStringIndex(willContent)
	if loc == nil {
		return nil
	}
	block := willContent[loc[1]:]

	// The block ends at the next non-transfer section header, if any.
	if next := findNextSection(block); next >= 0 {
		block = block[:next]
	}

	marks := transferRe.FindAllStringIndex(block, -1)
	var transfers []Transfer
	for i, mark := range marks {
		end := len(block)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		entry := parseEntry(block[mark[1]:end])
		if entry.Recipient == "" || entry.Asset == "" || entry.Amount == "" || entry.Chain == "" {
			continue
		}
		transfers = append(transfers, entry)
	}
	return transfers
}

// findNextSection returns the offset of the first section header in the
// block that is not a transfer marker, or -1.
func findNextSection(block string) int {
	for _, loc := range sectionRe.FindAllStringIndex(block, -1) {
		candidate := block[loc[0]:]
		if !strings.HasPrefix(strings.TrimSpace(candidate), "[[bequests.transfer]]") {
			return loc[0]
		}
	}
	return -1
}

// parseEntry reads the key = "value" lines of one transfer entry.
func parseEntry(text string) Transfer {
	var t Transfer
	for _, line := range strings.Split(text, "\n") {
		m := kvLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch m[1] {
		case "recipient":
			t.Recipient = value
		case "asset":
			t.Asset = value
		case "amount":
			t.Amount = value
		case "chain":
			t.Chain = value
		case "note":
			t.Note = value
		}
	}
	return t
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

var recipientRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidationIssue describes one rejected transfer.
type ValidationIssue struct {
	// Index is the transfer's position in the parsed sequence.
	Index int `json:"index"`

	// Reason explains the rejection.
	Reason string `json:"reason"`
}

// Validate checks the parsed transfers.
//
// Rules: recipients must match 0x[0-9a-fA-F]{40}; numeric amounts must be
// positive; at most one remaining_balance entry may exist across the
// table. Valid transfers are returned in order; issues describe the rest.
func Validate(transfers []Transfer) ([]Transfer, []ValidationIssue) {
	var valid []Transfer
	var issues []ValidationIssue
	remainingSeen := false

	for i, t := range transfers {
		switch {
		case !recipientRe.MatchString(t.Recipient):
			issues = append(issues, ValidationIssue{Index: i, Reason: "recipient is not a valid 0x address"})
			continue
		case t.IsRemaining():
			if remainingSeen {
				issues = append(issues, ValidationIssue{Index: i, Reason: "duplicate remaining_balance entry"})
				continue
			}
			remainingSeen = true
		case t.IsAll():
			// Always valid.
		default:
			amount, ok := t.FixedAmount()
			if !ok || !amount.IsPositive() {
				issues = append(issues, ValidationIssue{Index: i, Reason: "amount must be a positive number, remaining_balance, or all"})
				continue
			}
		}
		valid = append(valid, t)
	}
	return valid, issues
}
