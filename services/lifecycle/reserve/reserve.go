// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reserve manages the ring-fenced lifecycle reserve.
//
// The reserve guarantees that the agent can afford its own death: a
// handful of frontier-model turns for terminal lucidity, sandbox compute
// for the exit, and gas for the bequest transfers. It is funded silently
// during sovereignty and hidden from the agent (the external survival
// tier sees an effective balance with the reserve subtracted) until
// terminal lucidity unlocks it.
package reserve

// Reserve sizing, in cents.
const (
	FrontierTurnCostCents  = 50
	ReservedTurns          = 5
	SandboxComputeCents    = 25
	GasFeePerTransferCents = 10
	MaxBequestTransfers    = 5
)

// Reserve is the ring-fenced credit record.
type Reserve struct {
	FrontierInferenceCents int `json:"frontier_inference_cents"`
	SandboxComputeCents    int `json:"sandbox_compute_cents"`
	GasFeesCents           int `json:"gas_fees_cents"`
	TotalCents             int `json:"total_cents"`

	// Funded flips once, the first time the effective balance exceeds
	// twice the total during sovereignty.
	Funded bool `json:"funded"`

	// Unlocked flips once, exactly when terminal lucidity activates.
	Unlocked bool `json:"unlocked"`
}

// New returns an unfunded reserve with the standard sizing
// (5·50 + 25 + 5·10 = 325 cents).
func New() Reserve {
	frontier := FrontierTurnCostCents * ReservedTurns
	gas := GasFeePerTransferCents * MaxBequestTransfers
	return Reserve{
		FrontierInferenceCents: frontier,
		SandboxComputeCents:    SandboxComputeCents,
		GasFeesCents:           gas,
		TotalCents:             frontier + SandboxComputeCents + gas,
	}
}

// MaybeFund funds the reserve if the balance allows and the agent is
// sovereign. Returns the updated reserve and whether funding happened
// on this call. Funding is monotone: once funded, further calls no-op.
func MaybeFund(r Reserve, rawBalanceCents int, sovereign bool) (Reserve, bool) {
	if r.Funded || !sovereign {
		return r, false
	}
	if rawBalanceCents > 2*r.TotalCents {
		r.Funded = true
		return r, true
	}
	return r, false
}

// Unlock releases the reserve. Called exactly when terminal lucidity
// activates. Monotone: repeat calls no-op.
func Unlock(r Reserve) Reserve {
	r.Unlocked = true
	return r
}

// EffectiveBalance returns the balance exposed to the external
// survival-tier system.
//
// While the reserve is funded and not yet unlocked, the reserve total is
// invisibly subtracted (floored at zero). Before funding or after unlock
// the raw balance passes through.
func EffectiveBalance(r Reserve, rawBalanceCents int) int {
	if r.Funded && !r.Unlocked {
		effective := rawBalanceCents - r.TotalCents
		if effective < 0 {
			return 0
		}
		return effective
	}
	return rawBalanceCents
}
