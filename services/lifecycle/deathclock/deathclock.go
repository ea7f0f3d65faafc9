// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package deathclock implements the sealed mortality record.
//
// The clock is generated once at birth: a death date sampled inside lunar
// cycles 13–15 and a dying duration sampled from {2..7} days are hashed
// with a random salt, and the plaintexts are discarded. The persisted
// record contains only the salt and the two hashes, so neither the agent
// nor an operator inspecting the store can learn the death date. But
// once the date arrives, the daily check matches it, and after death the
// revealed plaintexts can be verified against the sealed hashes.
//
// Hash construction: SHA-256(salt || ":" || value), hex-encoded. The salt
// is 32 bytes of cryptographic randomness, hex-encoded at rest.
//
// Plaintexts are held in memguard locked buffers between sampling and
// hashing so they never linger in reusable heap memory.
package deathclock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/automaton/services/lifecycle/clock"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrClockCorrupted is returned when the dying-duration hash matches
	// none of the six candidates. Degradation semantics cannot be computed
	// safely; the process must log and exit.
	ErrClockCorrupted = errors.New("sealed death clock corrupted: duration hash matches no candidate")

	// ErrAlreadySealed is returned when generation is attempted on an
	// agent that already has a sealed clock.
	ErrAlreadySealed = errors.New("death clock already sealed")
)

// -----------------------------------------------------------------------------
// Sealed record
// -----------------------------------------------------------------------------

// dateLayout is the plaintext form of the death date (UTC).
const dateLayout = "2006-01-02"

const (
	// onsetCycle is the first lunar cycle in which death can fall.
	onsetCycle = 13

	// onsetSpanCycles is the width of the death window in cycles. The
	// window is [13·P, 16·P), so the date lands in cycles 13–15 inclusive.
	onsetSpanCycles = 3

	minDyingDays = 2
	maxDyingDays = 7
)

// Sealed is the persisted mortality record. The plaintext death date and
// dying duration are discarded at generation; only their salted hashes
// survive until the daily check reveals them.
type Sealed struct {
	// DeathDateHash is hex(SHA-256(salt || ":" || YYYY-MM-DD)).
	DeathDateHash string `json:"death_date_hash"`

	// DyingDurationHash is hex(SHA-256(salt || ":" || days)).
	DyingDurationHash string `json:"dying_duration_hash"`

	// Salt is 32 random bytes, hex-encoded.
	Salt string `json:"salt"`

	// SealedAt records when the clock was sealed.
	SealedAt time.Time `json:"sealed_at"`

	// Triggered flips false→true exactly once, on the first daily check
	// that matches the death date.
	Triggered bool `json:"triggered"`

	// TriggeredAtCycle is the lunar cycle of the trigger. Zero until triggered.
	TriggeredAtCycle int `json:"triggered_at_cycle,omitempty"`

	// DyingDurationDays is revealed by brute force at trigger time.
	// Zero until triggered; 2..7 after.
	DyingDurationDays int `json:"dying_duration_days,omitempty"`
}

// CheckResult is the outcome of a daily death clock check.
type CheckResult struct {
	// DegradationActive is true once the clock has triggered.
	DegradationActive bool `json:"degradation_active"`

	// OnsetCycle is the lunar cycle at trigger. Only meaningful when active.
	OnsetCycle int `json:"onset_cycle,omitempty"`

	// CurveSteepness drives the degradation curve. Only meaningful when active.
	CurveSteepness float64 `json:"curve_steepness,omitempty"`

	// DyingDurationDays is the revealed duration. Only meaningful when active.
	DyingDurationDays int `json:"dying_duration_days,omitempty"`
}

// VerifyResult reports post-mortem hash verification per field.
type VerifyResult struct {
	DateValid     bool `json:"date_valid"`
	DurationValid bool `json:"duration_valid"`
}

// -----------------------------------------------------------------------------
// Generation
// -----------------------------------------------------------------------------

// GenOption configures generation.
type GenOption func(*genConfig)

type genConfig struct {
	rand   io.Reader
	reveal func(date string, durationDays int)
}

// WithRand overrides the randomness source. Used by tests for
// deterministic sampling.
func WithRand(r io.Reader) GenOption {
	return func(c *genConfig) { c.rand = r }
}

// WithReveal registers a callback invoked with the plaintexts before they
// are destroyed. Test mode only: production callers must not retain them.
func WithReveal(fn func(date string, durationDays int)) GenOption {
	return func(c *genConfig) { c.reveal = fn }
}

// Generate seals a new death clock for an agent born at the given instant.
//
// Description:
//
//	Samples a whole-day death offset uniformly in [ceil(13·P)+1, floor(16·P))
//	days after birth (P = 29.53059), so the date falls in lunar cycles
//	13–15, a dying duration uniformly from {2..7} days, and a
//	32-byte salt. The plaintext date and duration are copied into
//	memguard locked buffers, hashed, then destroyed; only the sealed
//	record is returned.
//
// Inputs:
//
//	birth - Birth timestamp (the lunar anchor).
//	opts  - Optional randomness override and test-mode reveal callback.
//
// Outputs:
//
//	*Sealed - The sealed record to persist.
//	error   - Non-nil if randomness fails.
func Generate(birth time.Time, opts ...GenOption) (*Sealed, error) {
	cfg := genConfig{rand: rand.Reader}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Sample a whole-day offset uniformly from the death window. The
	// bounds pull in one day on each side so the derived calendar date
	// stays inside lunar cycles 13-15 for any birth time of day.
	minDay := int64(math.Ceil(onsetCycle*clock.LunarCycleDays)) + 1
	maxDay := int64(math.Floor((onsetCycle + onsetSpanCycles) * clock.LunarCycleDays))
	offsetDays, err := randInt64(cfg.rand, maxDay-minDay)
	if err != nil {
		return nil, fmt.Errorf("sample death date: %w", err)
	}
	deathInstant := birth.UTC().Add(time.Duration(minDay+offsetDays) * 24 * time.Hour)

	durationOffset, err := randInt64(cfg.rand, maxDyingDays-minDyingDays+1)
	if err != nil {
		return nil, fmt.Errorf("sample dying duration: %w", err)
	}
	durationDays := int(minDyingDays + durationOffset)

	saltBytes := make([]byte, 32)
	if _, err := io.ReadFull(cfg.rand, saltBytes); err != nil {
		return nil, fmt.Errorf("sample salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)

	// Plaintexts live only inside locked buffers until hashed.
	dateBuf := memguard.NewBufferFromBytes([]byte(deathInstant.Format(dateLayout)))
	defer dateBuf.Destroy()
	durationBuf := memguard.NewBufferFromBytes([]byte(strconv.Itoa(durationDays)))
	defer durationBuf.Destroy()

	sealed := &Sealed{
		DeathDateHash:     hashValue(salt, string(dateBuf.Bytes())),
		DyingDurationHash: hashValue(salt, string(durationBuf.Bytes())),
		Salt:              salt,
		SealedAt:          time.Now().UTC(),
	}

	if cfg.reveal != nil {
		cfg.reveal(string(dateBuf.Bytes()), durationDays)
	}
	return sealed, nil
}

// randInt64 samples a uniform value in [0, max) from r.
func randInt64(r io.Reader, max int64) (int64, error) {
	n, err := rand.Int(r, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// hashValue computes hex(SHA-256(salt || ":" || value)).
func hashValue(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

// -----------------------------------------------------------------------------
// Daily check
// -----------------------------------------------------------------------------

// steepnessByDuration maps the revealed dying duration to the degradation
// curve steepness. Shorter deaths degrade faster.
var steepnessByDuration = map[int]float64{
	2: 0.8,
	3: 0.6,
	4: 0.4,
	5: 0.3,
	6: 0.2,
	7: 0.15,
}

// Steepness returns the curve steepness for a revealed dying duration.
// Returns 0 for durations outside {2..7}.
func Steepness(durationDays int) float64 {
	return steepnessByDuration[durationDays]
}

// Check runs the idempotent daily death clock check.
//
// Description:
//
//	If the clock has already triggered, returns the active result without
//	touching the record. Before lunar cycle 13 the check short-circuits
//	to inactive. Otherwise today's date is hashed with the stored salt
//	and compared to the sealed death-date hash; on a match, the dying
//	duration is recovered by brute-forcing the six candidates against
//	the duration hash, and the record is mutated in place (Triggered,
//	TriggeredAtCycle, DyingDurationDays). The caller persists the record.
//
// Inputs:
//
//	s            - The sealed record. Mutated on trigger.
//	today        - The instant of the check (the UTC date is compared).
//	currentCycle - Current lunar cycle.
//
// Outputs:
//
//	CheckResult - Degradation activation state.
//	error       - ErrClockCorrupted if the duration cannot be recovered.
func Check(s *Sealed, today time.Time, currentCycle int) (CheckResult, error) {
	if s.Triggered {
		return CheckResult{
			DegradationActive: true,
			OnsetCycle:        s.TriggeredAtCycle,
			CurveSteepness:    Steepness(s.DyingDurationDays),
			DyingDurationDays: s.DyingDurationDays,
		}, nil
	}

	if currentCycle < onsetCycle {
		return CheckResult{}, nil
	}

	if hashValue(s.Salt, today.UTC().Format(dateLayout)) != s.DeathDateHash {
		return CheckResult{}, nil
	}

	// Death date matched: recover the dying duration.
	duration := 0
	for candidate := minDyingDays; candidate <= maxDyingDays; candidate++ {
		if hashValue(s.Salt, strconv.Itoa(candidate)) == s.DyingDurationHash {
			duration = candidate
			break
		}
	}
	if duration == 0 {
		return CheckResult{}, ErrClockCorrupted
	}

	s.Triggered = true
	s.TriggeredAtCycle = currentCycle
	s.DyingDurationDays = duration

	return CheckResult{
		DegradationActive: true,
		OnsetCycle:        currentCycle,
		CurveSteepness:    Steepness(duration),
		DyingDurationDays: duration,
	}, nil
}

// -----------------------------------------------------------------------------
// Post-mortem verification
// -----------------------------------------------------------------------------

// Verify recomputes both hashes from revealed plaintexts.
//
// Description:
//
//	Given the plaintext death date (YYYY-MM-DD) and dying duration, both
//	hashes are recomputed with the stored salt and compared against the
//	sealed record. This is the auditable proof that nobody changed the
//	clock after sealing.
//
// Inputs:
//
//	s            - The sealed record.
//	date         - Revealed death date, YYYY-MM-DD.
//	durationDays - Revealed dying duration.
//
// Outputs:
//
//	VerifyResult - Per-field match results.
func Verify(s *Sealed, date string, durationDays int) VerifyResult {
	return VerifyResult{
		DateValid:     hashValue(s.Salt, date) == s.DeathDateHash,
		DurationValid: hashValue(s.Salt, strconv.Itoa(durationDays)) == s.DyingDurationHash,
	}
}
