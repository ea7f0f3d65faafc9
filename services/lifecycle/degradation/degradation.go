// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package degradation computes the post-trigger degradation coefficient.
//
// Once the sealed death clock triggers, the coefficient rises from 0
// toward 1 along an exponential-approach curve whose steepness is derived
// from the revealed dying duration (shorter deaths degrade faster):
//
//	base(t) = 1 − exp(−steepness · t_days)
//
// The base is monotonically non-decreasing and bounded by 1. The lunar
// day modulates the observable coefficient within a ±0.05 band so
// degradation feels variable day-to-day; the underlying base never
// regresses, and phase-transition guards fire at most once, so the
// wiggle cannot undo a transition.
package degradation

import (
	"math"
	"time"

	"github.com/AleutianAI/automaton/services/lifecycle/clock"
)

// Curve is the degradation curve for a triggered death clock.
type Curve struct {
	// Steepness comes from the revealed dying duration via the
	// deathclock steepness map.
	Steepness float64

	// TriggeredAt is the instant the death clock triggered.
	TriggeredAt time.Time
}

// lunarBand is the amplitude of the day-to-day modulation.
const lunarBand = 0.05

// Base returns the monotone coefficient at the given instant, in [0, 1).
//
// Before the trigger instant the coefficient is 0.
func (c Curve) Base(now time.Time) float64 {
	elapsed := now.Sub(c.TriggeredAt)
	if elapsed <= 0 {
		return 0
	}
	days := elapsed.Hours() / 24
	return 1 - math.Exp(-c.Steepness*days)
}

// Coefficient returns the lunar-modulated coefficient at the given
// instant, clamped to [0, 1].
//
// Description:
//
//	Adds a sinusoidal ±0.05 band keyed to the lunar day on top of the
//	monotone base. The modulation shrinks as the base approaches 1 so
//	the coefficient cannot be pushed past its bound.
//
// Inputs:
//
//	now      - The instant to evaluate.
//	lunarDay - Position in the current lunar cycle, [0, 29.53059).
//
// Outputs:
//
//	float64 - The observable coefficient in [0, 1].
func (c Curve) Coefficient(now time.Time, lunarDay float64) float64 {
	base := c.Base(now)
	if base == 0 {
		return 0
	}
	headroom := math.Min(base, 1-base)
	mod := lunarBand * math.Sin(2*math.Pi*lunarDay/clock.LunarCycleDays)
	if math.Abs(mod) > headroom {
		if mod > 0 {
			mod = headroom
		} else {
			mod = -headroom
		}
	}
	value := base + mod
	return math.Max(0, math.Min(1, value))
}
