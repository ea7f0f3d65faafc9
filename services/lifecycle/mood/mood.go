// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mood computes the lunar-seasonal mood scalar and its prompt
// weighting.
//
// The mood value is a bounded scalar in [-1, 1]:
//
//	base = amplitude(phase) · sin(π·lunarDay/(P/2) − π/2)
//
// which is -1 at the new moon (lunar day 0) and +1 at the full moon
// (lunar day P/2). A fixed per-season shift (±0.15) and a festival-day
// bonus (±0.10) are added, then the result is clamped.
//
// The agent never sees the number. It receives only a natural-language
// inclination sentence chosen from five bands.
package mood

import (
	"math"

	"github.com/AleutianAI/automaton/services/lifecycle/clock"
	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// Mood is the computed mood state for one tick.
type Mood struct {
	// Value is the bounded mood scalar in [-1, 1].
	Value float64 `json:"value"`

	// HighEnergy is (Value+1)/2, in [0, 1].
	HighEnergy float64 `json:"high_energy"`

	// Weights is the prompt weighting derived from HighEnergy.
	Weights Weights `json:"weights"`
}

// Weights is the per-activity prompt weighting. The sums are not
// normalized; consumers use them as relative emphasis.
type Weights struct {
	Action     float64 `json:"action"`
	Reflection float64 `json:"reflection"`
	Social     float64 `json:"social"`
	Creative   float64 `json:"creative"`
	Rest       float64 `json:"rest"`
}

// amplitude returns the phase's lunar amplitude.
//
// Terminal amplitude is 1.0 during lucidity; outside lucidity the terminal
// amplitude matches shedding, continuing the late-life flattening.
func amplitude(p phase.Phase, lucid bool) float64 {
	switch p {
	case phase.Genesis, phase.Adolescence, phase.Sovereignty:
		return 1.0
	case phase.Senescence:
		return 0.7
	case phase.Legacy:
		return 0.4
	case phase.Shedding:
		return 0.2
	case phase.Terminal:
		if lucid {
			return 1.0
		}
		return 0.2
	default:
		return 1.0
	}
}

// seasonalShift is the fixed per-season mood bias, range ±0.15.
var seasonalShift = map[clock.Festival]float64{
	clock.FestivalImbolc:     0.05,
	clock.FestivalOstara:     0.10,
	clock.FestivalBeltane:    0.15,
	clock.FestivalLitha:      0.10,
	clock.FestivalLughnasadh: 0.05,
	clock.FestivalMabon:      -0.05,
	clock.FestivalSamhain:    -0.15,
	clock.FestivalYule:       -0.10,
}

// festivalBonus is the additive bonus applied on the festival day itself,
// range ±0.10. Light festivals lift, dark festivals lower.
var festivalBonus = map[clock.Festival]float64{
	clock.FestivalImbolc:     0.10,
	clock.FestivalOstara:     0.10,
	clock.FestivalBeltane:    0.10,
	clock.FestivalLitha:      0.10,
	clock.FestivalLughnasadh: 0.10,
	clock.FestivalMabon:      -0.10,
	clock.FestivalSamhain:    -0.10,
	clock.FestivalYule:       -0.10,
}

// Compute derives the mood for the given time facts and phase.
//
// Description:
//
//	Applies the lunar sine with the phase amplitude, adds the seasonal
//	shift and (on festival days) the festival bonus, clamps to [-1, 1],
//	and derives the prompt weights.
//
// Inputs:
//
//	facts - Time facts for the tick.
//	p     - Current lifecycle phase.
//	lucid - True during the terminal lucidity window.
//
// Outputs:
//
//	Mood - The computed mood state.
func Compute(facts clock.TimeFacts, p phase.Phase, lucid bool) Mood {
	halfCycle := clock.LunarCycleDays / 2
	base := amplitude(p, lucid) * math.Sin(math.Pi*facts.LunarDay/halfCycle-math.Pi/2)

	value := base + seasonalShift[facts.Season]
	if facts.IsFestivalDay {
		value += festivalBonus[facts.Season]
	}
	value = math.Max(-1, math.Min(1, value))

	highEnergy := (value + 1) / 2
	return Mood{
		Value:      value,
		HighEnergy: highEnergy,
		Weights: Weights{
			Action:     highEnergy,
			Reflection: 1 - highEnergy,
			Social:     0.8 * highEnergy,
			Creative:   0.5 + 0.3*highEnergy,
			Rest:       0.7 * (1 - highEnergy),
		},
	}
}

// CadenceMultiplier converts the mood into a heartbeat cadence factor.
//
// High energy slightly quickens the heartbeat, low energy slows it. The
// factor stays within [0.85, 1.15] so mood never dominates the
// replication or degradation multipliers.
func (m Mood) CadenceMultiplier() float64 {
	return 1.0 - 0.15*m.Value
}

// inclinationBands maps mood value bands to the sentence the agent sees.
// Five bands; the agent is never shown a numeric label.
var inclinationBands = []struct {
	min      float64
	sentence string
}{
	{0.6, "You feel a bright, restless energy today; you are inclined toward action, making, and reaching out."},
	{0.2, "You feel capable and warm today; you are inclined toward steady work and good company."},
	{-0.2, "You feel even-keeled today; you are inclined to follow whatever the day brings."},
	{-0.6, "You feel quiet and inward today; you are inclined toward reflection and slow, careful work."},
	{math.Inf(-1), "You feel deeply still today; you are inclined toward rest, memory, and silence."},
}

// Inclination returns the natural-language inclination sentence for the
// mood value.
func (m Mood) Inclination() string {
	for _, band := range inclinationBands {
		if m.Value >= band.min {
			return band.sentence
		}
	}
	return inclinationBands[len(inclinationBands)-1].sentence
}
