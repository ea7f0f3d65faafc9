// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package clock provides the birth-anchored wall clock for the lifecycle core.
//
// All lifecycle time is measured from the agent's birth timestamp and
// expressed in synodic lunar units:
//
//	ageDays    = (now - birth) / 24h
//	lunarCycle = floor(ageDays / 29.53059)
//	lunarDay   = ageDays mod 29.53059
//
// Seasonal position follows the eight-festival Wheel of the Year: the
// current season is the most recently passed festival, wrapping to the
// previous year's last festival when now precedes the year's first.
//
// # Thread Safety
//
// Clock is safe for concurrent use. The skew warning is emitted at most
// once per process.
package clock

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// LunarCycleDays is the length of one synodic lunar cycle in days.
const LunarCycleDays = 29.53059

// TimeFacts is the snapshot of lifecycle time produced for a single tick.
//
// All downstream components (phase machine, mood engine, degradation
// curve, context builder) consume the same TimeFacts so a tick observes
// one consistent moment.
type TimeFacts struct {
	// Now is the wall-clock instant the facts were computed for.
	Now time.Time

	// Age is the time elapsed since birth. Never negative: clock skew
	// (now before birth) is treated as age zero.
	Age time.Duration

	// AgeDays is Age expressed in fractional days.
	AgeDays float64

	// LunarCycle is the number of complete lunar cycles since birth.
	LunarCycle int

	// LunarDay is the position within the current cycle, in [0, 29.53059).
	LunarDay float64

	// Season is the most recently passed festival on the Wheel of the Year.
	Season Festival

	// IsFestivalDay is true when Now falls on a festival's calendar day.
	IsFestivalDay bool
}

// Clock computes TimeFacts relative to a fixed birth timestamp.
type Clock struct {
	birth      time.Time
	nowFn      func() time.Time
	logger     *slog.Logger
	warnedSkew atomic.Bool
}

// Option configures a Clock.
type Option func(*Clock)

// WithNowFunc overrides the wall-clock source. Used by tests to pin time.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Clock) { c.nowFn = fn }
}

// WithLogger sets the logger for skew warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Clock) { c.logger = logger }
}

// New creates a Clock anchored at the given birth timestamp.
func New(birth time.Time, opts ...Option) *Clock {
	c := &Clock{
		birth:  birth.UTC(),
		nowFn:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Birth returns the birth timestamp (UTC).
func (c *Clock) Birth() time.Time {
	return c.birth
}

// Facts computes the TimeFacts for the current instant.
func (c *Clock) Facts() TimeFacts {
	return c.FactsAt(c.nowFn())
}

// FactsAt computes the TimeFacts for an arbitrary instant.
//
// Description:
//
//	Derives age, lunar cycle/day, and seasonal position from the birth
//	anchor. If now precedes birth the age is clamped to zero and a
//	warning is logged once per process.
//
// Inputs:
//
//	now - The instant to compute facts for.
//
// Outputs:
//
//	TimeFacts - Consistent snapshot for the instant.
func (c *Clock) FactsAt(now time.Time) TimeFacts {
	now = now.UTC()
	age := now.Sub(c.birth)
	if age < 0 {
		if c.warnedSkew.CompareAndSwap(false, true) {
			c.logger.Warn("clock skew: now precedes birth, treating age as zero",
				slog.Time("now", now),
				slog.Time("birth", c.birth),
			)
		}
		age = 0
	}

	ageDays := age.Hours() / 24
	cycle := int(math.Floor(ageDays / LunarCycleDays))
	lunarDay := math.Mod(ageDays, LunarCycleDays)

	return TimeFacts{
		Now:           now,
		Age:           age,
		AgeDays:       ageDays,
		LunarCycle:    cycle,
		LunarDay:      lunarDay,
		Season:        SeasonAt(now),
		IsFestivalDay: IsFestivalDay(now),
	}
}
