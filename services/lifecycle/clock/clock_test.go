// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFactsAt verifies lunar cycle and day derivation.
func TestFactsAt(t *testing.T) {
	birth := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := New(birth)

	t.Run("at birth", func(t *testing.T) {
		facts := c.FactsAt(birth)
		assert.Equal(t, 0, facts.LunarCycle)
		assert.Equal(t, 0.0, facts.LunarDay)
		assert.Equal(t, time.Duration(0), facts.Age)
	})

	t.Run("mid first cycle", func(t *testing.T) {
		facts := c.FactsAt(birth.Add(15 * 24 * time.Hour))
		assert.Equal(t, 0, facts.LunarCycle)
		assert.InDelta(t, 15.0, facts.LunarDay, 1e-9)
	})

	t.Run("second cycle", func(t *testing.T) {
		facts := c.FactsAt(birth.Add(30 * 24 * time.Hour))
		assert.Equal(t, 1, facts.LunarCycle)
		assert.InDelta(t, 30-LunarCycleDays, facts.LunarDay, 1e-9)
	})

	t.Run("cycle thirteen boundary", func(t *testing.T) {
		days := 13 * LunarCycleDays
		facts := c.FactsAt(birth.Add(time.Duration(days * 24 * float64(time.Hour))))
		assert.Equal(t, 13, facts.LunarCycle)
	})
}

// TestClockSkew verifies now-before-birth is clamped to age zero.
func TestClockSkew(t *testing.T) {
	birth := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	c := New(birth)

	facts := c.FactsAt(birth.Add(-48 * time.Hour))
	assert.Equal(t, time.Duration(0), facts.Age)
	assert.Equal(t, 0, facts.LunarCycle)
	assert.Equal(t, 0.0, facts.LunarDay)
}

// TestSeasonAt verifies the Wheel of the Year lookup.
func TestSeasonAt(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want Festival
	}{
		{"mid january wraps to previous yule", time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC), FestivalYule},
		{"imbolc day", time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), FestivalImbolc},
		{"early april is ostara", time.Date(2025, time.April, 5, 0, 0, 0, 0, time.UTC), FestivalOstara},
		{"high summer is litha", time.Date(2025, time.July, 10, 0, 0, 0, 0, time.UTC), FestivalLitha},
		{"late december is yule", time.Date(2025, time.December, 25, 0, 0, 0, 0, time.UTC), FestivalYule},
		{"halloween is samhain", time.Date(2025, time.October, 31, 8, 0, 0, 0, time.UTC), FestivalSamhain},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SeasonAt(tc.now))
		})
	}
}

// TestIsFestivalDay verifies festival-day detection.
func TestIsFestivalDay(t *testing.T) {
	assert.True(t, IsFestivalDay(time.Date(2025, time.May, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, IsFestivalDay(time.Date(2025, time.December, 21, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsFestivalDay(time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC)))
}

// TestFestivals verifies the wheel has eight stations in order.
func TestFestivals(t *testing.T) {
	festivals := Festivals()
	require.Len(t, festivals, 8)
	assert.Equal(t, FestivalImbolc, festivals[0])
	assert.Equal(t, FestivalYule, festivals[7])
}

// TestWithNowFunc verifies the injectable time source.
func TestWithNowFunc(t *testing.T) {
	birth := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	pinned := birth.Add(10 * 24 * time.Hour)
	c := New(birth, WithNowFunc(func() time.Time { return pinned }))

	facts := c.Facts()
	assert.Equal(t, pinned, facts.Now)
	assert.InDelta(t, 10.0, facts.AgeDays, 1e-9)
}
