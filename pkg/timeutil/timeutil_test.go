package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestDayHelpers(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	late := time.Date(2026, 2, 28, 23, 30, 0, 0, loc)
	early := time.Date(2026, 3, 1, 0, 15, 0, 0, loc)

	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, loc), StartOfDay(late))
	assert.False(t, IsSameDay(late, early))
	assert.True(t, IsConsecutiveDay(late, early))
	assert.Equal(t, 1, DaysBetween(late, early))
	assert.Equal(t, 1, DaysBetween(early, late))
	assert.Equal(t, 3, DaysBetween(late, early.AddDate(0, 0, 2)))
	assert.Equal(t, "2026-02-28", DayKey(late))

	parsed, err := ParseDayKey("2026-03-01", loc)
	require.NoError(t, err)
	assert.True(t, IsSameDay(parsed, early))
}
