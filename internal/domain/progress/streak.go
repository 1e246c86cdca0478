// Package progress tracks day-over-day progress: the qualifying-day streak.
package progress

import (
	"time"

	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak counts consecutive qualifying days.
type Streak struct {
	// Count is the current run of qualifying days.
	Count int `json:"count"`

	// Longest is the best run ever reached.
	Longest int `json:"longest"`

	// LastActiveDate is the last day that qualified (start of day).
	LastActiveDate time.Time `json:"last_active_date"`

	// StartDate is the first day of the current run.
	StartDate time.Time `json:"start_date"`
}

// Change describes what a day boundary did to the streak.
type Change struct {
	Was      int
	Now      int
	Extended bool
	Broken   bool
}

// CloseDay settles the streak for a finished day.
//
// A qualifying day extends the run when it directly follows the last
// qualifying day and starts a new run otherwise. A non-qualifying day breaks
// the run. Closing the same day twice is a no-op.
func (s *Streak) CloseDay(day time.Time, qualified bool) Change {
	day = timeutil.StartOfDay(day)
	ch := Change{Was: s.Count}

	if !s.LastActiveDate.IsZero() && !day.After(s.LastActiveDate) {
		ch.Now = s.Count
		return ch
	}

	if !qualified {
		if s.Count > 0 {
			s.Count = 0
			ch.Broken = true
		}
		ch.Now = s.Count
		return ch
	}

	switch {
	case s.LastActiveDate.IsZero() || s.Count == 0:
		s.Count = 1
		s.StartDate = day
	case timeutil.IsConsecutiveDay(s.LastActiveDate, day):
		s.Count++
	default:
		s.Count = 1
		s.StartDate = day
		ch.Broken = ch.Was > 0
	}

	if s.Count > s.Longest {
		s.Longest = s.Count
	}
	s.LastActiveDate = day
	ch.Extended = true
	ch.Now = s.Count
	return ch
}

// ExpireBefore breaks the streak when today is more than one day after the
// last qualifying day, i.e. at least one full day was skipped.
func (s *Streak) ExpireBefore(today time.Time) Change {
	ch := Change{Was: s.Count, Now: s.Count}
	if s.Count == 0 || s.LastActiveDate.IsZero() {
		return ch
	}
	if timeutil.DaysBetween(s.LastActiveDate, today) > 1 {
		s.Count = 0
		ch.Now = 0
		ch.Broken = true
	}
	return ch
}

// DaysUntilBreak returns how many days remain before the streak lapses:
// 2 when today already counts, 1 when today must qualify, 0 when gone.
func (s *Streak) DaysUntilBreak(today time.Time) int {
	if s.LastActiveDate.IsZero() || s.Count == 0 {
		return 0
	}
	switch timeutil.DaysBetween(s.LastActiveDate, today) {
	case 0:
		return 2
	case 1:
		return 1
	default:
		return 0
	}
}
