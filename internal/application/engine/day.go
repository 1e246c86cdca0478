package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/progress"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// RolloverDay closes the previous calendar day if the clock has moved past
// it. It reports whether a rollover happened. Every mutation also rolls over
// lazily, so calling this is only needed to settle the day without activity.
func (e *Engine) RolloverDay(ctx context.Context) bool {
	e.mu.Lock()
	events := e.rolloverLocked(e.clock.Now())
	e.mu.Unlock()

	if len(events) == 0 {
		return false
	}
	e.persist(ctx)
	e.publish(events)
	e.refreshHealth(ctx)
	return true
}

// rolloverLocked settles the streak and resets daily counters at most once
// per calendar day. Caller holds mu.
func (e *Engine) rolloverLocked(now time.Time) []shared.Event {
	today := timeutil.DayKey(now)
	if e.currentDay == "" {
		e.currentDay = today
		e.dirty++
		return nil
	}
	// day keys sort chronologically; a clock moving backwards is ignored
	if today <= e.currentDay {
		return nil
	}

	closedDay := e.currentDay
	closedXP := e.ledger.ResetDay()
	qualified := closedXP >= e.cfg.StreakMinDailyXP

	var events []shared.Event
	if day, err := timeutil.ParseDayKey(closedDay, now.Location()); err == nil {
		events = append(events, e.streakEvents(now, e.streak.CloseDay(day, qualified))...)
	} else {
		e.logger.Warn("unparseable day key, streak not settled", slog.String("day", closedDay))
	}
	events = append(events, e.streakEvents(now, e.streak.ExpireBefore(now))...)

	e.idle.ResetDay(today)
	e.currentDay = today
	e.dirty++

	e.logger.Info("day rolled over",
		slog.String("closed_day", closedDay),
		slog.Int("closed_xp", closedXP),
		slog.Bool("qualified", qualified),
		slog.Int("streak", e.streak.Count),
	)
	events = append(events, shared.DayRolledOverEvent{
		BaseEvent: e.base(shared.EventDayRolledOver, now),
		ClosedDay: closedDay,
		ClosedXP:  closedXP,
		NewDay:    today,
	})
	return events
}

func (e *Engine) streakEvents(now time.Time, ch progress.Change) []shared.Event {
	var events []shared.Event
	if ch.Broken {
		events = append(events, shared.StreakEvent{
			BaseEvent: e.base(shared.EventStreakBroken, now),
			Count:     ch.Now,
			Longest:   e.streak.Longest,
			Was:       ch.Was,
		})
	}
	if ch.Extended {
		events = append(events, shared.StreakEvent{
			BaseEvent: e.base(shared.EventStreakUpdated, now),
			Count:     ch.Now,
			Longest:   e.streak.Longest,
			Was:       ch.Was,
		})
	}
	return events
}

// Streak returns a copy of the streak.
func (e *Engine) Streak() progress.Streak {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streak
}
