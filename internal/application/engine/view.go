package engine

import (
	"context"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
)

// StateView is a read-only snapshot for presentation.
type StateView struct {
	TotalXP  int             `json:"total_xp"`
	TodayXP  int             `json:"today_xp"`
	Level    int             `json:"level"`
	Progress ledger.Progress `json:"progress"`

	Streak          int `json:"streak"`
	LongestStreak   int `json:"longest_streak"`
	DaysUntilBreak  int `json:"days_until_break"`
	StreakMinDaily  int `json:"streak_min_daily_xp"`
	ActiveTasks     int `json:"active_tasks"`
	IdlePunishments int `json:"idle_punishments_today"`

	Health       punishment.Health `json:"health"`
	DyingSince   *time.Time        `json:"dying_since,omitempty"`
	Achievements []string          `json:"achievements"`
	Stats        Stats             `json:"stats"`

	Busy         bool      `json:"busy"`
	BreakerState string    `json:"breaker_state"`
	Day          string    `json:"day"`
	LastActivity time.Time `json:"last_activity"`
	AsOf         time.Time `json:"as_of"`
}

// State returns the current view.
func (e *Engine) State() StateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	v := StateView{
		TotalXP:         e.ledger.TotalXP,
		TodayXP:         e.ledger.TodayXP,
		Level:           e.ledger.Level,
		Progress:        ledger.ProgressFor(e.ledger.TotalXP, e.ledger.Level),
		Streak:          e.streak.Count,
		LongestStreak:   e.streak.Longest,
		DaysUntilBreak:  e.streak.DaysUntilBreak(now),
		StreakMinDaily:  e.cfg.StreakMinDailyXP,
		ActiveTasks:     e.tasks.CountByStatus(task.StatusActive),
		IdlePunishments: e.idle.PunishedToday,
		Health:          e.health,
		Achievements:    e.unlocked.Sorted(),
		Stats:           e.stats,
		Busy:            e.lock.Busy(now, e.cfg.StaleLockAfter),
		BreakerState:    e.breaker.State(now).String(),
		Day:             e.currentDay,
		LastActivity:    e.idle.LastActivity,
		AsOf:            now,
	}
	if !e.dying.DyingSince.IsZero() {
		since := e.dying.DyingSince
		v.DyingSince = &since
	}
	return v
}

// Transactions returns up to n of the newest transactions, newest last.
// n <= 0 returns the whole in-memory log.
func (e *Engine) Transactions(n int) []ledger.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Recent(n)
}

// History reads from the archive when one is configured and falls back to
// the in-memory log.
func (e *Engine) History(ctx context.Context, n int) ([]ledger.Transaction, error) {
	if e.archive == nil {
		return e.Transactions(n), nil
	}
	return e.archive.Recent(ctx, n)
}
