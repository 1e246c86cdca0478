package punishment

import (
	"errors"
	"time"

	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// IdleConfig sets the idle thresholds.
type IdleConfig struct {
	WarnAfter   time.Duration `toml:"warn_after"`
	PunishAfter time.Duration `toml:"punish_after"`
	Penalty     int           `toml:"penalty"`
	MaxPerDay   int           `toml:"max_per_day"`
}

// DefaultIdleConfig warns after 10 minutes, punishes 15 XP after 20 minutes,
// at most 5 times a day.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		WarnAfter:   10 * time.Minute,
		PunishAfter: 20 * time.Minute,
		Penalty:     15,
		MaxPerDay:   5,
	}
}

// Validate checks threshold ordering.
func (c IdleConfig) Validate() error {
	if c.WarnAfter <= 0 || c.PunishAfter <= 0 {
		return errors.New("idle thresholds must be positive")
	}
	if c.WarnAfter > c.PunishAfter {
		return errors.New("idle warning must come before idle punishment")
	}
	if c.MaxPerDay < 0 || c.Penalty < 0 {
		return errors.New("idle cap and penalty must not be negative")
	}
	return nil
}

// IdleDecision is the outcome of an idle check.
type IdleDecision struct {
	IdleFor    time.Duration
	Warn       bool
	Punish     bool
	CapReached bool
}

// IdleTracker follows the last activity and the per-day punishment count.
type IdleTracker struct {
	LastActivity  time.Time `json:"last_activity"`
	Warned        bool      `json:"warned"`
	PunishedToday int       `json:"punished_today"`
	Day           string    `json:"day"`
}

// RecordActivity starts a fresh idle period at now.
func (t *IdleTracker) RecordActivity(now time.Time) {
	t.LastActivity = now
	t.Warned = false
}

// ResetDay clears the per-day punishment count.
func (t *IdleTracker) ResetDay(day string) {
	t.Day = day
	t.PunishedToday = 0
}

// Check evaluates idle time at now. A punishment restarts the idle period,
// so each crossing of PunishAfter counts once.
func (t *IdleTracker) Check(now time.Time, cfg IdleConfig) IdleDecision {
	if key := timeutil.DayKey(now); t.Day != key {
		t.ResetDay(key)
	}
	if t.LastActivity.IsZero() {
		t.LastActivity = now
		return IdleDecision{}
	}

	d := IdleDecision{IdleFor: now.Sub(t.LastActivity)}
	switch {
	case d.IdleFor >= cfg.PunishAfter:
		if t.PunishedToday >= cfg.MaxPerDay {
			d.CapReached = true
			return d
		}
		t.PunishedToday++
		t.LastActivity = now
		t.Warned = false
		d.Punish = true
	case d.IdleFor >= cfg.WarnAfter && !t.Warned:
		t.Warned = true
		d.Warn = true
	}
	return d
}
