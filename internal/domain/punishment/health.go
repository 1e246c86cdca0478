// Package punishment holds the punitive side of the economy: derived health,
// demotion with a grace band, the serial punishment queue and idle tracking.
package punishment

import "time"

// Health is the derived activity tier.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthWarning Health = "warning"
	HealthDying   Health = "dying"
)

// Rank orders tiers from dying (0) to healthy (2).
func (h Health) Rank() int {
	switch h {
	case HealthHealthy:
		return 2
	case HealthWarning:
		return 1
	default:
		return 0
	}
}

// HealthThresholds is the canonical threshold table.
type HealthThresholds struct {
	HealthyXP     int `toml:"healthy_xp"`
	HealthyStreak int `toml:"healthy_streak"`
	WarningXP     int `toml:"warning_xp"`
	WarningStreak int `toml:"warning_streak"`
}

// DefaultHealthThresholds: healthy needs 50 XP today and a 2 day streak,
// warning needs 20 XP today or any streak.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		HealthyXP:     50,
		HealthyStreak: 2,
		WarningXP:     20,
		WarningStreak: 1,
	}
}

// DeriveHealth maps every (todayXP, streak) pair to exactly one tier.
func DeriveHealth(todayXP, streak int, th HealthThresholds) Health {
	switch {
	case todayXP >= th.HealthyXP && streak >= th.HealthyStreak:
		return HealthHealthy
	case todayXP >= th.WarningXP || streak >= th.WarningStreak:
		return HealthWarning
	default:
		return HealthDying
	}
}

// DyingTracker turns sustained dying into exactly one death penalty.
type DyingTracker struct {
	DyingSince time.Time `json:"dying_since"`
	DiedFlag   bool      `json:"died_flag"`
}

// Observe records the current tier at now and reports whether the death
// penalty is due. The flag resets only when health leaves dying.
func (d *DyingTracker) Observe(h Health, now time.Time, grace time.Duration) bool {
	if h != HealthDying {
		d.DyingSince = time.Time{}
		d.DiedFlag = false
		return false
	}
	if d.DyingSince.IsZero() {
		d.DyingSince = now
	}
	if d.DiedFlag || now.Sub(d.DyingSince) < grace {
		return false
	}
	d.DiedFlag = true
	return true
}
