package punishment

import (
	"errors"
	"time"
)

// Rules is the punishment rule table.
type Rules struct {
	// GraceBand is subtracted from a level's threshold before demoting.
	GraceBand int `toml:"grace_band"`
	// DemotionPenalty is the extra XP taken on demotion.
	DemotionPenalty int `toml:"demotion_penalty"`
	// DeathPenalty is taken once when dying outlasts DyingGrace.
	DeathPenalty int `toml:"death_penalty"`
	// DyingGrace is how long dying may last before the death penalty.
	DyingGrace time.Duration `toml:"dying_grace"`

	// FailureDivisor and FailureMin set the penalty for a failed task:
	// max(xpReward/FailureDivisor, FailureMin).
	FailureDivisor int `toml:"failure_divisor"`
	FailureMin     int `toml:"failure_min"`
	// AbandonDivisor and AbandonMin do the same for abandoned tasks.
	AbandonDivisor int `toml:"abandon_divisor"`
	AbandonMin     int `toml:"abandon_min"`

	Health HealthThresholds `toml:"health"`
	Idle   IdleConfig       `toml:"idle"`
}

// DefaultRules returns the canonical rule table.
func DefaultRules() Rules {
	return Rules{
		GraceBand:       10,
		DemotionPenalty: 50,
		DeathPenalty:    100,
		DyingGrace:      30 * time.Minute,
		FailureDivisor:  2,
		FailureMin:      10,
		AbandonDivisor:  4,
		AbandonMin:      5,
		Health:          DefaultHealthThresholds(),
		Idle:            DefaultIdleConfig(),
	}
}

// Validate checks the table for values that would break the engine.
func (r Rules) Validate() error {
	if r.GraceBand < 0 || r.DemotionPenalty < 0 || r.DeathPenalty < 0 {
		return errors.New("punishment amounts must not be negative")
	}
	if r.FailureDivisor <= 0 || r.AbandonDivisor <= 0 {
		return errors.New("penalty divisors must be positive")
	}
	if r.Health.WarningXP > r.Health.HealthyXP {
		return errors.New("warning XP threshold above healthy threshold")
	}
	return r.Idle.Validate()
}

// FailurePenalty is the debit for failing a task worth xpReward.
func (r Rules) FailurePenalty(xpReward int) int {
	return max(xpReward/r.FailureDivisor, r.FailureMin)
}

// AbandonPenalty is the debit for abandoning a task worth xpReward.
func (r Rules) AbandonPenalty(xpReward int) int {
	return max(xpReward/r.AbandonDivisor, r.AbandonMin)
}

// Normalize turns any punishment amount into a debit.
func Normalize(amount int) int {
	if amount > 0 {
		return -amount
	}
	return amount
}
