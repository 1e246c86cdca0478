// Package engine is the tactical state engine. One explicitly constructed
// Engine owns the ledger, streak, tasks, achievements and punishment state;
// every mutation flows through its methods.
package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/achievement"
	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/pkg/circuitbreaker"
	"github.com/grindstone-hq/grindstone/pkg/retry"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Features toggles whole subsystems.
type Features struct {
	VariableRewards bool
	Achievements    bool
	Punishment      bool
	IdleDetection   bool
	// Admin enables the debug-only admin commands.
	Admin bool
}

// Config holds engine configuration.
type Config struct {
	// InstanceID is stamped on every event as the aggregate id.
	InstanceID string

	// StateKey is the store key the full state is saved under.
	StateKey string

	// StaleLockAfter is when a held ledger lock is force-cleared.
	StaleLockAfter time.Duration

	// StreakMinDailyXP is the XP a day needs to count toward the streak.
	StreakMinDailyXP int

	// AchievementQueueSize bounds pending re-evaluation requests.
	AchievementQueueSize int

	Reward   reward.Config
	Rules    punishment.Rules
	Catalog  achievement.Catalog
	Features Features
}

// DefaultConfig returns the canonical configuration with every feature on
// except admin.
func DefaultConfig() Config {
	return Config{
		InstanceID:           "grindstone",
		StateKey:             "grindstone:state",
		StaleLockAfter:       ledger.DefaultStaleAfter,
		StreakMinDailyXP:     50,
		AchievementQueueSize: 32,
		Reward:               reward.DefaultConfig(),
		Rules:                punishment.DefaultRules(),
		Catalog:              achievement.DefaultCatalog(),
		Features: Features{
			VariableRewards: true,
			Achievements:    true,
			Punishment:      true,
			IdleDetection:   true,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StateKey == "" {
		return errors.New("engine: state key is required")
	}
	if c.StaleLockAfter <= 0 {
		return errors.New("engine: stale lock timeout must be positive")
	}
	if c.StreakMinDailyXP < 0 {
		return errors.New("engine: streak minimum must not be negative")
	}
	if c.AchievementQueueSize <= 0 {
		return errors.New("engine: achievement queue size must be positive")
	}
	for taskType, table := range c.Reward.Tables {
		if err := table.Validate(); err != nil {
			return errors.Join(errors.New("engine: reward table "+string(taskType)), err)
		}
	}
	if err := c.Rules.Validate(); err != nil {
		return errors.Join(errors.New("engine: punishment rules"), err)
	}
	if err := c.Catalog.Validate(); err != nil {
		return errors.Join(errors.New("engine: achievement catalog"), err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics receives engine counters. Implemented by infrastructure/metrics.
type Metrics interface {
	XPApplied(source string, amount int, bonus string)
	LockRejected()
	StaleLockRecovered()
	BreakerSkipped()
	AchievementUnlocked(id string)
	PredicateFailed()
	PunishmentApplied(reason string, amount int)
	Demotion()
	HealthObserved(health string)
	PersistFailed()
	StateObserved(totalXP, todayXP, level, streak int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) XPApplied(string, int, string) {}
func (NopMetrics) LockRejected() {}
func (NopMetrics) StaleLockRecovered() {}
func (NopMetrics) BreakerSkipped() {}
func (NopMetrics) AchievementUnlocked(string) {}
func (NopMetrics) PredicateFailed() {}
func (NopMetrics) PunishmentApplied(string, int) {}
func (NopMetrics) Demotion() {}
func (NopMetrics) HealthObserved(string) {}
func (NopMetrics) PersistFailed() {}
func (NopMetrics) StateObserved(int, int, int, int) {}

// Option configures an Engine's collaborators.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandomSource sets the randomness consumed by the reward randomizer.
func WithRandomSource(s reward.Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithStore sets the state store.
func WithStore(s shared.StateStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithArchive sets the transaction archive.
func WithArchive(a ledger.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithPublisher sets the event sink.
func WithPublisher(p shared.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBreaker replaces the achievement breaker.
func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithRetrier replaces the persistence retrier.
func WithRetrier(r *retry.Retrier) Option {
	return func(e *Engine) { e.retrier = r }
}
