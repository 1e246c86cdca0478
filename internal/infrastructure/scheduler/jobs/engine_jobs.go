// Package jobs contains the periodic jobs that drive the engine's
// time-based rules.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/scheduler"
)

// Engine is the slice of the engine the jobs drive.
type Engine interface {
	Busy() bool
	CheckIdle(ctx context.Context) punishment.IdleDecision
	CheckHealth(ctx context.Context) punishment.Health
	RolloverDay(ctx context.Context) bool
}

// Intervals configures how often the jobs run.
type Intervals struct {
	IdleCheck   time.Duration
	HealthCheck time.Duration
	// DayRollover is a cron expression; the engine also rolls over lazily on
	// the first mutation of a new day.
	DayRollover string
}

// DefaultIntervals returns the intervals used by the daemon.
func DefaultIntervals() Intervals {
	return Intervals{
		IdleCheck:   30 * time.Second,
		HealthCheck: time.Minute,
		DayRollover: scheduler.EveryDayMidnight,
	}
}

// Register adds every engine job to s.
func Register(s *scheduler.Scheduler, eng Engine, iv Intervals, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	rollover, err := scheduler.ParseCronExpression(iv.DayRollover)
	if err != nil {
		return err
	}

	for _, r := range []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{NewIdleCheckJob(eng, logger), scheduler.Every(iv.IdleCheck)},
		{NewHealthCheckJob(eng, logger), scheduler.Every(iv.HealthCheck)},
		{NewDayRolloverJob(eng, logger), rollover},
	} {
		if err := s.Register(r.job, r.schedule); err != nil {
			return err
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BASE
// ══════════════════════════════════════════════════════════════════════════════

// guard skips a run that would overlap the previous one, or that would land
// while the engine is mid-update.
type guard struct {
	engine  Engine
	logger  *slog.Logger
	running atomic.Bool
	skipped atomic.Int64
}

func (g *guard) enter(name string) bool {
	if !g.running.CompareAndSwap(false, true) {
		g.skipped.Add(1)
		g.logger.Debug("job already running, skipping", slog.String("job", name))
		return false
	}
	if g.engine.Busy() {
		g.running.Store(false)
		g.skipped.Add(1)
		g.logger.Debug("engine busy, skipping", slog.String("job", name))
		return false
	}
	return true
}

func (g *guard) leave() { g.running.Store(false) }

// Skipped returns how many runs were skipped.
func (g *guard) Skipped() int64 { return g.skipped.Load() }

// ══════════════════════════════════════════════════════════════════════════════
// IDLE CHECK
// ══════════════════════════════════════════════════════════════════════════════

// IdleCheckJob warns about and punishes idleness.
type IdleCheckJob struct {
	guard
	last atomic.Value // punishment.IdleDecision
}

// NewIdleCheckJob creates the idle check job.
func NewIdleCheckJob(eng Engine, logger *slog.Logger) *IdleCheckJob {
	return &IdleCheckJob{guard: guard{engine: eng, logger: logger}}
}

// Name implements scheduler.Job.
func (j *IdleCheckJob) Name() string { return "idle_check" }

// Description implements scheduler.Job.
func (j *IdleCheckJob) Description() string { return "Warn about and punish idle periods" }

// Run implements scheduler.Job.
func (j *IdleCheckJob) Run(ctx context.Context) error {
	if !j.enter(j.Name()) {
		return nil
	}
	defer j.leave()

	d := j.engine.CheckIdle(ctx)
	j.last.Store(d)
	if d.Punish {
		j.logger.Info("idle punishment applied", slog.Duration("idle_for", d.IdleFor))
	}
	return nil
}

// LastDecision returns the most recent idle decision.
func (j *IdleCheckJob) LastDecision() punishment.IdleDecision {
	d, _ := j.last.Load().(punishment.IdleDecision)
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheckJob re-derives health so the dying timer advances without user
// activity.
type HealthCheckJob struct {
	guard
}

// NewHealthCheckJob creates the health check job.
func NewHealthCheckJob(eng Engine, logger *slog.Logger) *HealthCheckJob {
	return &HealthCheckJob{guard: guard{engine: eng, logger: logger}}
}

// Name implements scheduler.Job.
func (j *HealthCheckJob) Name() string { return "health_check" }

// Description implements scheduler.Job.
func (j *HealthCheckJob) Description() string { return "Re-derive health and apply the death penalty" }

// Run implements scheduler.Job.
func (j *HealthCheckJob) Run(ctx context.Context) error {
	if !j.enter(j.Name()) {
		return nil
	}
	defer j.leave()

	h := j.engine.CheckHealth(ctx)
	j.logger.Debug("health checked", slog.String("health", string(h)))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY ROLLOVER
// ══════════════════════════════════════════════════════════════════════════════

// DayRolloverJob closes the day at midnight.
type DayRolloverJob struct {
	guard
	rolled atomic.Int64
}

// NewDayRolloverJob creates the day rollover job.
func NewDayRolloverJob(eng Engine, logger *slog.Logger) *DayRolloverJob {
	return &DayRolloverJob{guard: guard{engine: eng, logger: logger}}
}

// Name implements scheduler.Job.
func (j *DayRolloverJob) Name() string { return "day_rollover" }

// Description implements scheduler.Job.
func (j *DayRolloverJob) Description() string { return "Close the day: streak, daily XP, idle counter" }

// Run implements scheduler.Job.
func (j *DayRolloverJob) Run(ctx context.Context) error {
	if !j.enter(j.Name()) {
		return nil
	}
	defer j.leave()

	if j.engine.RolloverDay(ctx) {
		j.rolled.Add(1)
	}
	return nil
}

// Rolled returns how many runs actually closed a day.
func (j *DayRolloverJob) Rolled() int64 { return j.rolled.Load() }
