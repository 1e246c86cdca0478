// Package metrics exports engine counters to Prometheus. Each Collector owns
// its registry so several engines (or tests) never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/scheduler"
)

const namespace = "grindstone"

// Collector implements engine.Metrics.
type Collector struct {
	registry *prometheus.Registry

	xpApplied       *prometheus.CounterVec
	xpAmount        *prometheus.CounterVec
	lockRejected    prometheus.Counter
	staleRecovered  prometheus.Counter
	breakerSkipped  prometheus.Counter
	achievements    *prometheus.CounterVec
	predicateFailed prometheus.Counter
	punishments     *prometheus.CounterVec
	punishedXP      *prometheus.CounterVec
	demotions       prometheus.Counter
	persistFailed   prometheus.Counter
	health          *prometheus.GaugeVec
	totalXP         prometheus.Gauge
	todayXP         prometheus.Gauge
	level           prometheus.Gauge
	streak          prometheus.Gauge
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

var _ engine.Metrics = (*Collector)(nil)

// New creates a Collector with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		// ─── Ledger ─────────────────────────────────────────────────────
		xpApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "transactions_total",
			Help: "Committed XP transactions by source kind and bonus tier.",
		}, []string{"kind", "bonus"}),
		xpAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "xp_total",
			Help: "Absolute XP moved by direction.",
		}, []string{"direction"}),
		lockRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "lock_rejections_total",
			Help: "XP changes rejected because another update was in flight.",
		}),
		staleRecovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "stale_lock_recoveries_total",
			Help: "Stale ledger locks force-cleared.",
		}),
		persistFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "persist_failures_total",
			Help: "State writes that failed after retries.",
		}),

		// ─── Achievements ───────────────────────────────────────────────
		breakerSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "achievements", Name: "breaker_skips_total",
			Help: "Evaluations skipped by the rate breaker.",
		}),
		achievements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "achievements", Name: "unlocked_total",
			Help: "Achievements unlocked by id.",
		}, []string{"id"}),
		predicateFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "achievements", Name: "predicate_failures_total",
			Help: "Predicates that panicked during evaluation.",
		}),

		// ─── Punishment ─────────────────────────────────────────────────
		punishments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "punishment", Name: "applied_total",
			Help: "Punishments applied by reason.",
		}, []string{"reason"}),
		punishedXP: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "punishment", Name: "xp_total",
			Help: "XP removed by punishments, by reason.",
		}, []string{"reason"}),
		demotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "punishment", Name: "demotions_total",
			Help: "Level demotions.",
		}),
		health: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "punishment", Name: "health",
			Help: "1 for the current health tier, 0 for the others.",
		}, []string{"state"}),

		// ─── State ──────────────────────────────────────────────────────
		totalXP: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "total_xp", Help: "Current total XP.",
		}),
		todayXP: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "today_xp", Help: "XP earned today.",
		}),
		level: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level", Help: "Current level.",
		}),
		streak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "streak_days", Help: "Current daily streak.",
		}),

		// ─── Scheduler ──────────────────────────────────────────────────
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_runs_total",
			Help: "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_duration_seconds",
			Help:    "Scheduled job run time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"job"}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ─── engine.Metrics ─────────────────────────────────────────────────────────

// XPApplied implements engine.Metrics.
func (c *Collector) XPApplied(source string, amount int, bonus string) {
	if bonus == "" {
		bonus = "none"
	}
	c.xpApplied.WithLabelValues(sourceKind(source), bonus).Inc()
	switch {
	case amount > 0:
		c.xpAmount.WithLabelValues("credit").Add(float64(amount))
	case amount < 0:
		c.xpAmount.WithLabelValues("debit").Add(float64(-amount))
	}
}

// LockRejected implements engine.Metrics.
func (c *Collector) LockRejected() { c.lockRejected.Inc() }

// StaleLockRecovered implements engine.Metrics.
func (c *Collector) StaleLockRecovered() { c.staleRecovered.Inc() }

// BreakerSkipped implements engine.Metrics.
func (c *Collector) BreakerSkipped() { c.breakerSkipped.Inc() }

// AchievementUnlocked implements engine.Metrics.
func (c *Collector) AchievementUnlocked(id string) { c.achievements.WithLabelValues(id).Inc() }

// PredicateFailed implements engine.Metrics.
func (c *Collector) PredicateFailed() { c.predicateFailed.Inc() }

// PunishmentApplied implements engine.Metrics.
func (c *Collector) PunishmentApplied(reason string, amount int) {
	c.punishments.WithLabelValues(reason).Inc()
	c.punishedXP.WithLabelValues(reason).Add(float64(amount))
}

// Demotion implements engine.Metrics.
func (c *Collector) Demotion() { c.demotions.Inc() }

// HealthObserved implements engine.Metrics.
func (c *Collector) HealthObserved(health string) {
	for _, h := range []punishment.Health{punishment.HealthHealthy, punishment.HealthWarning, punishment.HealthDying} {
		v := 0.0
		if string(h) == health {
			v = 1
		}
		c.health.WithLabelValues(string(h)).Set(v)
	}
}

// PersistFailed implements engine.Metrics.
func (c *Collector) PersistFailed() { c.persistFailed.Inc() }

// StateObserved implements engine.Metrics.
func (c *Collector) StateObserved(totalXP, todayXP, level, streak int) {
	c.totalXP.Set(float64(totalXP))
	c.todayXP.Set(float64(todayXP))
	c.level.Set(float64(level))
	c.streak.Set(float64(streak))
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// JobCompleted records a scheduler result; pass it to Scheduler.OnJobComplete.
func (c *Collector) JobCompleted(r scheduler.JobResult) {
	outcome := "success"
	switch {
	case r.Skipped:
		outcome = "skipped"
	case r.Error != nil:
		outcome = "failure"
	}
	c.jobRuns.WithLabelValues(r.JobName, outcome).Inc()
	if !r.Skipped {
		c.jobDuration.WithLabelValues(r.JobName).Observe(r.Duration.Seconds())
	}
}

// sourceKind keeps label cardinality bounded: "Task:Write report" → "task".
func sourceKind(source string) string {
	for _, k := range []struct{ prefix, kind string }{
		{engine.SourceTask, "task"},
		{engine.SourceAchievement, "achievement"},
		{engine.SourcePunishment, "punishment"},
		{engine.SourceDemotion, "demotion"},
		{engine.SourceAdmin, "admin"},
		{engine.SourceDebug, "debug"},
		{engine.SourceQuickBonus, "quick_bonus"},
	} {
		if len(source) >= len(k.prefix) && source[:len(k.prefix)] == k.prefix {
			return k.kind
		}
	}
	return "other"
}
