package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/grindstone-hq/grindstone/internal/domain/achievement"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// checkQueue is a bounded count of pending re-evaluation requests with a
// single drainer. Requests past capacity are dropped; the next pass sees the
// same state anyway.
type checkQueue struct {
	mu       sync.Mutex
	pending  int
	capacity int
	draining bool
	dropped  int
}

func newCheckQueue(capacity int) *checkQueue {
	return &checkQueue{capacity: capacity}
}

// push records a request and reports whether the caller should drain.
func (q *checkQueue) push() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending < q.capacity {
		q.pending++
	} else {
		q.dropped++
	}
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

// next pops one request; false ends the drain.
func (q *checkQueue) next() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		q.draining = false
		return false
	}
	q.pending--
	return true
}

// requestAchievementCheck enqueues a re-evaluation and drains the queue
// unless a drain is already running further up the stack or elsewhere.
func (e *Engine) requestAchievementCheck(ctx context.Context) {
	if !e.cfg.Features.Achievements {
		return
	}
	if !e.achieveQ.push() {
		return
	}
	for e.achieveQ.next() {
		e.evaluateOnce(ctx)
	}
}

// CheckAchievements runs one evaluation pass now and returns the newly
// unlocked ids in catalogue order. Any unlock schedules a follow-up pass,
// since achievement payouts can satisfy further predicates.
func (e *Engine) CheckAchievements(ctx context.Context) []string {
	if !e.cfg.Features.Achievements {
		return nil
	}
	return e.evaluateOnce(ctx)
}

func (e *Engine) evaluateOnce(ctx context.Context) []string {
	e.mu.Lock()
	now := e.clock.Now()
	res := e.evaluator.Evaluate(now, e.snapshotLocked(), e.unlocked)

	var fresh []achievement.Definition
	for _, def := range res.Unlocked {
		// claim before paying so a concurrent pass cannot pay twice
		if e.unlocked.Add(def.ID) {
			fresh = append(fresh, def)
		}
	}
	if len(fresh) > 0 {
		e.dirty++
	}
	e.mu.Unlock()

	switch {
	case res.Skipped:
		e.metrics.BreakerSkipped()
		e.logger.Debug("achievement evaluation skipped, breaker open")
		e.publish([]shared.Event{shared.BreakerSkippedEvent{
			BaseEvent: e.base(shared.EventBreakerSkipped, now),
			Skipped:   int(e.breaker.Counts().Skipped),
		}})
		return nil
	case res.Err != nil:
		e.metrics.PredicateFailed()
		e.logger.Warn("achievement predicate failed",
			slog.String("achievement", res.FailedID),
			slog.String("error", res.Err.Error()),
		)
		e.publish([]shared.Event{shared.PredicateFailedEvent{
			BaseEvent:     e.base(shared.EventPredicateFailed, now),
			AchievementID: res.FailedID,
			Error:         res.Err.Error(),
		}})
		return nil
	}

	ids := make([]string, 0, len(fresh))
	for _, def := range fresh {
		if def.RewardXP > 0 {
			e.applyXP(ctx, def.RewardXP, SourceAchievement+def.ID, ApplyOptions{Force: true, NoBonus: true})
		} else {
			e.persist(ctx)
		}
		e.metrics.AchievementUnlocked(def.ID)
		e.logger.Info("achievement unlocked",
			slog.String("achievement", def.ID),
			slog.Int("reward_xp", def.RewardXP),
		)
		e.publish([]shared.Event{shared.AchievementUnlockedEvent{
			BaseEvent:     e.base(shared.EventAchievementUnlocked, e.clock.Now()),
			AchievementID: def.ID,
			Name:          def.Name,
			RewardXP:      def.RewardXP,
		}})
		ids = append(ids, def.ID)
	}

	if len(ids) > 0 {
		e.requestAchievementCheck(ctx)
	}
	return ids
}

// snapshotLocked builds the predicate view. Caller holds mu.
func (e *Engine) snapshotLocked() achievement.Snapshot {
	return achievement.Snapshot{
		TotalXP:            e.ledger.TotalXP,
		TodayXP:            e.ledger.TodayXP,
		Level:              e.ledger.Level,
		Streak:             e.streak.Count,
		LongestStreak:      e.streak.Longest,
		TasksCompleted:     e.stats.TasksCompleted,
		TasksFailed:        e.stats.TasksFailed,
		JackpotsHit:        e.stats.JackpotsHit,
		Demotions:          e.stats.Demotions,
		CompletedSinceDemo: e.stats.CompletedSinceDemo,
		Health:             string(e.health),
		RecoveredFromDying: e.stats.RecoveredFromDying,
	}
}

// Achievements returns the unlocked ids, sorted.
func (e *Engine) Achievements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked.Sorted()
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// CheckHealth settles a pending day rollover, re-derives health and applies
// the death penalty when due.
func (e *Engine) CheckHealth(ctx context.Context) punishment.Health {
	if e.RolloverDay(ctx) {
		return e.Health()
	}
	return e.refreshHealth(ctx)
}

// Health returns the current derived health tier.
func (e *Engine) Health() punishment.Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *Engine) refreshHealth(ctx context.Context) punishment.Health {
	e.mu.Lock()
	now := e.clock.Now()
	prev := e.health
	h := punishment.DeriveHealth(e.ledger.TodayXP, e.streak.Count, e.cfg.Rules.Health)
	e.health = h

	recovered := false
	switch {
	case h == punishment.HealthDying && !e.stats.DyingEpisode:
		e.stats.DyingEpisode = true
		e.dirty++
	case h == punishment.HealthHealthy && e.stats.DyingEpisode:
		e.stats.DyingEpisode = false
		if !e.stats.RecoveredFromDying {
			e.stats.RecoveredFromDying = true
			recovered = true
		}
		e.dirty++
	}

	died := e.dying.Observe(h, now, e.cfg.Rules.DyingGrace)
	if died {
		e.stats.DeathPenalties++
		e.dirty++
	}
	total, today, level, streak := e.ledger.TotalXP, e.ledger.TodayXP, e.ledger.Level, e.streak.Count
	e.mu.Unlock()

	e.metrics.HealthObserved(string(h))
	e.metrics.StateObserved(total, today, level, streak)

	if h != prev {
		e.logger.Info("health changed", slog.String("from", string(prev)), slog.String("to", string(h)))
		e.publish([]shared.Event{shared.HealthChangedEvent{
			BaseEvent: e.base(shared.EventHealthChanged, now),
			From:      string(prev),
			To:        string(h),
		}})
	}

	if died && e.cfg.Features.Punishment {
		e.logger.Warn("dying grace expired, applying death penalty",
			slog.Duration("grace", e.cfg.Rules.DyingGrace),
			slog.Int("penalty", e.cfg.Rules.DeathPenalty),
		)
		e.Punish(ctx, e.cfg.Rules.DeathPenalty, ReasonDeath, PunishOptions{})
	}
	if recovered {
		e.requestAchievementCheck(ctx)
	}
	return h
}
