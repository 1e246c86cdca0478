package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// Punishment reasons raised by the engine itself.
const (
	ReasonDeath     = "Death"
	ReasonIdle      = "Idle"
	ReasonFailed    = "TaskFailed"
	ReasonAbandoned = "TaskAbandoned"
)

// PunishOptions modifies Punish.
type PunishOptions struct {
	// SkipDemotion applies the debit without the demotion check.
	SkipDemotion bool
}

// Punish debits XP through the serial punishment queue. The amount is
// normalized to negative. If another caller is already draining, the record
// is applied by that drain and the returned slice does not include it.
// Errors never propagate; they are logged and reported in the outcomes.
func (e *Engine) Punish(ctx context.Context, amount int, reason string, opts PunishOptions) []punishment.Outcome {
	amount = punishment.Normalize(amount)
	if amount == 0 {
		return nil
	}
	return e.punish(ctx, punishment.Record{
		ID:           uuid.NewString(),
		Amount:       amount,
		Reason:       reason,
		SkipDemotion: opts.SkipDemotion,
		EnqueuedAt:   e.clock.Now(),
	})
}

func (e *Engine) punish(ctx context.Context, rec punishment.Record) []punishment.Outcome {
	e.punishQ.Push(rec)
	outcomes := e.punishQ.Drain(func(r punishment.Record) punishment.Outcome {
		return e.applyPunishment(ctx, r)
	})
	for _, o := range outcomes {
		if o.Err != nil {
			e.logger.Error("punishment failed",
				slog.String("reason", o.Record.Reason),
				slog.Int("amount", o.Record.Amount),
				slog.String("error", o.Err.Error()),
			)
		}
	}
	return outcomes
}

// debit routes a negative ApplyXP through the queue and reports its own outcome.
func (e *Engine) debit(ctx context.Context, amount int, source string) *ApplyResult {
	rec := punishment.Record{
		ID:         uuid.NewString(),
		Amount:     amount,
		Reason:     source,
		EnqueuedAt: e.clock.Now(),
	}
	for _, o := range e.punish(ctx, rec) {
		if o.Record.ID != rec.ID {
			continue
		}
		if o.Err != nil || !o.Applied {
			return nil
		}
		res := &ApplyResult{
			Amount:        o.Record.Amount,
			LeveledDown:   o.Demoted,
			TransactionID: o.TransactionID,
		}
		if o.Demoted {
			lvl := o.ToLevel
			res.NewLevel = &lvl
		}
		return res
	}
	return &ApplyResult{Amount: amount, Queued: true}
}

// applyPunishment commits one record, then the demotion check. Punishments
// skip the ledger lock; the queue already serializes them.
func (e *Engine) applyPunishment(ctx context.Context, r punishment.Record) punishment.Outcome {
	e.mu.Lock()
	now := e.clock.Now()
	events := e.rolloverLocked(now)

	cr := e.ledger.Commit(ledger.Entry{
		ID:         uuid.NewString(),
		Source:     SourcePunishment + r.Reason,
		BaseAmount: r.Amount,
		Amount:     r.Amount,
		Multiplier: 1,
	}, now, ledger.Hold)
	e.pending = append(e.pending, cr.Transaction)
	e.stats.Punishments++
	e.dirty++
	events = append(events,
		e.xpAppliedEvent(now, cr.Transaction),
		shared.PunishmentAppliedEvent{
			BaseEvent: e.base(shared.EventPunishmentApplied, now),
			Amount:    r.Amount,
			Reason:    r.Reason,
			NewXP:     cr.Transaction.NewXP,
		},
	)

	out := punishment.Outcome{
		Applied:       true,
		TransactionID: cr.Transaction.ID,
		NewXP:         e.ledger.TotalXP,
	}

	if !r.SkipDemotion && e.ledger.ShouldDemote(e.cfg.Rules.GraceBand) {
		from, to := e.ledger.Demote()
		e.stats.Demotions++
		e.stats.CompletedSinceDemo = 0

		if penalty := punishment.Normalize(e.cfg.Rules.DemotionPenalty); penalty != 0 {
			pr := e.ledger.Commit(ledger.Entry{
				ID:         uuid.NewString(),
				Source:     SourceDemotion + r.Reason,
				BaseAmount: penalty,
				Amount:     penalty,
				Multiplier: 1,
			}, now, ledger.Hold)
			e.pending = append(e.pending, pr.Transaction)
			events = append(events, e.xpAppliedEvent(now, pr.Transaction))
		}

		out.Demoted = true
		out.FromLevel = from
		out.ToLevel = to
		out.NewXP = e.ledger.TotalXP
		events = append(events,
			shared.LevelChangedEvent{
				BaseEvent: e.base(shared.EventLevelChanged, now),
				FromLevel: from,
				ToLevel:   to,
				Reason:    "demotion",
			},
			shared.DemotionEvent{
				BaseEvent: e.base(shared.EventDemotion, now),
				FromLevel: from,
				ToLevel:   to,
				Penalty:   e.cfg.Rules.DemotionPenalty,
				Demotions: e.stats.Demotions,
			},
		)
	}
	e.mu.Unlock()

	e.finish(ctx, lockHold{}, events)

	e.metrics.PunishmentApplied(r.Reason, -r.Amount)
	e.logger.Info("punishment applied",
		slog.String("reason", r.Reason),
		slog.Int("amount", r.Amount),
		slog.Int("total_xp", out.NewXP),
	)
	if out.Demoted {
		e.metrics.Demotion()
		e.logger.Warn("demoted",
			slog.Int("from_level", out.FromLevel),
			slog.Int("to_level", out.ToLevel),
			slog.Int("penalty", e.cfg.Rules.DemotionPenalty),
		)
	}

	e.refreshHealth(ctx)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// IDLE
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivity marks user activity now, restarting the idle period.
func (e *Engine) RecordActivity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idle.RecordActivity(e.clock.Now())
	e.dirty++
}

// CheckIdle evaluates idle time. It does nothing while an XP update is in
// flight or idle detection is off.
func (e *Engine) CheckIdle(ctx context.Context) punishment.IdleDecision {
	if !e.cfg.Features.IdleDetection {
		return punishment.IdleDecision{}
	}

	e.mu.Lock()
	now := e.clock.Now()
	if e.lock.Busy(now, e.cfg.StaleLockAfter) {
		e.mu.Unlock()
		return punishment.IdleDecision{}
	}
	d := e.idle.Check(now, e.cfg.Rules.Idle)
	if d.Punish {
		e.stats.IdlePunishments++
	}
	if d.Warn || d.Punish {
		e.dirty++
	}
	e.mu.Unlock()

	if d.Warn {
		e.logger.Info("idle warning", slog.Duration("idle_for", d.IdleFor))
		e.publish([]shared.Event{shared.IdleWarningEvent{
			BaseEvent: e.base(shared.EventIdleWarning, now),
			IdleFor:   d.IdleFor,
		}})
	}
	if d.CapReached {
		e.logger.Debug("idle punishment cap reached for today", slog.Duration("idle_for", d.IdleFor))
	}
	if d.Punish && e.cfg.Features.Punishment {
		e.Punish(ctx, e.cfg.Rules.Idle.Penalty, ReasonIdle, PunishOptions{})
	}
	return d
}
