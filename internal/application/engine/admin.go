package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// Debug-only operations. Every method returns ErrAdminDisabled unless
// Features.Admin is set.
// ══════════════════════════════════════════════════════════════════════════════

// MaxAdminXP bounds a single AddXP amount in either direction.
const MaxAdminXP = 1_000_000

// AddXP credits or debits amount directly, bypassing the lock, the bonus
// table and the punishment queue.
func (e *Engine) AddXP(ctx context.Context, amount int) (*ApplyResult, error) {
	if !e.cfg.Features.Admin {
		return nil, shared.ErrAdminDisabled
	}
	if amount > MaxAdminXP || amount < -MaxAdminXP {
		return nil, shared.ErrXPOutOfRange
	}
	e.logger.Warn("admin xp change", slog.Int("amount", amount))
	return e.applyXP(ctx, amount, SourceAdmin+"add_xp", ApplyOptions{Force: true, NoBonus: true}), nil
}

// SetLevel moves total XP to the threshold of level, which may lower the
// level. Levels above ledger.MaxLevel are rejected.
func (e *Engine) SetLevel(ctx context.Context, level int) (*ApplyResult, error) {
	if !e.cfg.Features.Admin {
		return nil, shared.ErrAdminDisabled
	}
	if level < 1 || level > ledger.MaxLevel {
		return nil, shared.ErrInvalidLevel
	}

	e.mu.Lock()
	delta := ledger.Threshold(level) - e.ledger.TotalXP
	e.mu.Unlock()

	e.logger.Warn("admin set level", slog.Int("level", level), slog.Int("delta", delta))
	return e.applyXP(ctx, delta, SourceAdmin+"set_level", ApplyOptions{Force: true, NoBonus: true, exactLevel: true}), nil
}

// ForceDemote drops one level and applies the demotion penalty, as a
// punishment-triggered demotion would.
func (e *Engine) ForceDemote(ctx context.Context) (*ApplyResult, error) {
	if !e.cfg.Features.Admin {
		return nil, shared.ErrAdminDisabled
	}

	e.mu.Lock()
	now := e.clock.Now()
	from, to := e.ledger.Demote()
	if from == to {
		e.mu.Unlock()
		return nil, shared.NewDomainError("engine", "ForceDemote", shared.ErrInvalidState, "already at level 1")
	}
	e.stats.Demotions++
	e.stats.CompletedSinceDemo = 0

	penalty := punishment.Normalize(e.cfg.Rules.DemotionPenalty)
	cr := e.ledger.Commit(ledger.Entry{
		ID:         uuid.NewString(),
		Source:     SourceAdmin + "demote",
		BaseAmount: penalty,
		Amount:     penalty,
		Multiplier: 1,
	}, now, ledger.Hold)
	e.pending = append(e.pending, cr.Transaction)
	e.dirty++
	events := []shared.Event{
		e.xpAppliedEvent(now, cr.Transaction),
		shared.LevelChangedEvent{
			BaseEvent: e.base(shared.EventLevelChanged, now),
			FromLevel: from,
			ToLevel:   to,
			Reason:    "admin",
		},
		shared.DemotionEvent{
			BaseEvent: e.base(shared.EventDemotion, now),
			FromLevel: from,
			ToLevel:   to,
			Penalty:   e.cfg.Rules.DemotionPenalty,
			Demotions: e.stats.Demotions,
		},
	}
	e.mu.Unlock()

	e.finish(ctx, lockHold{}, events)
	e.metrics.Demotion()
	e.refreshHealth(ctx)

	lvl := to
	return &ApplyResult{
		Amount:        penalty,
		LeveledDown:   true,
		NewLevel:      &lvl,
		TransactionID: cr.Transaction.ID,
	}, nil
}

// ResetAll discards all state and writes the fresh state to the store.
func (e *Engine) ResetAll(ctx context.Context) error {
	if !e.cfg.Features.Admin {
		return shared.ErrAdminDisabled
	}

	e.mu.Lock()
	e.resetStateLocked()
	e.mu.Unlock()
	e.breaker.Reset()

	e.logger.Warn("admin reset all state")
	e.persist(ctx)
	return nil
}
