package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grindstone-hq/grindstone/internal/domain/achievement"
	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/progress"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
	"github.com/grindstone-hq/grindstone/pkg/circuitbreaker"
	"github.com/grindstone-hq/grindstone/pkg/retry"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// Source prefixes that never receive a variable bonus.
const (
	SourceAchievement = "Achievement:"
	SourceDebug       = "Debug:"
	SourceAdmin       = "Admin:"
	SourceQuickBonus  = "QuickBonus:"
	SourceTask        = "Task:"
	SourcePunishment  = "Punishment:"
	SourceDemotion    = "Demotion:"
)

var noBonusPrefixes = []string{SourceAchievement, SourceDebug, SourceAdmin, SourceQuickBonus}

func skipsBonus(source string) bool {
	for _, p := range noBonusPrefixes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

// ApplyOptions modifies ApplyXP.
type ApplyOptions struct {
	// Force bypasses the ledger lock.
	Force bool
	// NoBonus skips the reward randomizer.
	NoBonus bool
	// TaskType selects the reward table.
	TaskType reward.TaskType

	// exactLevel lets a credit lower the level; SetLevel uses it.
	exactLevel bool
}

// ApplyResult describes a committed XP change.
type ApplyResult struct {
	Amount        int               `json:"amount"`
	LeveledUp     bool              `json:"leveled_up"`
	LeveledDown   bool              `json:"leveled_down"`
	NewLevel      *int              `json:"new_level"`
	BonusType     *reward.BonusType `json:"bonus_type"`
	Message       string            `json:"message,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	// Queued is set when a debit was handed to a punishment drain already
	// running elsewhere; it will be applied by that drain.
	Queued bool `json:"queued,omitempty"`
}

// Stats are the lifetime counters achievements are evaluated against.
type Stats struct {
	TasksCompleted     int  `json:"tasks_completed"`
	TasksFailed        int  `json:"tasks_failed"`
	TasksAbandoned     int  `json:"tasks_abandoned"`
	JackpotsHit        int  `json:"jackpots_hit"`
	Demotions          int  `json:"demotions"`
	CompletedSinceDemo int  `json:"completed_since_demotion"`
	Punishments        int  `json:"punishments"`
	IdlePunishments    int  `json:"idle_punishments"`
	DeathPenalties     int  `json:"death_penalties"`
	DyingEpisode       bool `json:"dying_episode"`
	RecoveredFromDying bool `json:"recovered_from_dying"`
}

// Engine is the tactical state engine. All exported methods are safe for
// concurrent use.
type Engine struct {
	cfg Config

	clock     timeutil.Clock
	source    reward.Source
	store     shared.StateStore
	archive   ledger.Archive
	publisher shared.EventPublisher
	logger    *slog.Logger
	metrics   Metrics
	breaker   *circuitbreaker.CircuitBreaker
	retrier   *retry.Retrier

	randomizer *reward.Randomizer
	evaluator  *achievement.Evaluator
	punishQ    *punishment.Queue
	achieveQ   *checkQueue

	// mu guards everything below.
	mu         sync.Mutex
	ledger     *ledger.Ledger
	lock       ledger.Lock
	streak     progress.Streak
	tasks      *task.Registry
	unlocked   achievement.Set
	health     punishment.Health
	dying      punishment.DyingTracker
	idle       punishment.IdleTracker
	stats      Stats
	currentDay string
	pending    []ledger.Transaction
	dirty      uint64

	// persistMu serializes writes; persisted is the dirty counter last written.
	persistMu sync.Mutex
	persisted uint64
}

// New creates an engine with fresh state. Call Load to restore saved state.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		clock:     timeutil.NewSystemClock(nil),
		publisher: shared.NopPublisher{},
		logger:    slog.Default(),
		metrics:   NopMetrics{},
		punishQ:   punishment.NewQueue(),
		achieveQ:  newCheckQueue(cfg.AchievementQueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With(slog.String("component", "engine"))
	if e.source == nil {
		src, err := reward.NewCryptoSeededSource()
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.source = src
	}
	if e.breaker == nil {
		e.breaker = circuitbreaker.AchievementBreaker(func(name string, from, to circuitbreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		})
	}
	if e.retrier == nil {
		e.retrier = retry.StoreRetrier(func(attempt int, err error, delay time.Duration) {
			e.logger.Warn("retrying state write",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		})
	}

	e.randomizer = reward.NewRandomizer(cfg.Reward, e.source)
	e.evaluator = achievement.NewEvaluator(cfg.Catalog, e.breaker)
	e.resetStateLocked()
	return e, nil
}

func (e *Engine) resetStateLocked() {
	now := e.clock.Now()
	e.ledger = ledger.New()
	e.lock = ledger.Lock{}
	e.streak = progress.Streak{}
	e.tasks = task.NewRegistry()
	e.unlocked = achievement.NewSet()
	e.dying = punishment.DyingTracker{}
	e.idle = punishment.IdleTracker{}
	e.idle.RecordActivity(now)
	e.idle.ResetDay(timeutil.DayKey(now))
	e.stats = Stats{}
	e.currentDay = timeutil.DayKey(now)
	e.health = punishment.DeriveHealth(0, 0, e.cfg.Rules.Health)
	e.pending = nil
	e.dirty++
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Breaker exposes the achievement breaker for diagnostics.
func (e *Engine) Breaker() *circuitbreaker.CircuitBreaker {
	return e.breaker
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyXP changes XP by amount.
//
// Negative amounts are routed to Punish when punishment is enabled. It
// returns nil when the ledger lock is held by another in-flight update that
// is not yet stale; callers must treat nil as "not applied".
func (e *Engine) ApplyXP(ctx context.Context, amount int, source string, opts ApplyOptions) *ApplyResult {
	if amount < 0 && e.cfg.Features.Punishment {
		return e.debit(ctx, amount, source)
	}
	return e.applyXP(ctx, amount, source, opts)
}

func (e *Engine) applyXP(ctx context.Context, amount int, source string, opts ApplyOptions) *ApplyResult {
	e.mu.Lock()
	now := e.clock.Now()
	events := e.rolloverLocked(now)

	hold, ok := e.acquireLocked(now, opts.Force, &events)
	if !ok {
		e.mu.Unlock()
		e.metrics.LockRejected()
		e.logger.Debug("xp change rejected, ledger busy", slog.String("source", source), slog.Int("amount", amount))
		e.publish(events)
		return nil
	}

	res, evs := e.commitLocked(now, amount, source, opts)
	events = append(events, evs...)
	e.mu.Unlock()

	e.finish(ctx, hold, events)

	if !strings.HasPrefix(source, SourceAchievement) {
		e.requestAchievementCheck(ctx)
	}
	e.refreshHealth(ctx)
	return res
}

// commitLocked randomizes, commits and builds events. Caller holds mu.
func (e *Engine) commitLocked(now time.Time, amount int, source string, opts ApplyOptions) (*ApplyResult, []shared.Event) {
	base := amount
	final := amount
	multiplier := 1.0
	var bonus *reward.BonusType
	message := ""

	if amount > 0 && !opts.NoBonus && !skipsBonus(source) && e.cfg.Features.VariableRewards {
		r := e.randomizer.ComputeReward(amount, opts.TaskType, e.streak.Count)
		final, multiplier, bonus, message = r.FinalXP, r.Multiplier, r.BonusType, r.Message
		if bonus != nil && *bonus == reward.BonusJackpot {
			e.stats.JackpotsHit++
		}
	}

	// a credit never undoes a level held by the grace band
	policy := ledger.Raise
	if final < 0 || opts.exactLevel {
		policy = ledger.Recompute
	}
	cr := e.ledger.Commit(ledger.Entry{
		ID:         uuid.NewString(),
		Source:     source,
		BaseAmount: base,
		Amount:     final,
		Multiplier: multiplier,
		BonusType:  bonus,
	}, now, policy)
	if final > 0 {
		e.idle.RecordActivity(now)
	}
	e.pending = append(e.pending, cr.Transaction)
	e.dirty++

	res := &ApplyResult{
		Amount:        cr.Transaction.TotalAmount,
		LeveledUp:     cr.LeveledUp(),
		LeveledDown:   cr.LeveledDown(),
		BonusType:     bonus,
		Message:       message,
		TransactionID: cr.Transaction.ID,
	}
	if cr.LevelAfter != cr.LevelBefore {
		lvl := cr.LevelAfter
		res.NewLevel = &lvl
	}

	e.metrics.XPApplied(source, cr.Transaction.TotalAmount, bonusLabel(bonus))
	events := []shared.Event{e.xpAppliedEvent(now, cr.Transaction)}
	if cr.LevelAfter != cr.LevelBefore {
		reason := "xp"
		if strings.HasPrefix(source, SourceAdmin) {
			reason = "admin"
		}
		events = append(events, shared.LevelChangedEvent{
			BaseEvent: e.base(shared.EventLevelChanged, now),
			FromLevel: cr.LevelBefore,
			ToLevel:   cr.LevelAfter,
			Reason:    reason,
		})
	}
	return res, events
}

// lockHold identifies a hold on the ledger lock; zero when none was taken.
type lockHold struct {
	held  bool
	token time.Time
}

// acquireLocked takes the ledger lock unless force is set. Caller holds mu.
func (e *Engine) acquireLocked(now time.Time, force bool, events *[]shared.Event) (lockHold, bool) {
	if force {
		return lockHold{}, true
	}
	next, acq := ledger.TryAcquire(e.lock, now, e.cfg.StaleLockAfter)
	if !acq.Acquired {
		return lockHold{}, false
	}
	e.lock = next
	if acq.Recovered {
		e.metrics.StaleLockRecovered()
		e.logger.Warn("recovered stale ledger lock", slog.Duration("held_for", acq.StaleFor))
		*events = append(*events, shared.LockRecoveredEvent{
			BaseEvent: e.base(shared.EventLockRecovery, now),
			HeldFor:   acq.StaleFor,
		})
	}
	return lockHold{held: true, token: acq.Token}, true
}

// finish persists (the lock stays held while the store is written), then
// releases the lock and publishes.
func (e *Engine) finish(ctx context.Context, hold lockHold, events []shared.Event) {
	e.persist(ctx)

	if hold.held {
		e.mu.Lock()
		next, released := ledger.Release(e.lock, hold.token)
		e.lock = next
		e.mu.Unlock()
		if !released {
			e.logger.Warn("ledger lock was taken over before release")
		}
	}

	e.publish(events)
}

// Busy reports whether an XP update is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lock.Busy(e.clock.Now(), e.cfg.StaleLockAfter)
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE & EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// persist writes the latest state and archives pending transactions.
// Failures are logged; the in-memory commit stands and the next call
// retries the write and the unarchived batch.
func (e *Engine) persist(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if e.dirty == e.persisted && len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	version := e.dirty
	data, err := encodeState(e.exportLocked(e.clock.Now()))
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if err != nil {
		e.metrics.PersistFailed()
		e.logger.Error("failed to encode state", slog.String("error", err.Error()))
		e.requeue(pending)
		return
	}

	stored := true
	if e.store != nil {
		err = e.retrier.Do(ctx, func(ctx context.Context) error {
			return e.store.Set(ctx, e.cfg.StateKey, data)
		})
		if err != nil {
			stored = false
			e.metrics.PersistFailed()
			e.logger.Error("failed to persist state", slog.String("error", err.Error()))
		}
	}
	if stored {
		e.mu.Lock()
		e.persisted = version
		e.mu.Unlock()
	}

	if e.archive != nil && len(pending) > 0 {
		if err := e.archive.Append(ctx, pending); err != nil {
			e.metrics.PersistFailed()
			e.logger.Error("failed to archive transactions",
				slog.Int("count", len(pending)),
				slog.String("error", err.Error()),
			)
			e.requeue(pending)
		}
	}
}

// maxPending bounds the unarchived batch kept across archive failures.
const maxPending = 10 * ledger.MaxLogEntries

// requeue puts an unarchived batch back in front of newer transactions,
// dropping the oldest beyond maxPending.
func (e *Engine) requeue(batch []ledger.Transaction) {
	if len(batch) == 0 || e.archive == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(batch, e.pending...)
	if over := len(e.pending) - maxPending; over > 0 {
		e.logger.Warn("dropping unarchived transactions", slog.Int("count", over))
		e.pending = append([]ledger.Transaction(nil), e.pending[over:]...)
	}
}

// Flush forces a state write.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	e.dirty++
	e.mu.Unlock()
	e.persist(ctx)
}

func (e *Engine) publish(events []shared.Event) {
	for _, ev := range events {
		if err := e.publisher.Publish(ev); err != nil {
			e.logger.Warn("failed to publish event",
				slog.String("type", string(ev.EventType())),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) base(t shared.EventType, now time.Time) shared.BaseEvent {
	return shared.NewBaseEvent(t, e.cfg.InstanceID, now)
}

func (e *Engine) xpAppliedEvent(now time.Time, tx ledger.Transaction) shared.XPAppliedEvent {
	return shared.XPAppliedEvent{
		BaseEvent:     e.base(shared.EventXPApplied, now),
		TransactionID: tx.ID,
		Source:        tx.Source,
		BaseAmount:    tx.BaseAmount,
		Amount:        tx.TotalAmount,
		Multiplier:    tx.Multiplier,
		BonusType:     bonusLabel(tx.BonusType),
		PreviousXP:    tx.PreviousXP,
		NewXP:         tx.NewXP,
		TodayXP:       e.ledger.TodayXP,
	}
}

func bonusLabel(b *reward.BonusType) string {
	if b == nil {
		return ""
	}
	return string(*b)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOAD
// ══════════════════════════════════════════════════════════════════════════════

// Load restores saved state from the store. A missing key leaves the fresh
// state in place.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	data, err := e.store.Get(ctx, e.cfg.StateKey)
	if errors.Is(err, shared.ErrStateNotFound) {
		e.logger.Info("no saved state, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: load state: %w", err)
	}

	st, err := decodeState(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	skipped := e.importLocked(st)
	now := e.clock.Now()
	events := e.rolloverLocked(now)
	// downtime is not idleness
	e.idle.RecordActivity(now)
	e.health = punishment.DeriveHealth(e.ledger.TodayXP, e.streak.Count, e.cfg.Rules.Health)
	e.persisted = e.dirty
	e.mu.Unlock()

	if len(skipped) > 0 {
		e.logger.Warn("skipped invalid tasks in saved state", slog.Any("ids", skipped))
	}
	e.logger.Info("state loaded",
		slog.Int("version", st.Version),
		slog.Int("total_xp", st.Ledger.TotalXP),
		slog.Int("level", st.Ledger.Level),
	)
	if len(events) > 0 {
		e.Flush(ctx)
		e.publish(events)
	}
	return nil
}
