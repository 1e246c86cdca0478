package engine

import (
	"context"
	"log/slog"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK CRUD
// ══════════════════════════════════════════════════════════════════════════════

// CreateTask adds an active task. An empty priority defaults to medium.
func (e *Engine) CreateTask(ctx context.Context, title string, xpReward int, priority task.Priority) (*task.Task, error) {
	e.mu.Lock()
	now := e.clock.Now()
	t, err := e.tasks.Create(title, xpReward, priority, now)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.dirty++
	e.mu.Unlock()

	e.persist(ctx)
	e.publish([]shared.Event{e.taskEvent(shared.EventTaskCreated, t, 0)})
	return t, nil
}

// GetTask returns a copy of a task.
func (e *Engine) GetTask(id string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.Get(id)
}

// ListTasks returns tasks oldest first.
func (e *Engine) ListTasks(f task.Filter) []*task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.List(f)
}

// UpdateTask edits an active task.
func (e *Engine) UpdateTask(ctx context.Context, id string, u task.Update) (*task.Task, error) {
	e.mu.Lock()
	t, err := e.tasks.Update(id, u)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.dirty++
	e.mu.Unlock()

	e.persist(ctx)
	return t, nil
}

// DeleteTask removes a task in any status.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	e.mu.Lock()
	if err := e.tasks.Delete(id); err != nil {
		e.mu.Unlock()
		return err
	}
	e.dirty++
	e.mu.Unlock()

	e.persist(ctx)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TERMINAL TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTask resolves an active task and credits its reward in one step.
// It returns nil for unknown or already resolved tasks, and when the ledger
// is busy; in the last case the task stays active.
func (e *Engine) CompleteTask(ctx context.Context, id string) *ApplyResult {
	e.mu.Lock()
	now := e.clock.Now()
	events := e.rolloverLocked(now)

	t, err := e.tasks.Get(id)
	if err != nil || !t.IsActive() {
		e.mu.Unlock()
		e.logger.Debug("complete ignored", slog.String("task_id", id), slog.Any("error", err))
		e.publish(events)
		return nil
	}

	hold, ok := e.acquireLocked(now, false, &events)
	if !ok {
		e.mu.Unlock()
		e.metrics.LockRejected()
		e.publish(events)
		return nil
	}

	resolved, err := e.tasks.Transition(id, task.StatusCompleted, now)
	if err != nil {
		e.lock, _ = ledger.Release(e.lock, hold.token)
		e.mu.Unlock()
		e.publish(events)
		return nil
	}
	e.stats.TasksCompleted++
	if e.stats.Demotions > 0 {
		e.stats.CompletedSinceDemo++
	}

	res, evs := e.commitLocked(now, t.XPReward, SourceTask+t.Title, ApplyOptions{TaskType: t.Priority.TaskType()})
	events = append(events, evs...)
	events = append(events, e.taskEvent(shared.EventTaskResolved, resolved, res.Amount))
	e.mu.Unlock()

	e.finish(ctx, hold, events)
	e.requestAchievementCheck(ctx)
	e.refreshHealth(ctx)
	return res
}

// FailTask resolves an active task as failed and debits the failure penalty.
func (e *Engine) FailTask(ctx context.Context, id string) *ApplyResult {
	return e.resolveWithPenalty(ctx, id, task.StatusFailed)
}

// AbandonTask resolves an active task as abandoned and debits the abandon
// penalty.
func (e *Engine) AbandonTask(ctx context.Context, id string) *ApplyResult {
	return e.resolveWithPenalty(ctx, id, task.StatusAbandoned)
}

func (e *Engine) resolveWithPenalty(ctx context.Context, id string, to task.Status) *ApplyResult {
	e.mu.Lock()
	now := e.clock.Now()
	events := e.rolloverLocked(now)

	resolved, err := e.tasks.Transition(id, to, now)
	if err != nil {
		e.mu.Unlock()
		e.logger.Debug("task transition ignored",
			slog.String("task_id", id),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		e.publish(events)
		return nil
	}

	var penalty int
	var reason string
	if to == task.StatusFailed {
		penalty, reason = e.cfg.Rules.FailurePenalty(resolved.XPReward), ReasonFailed
		e.stats.TasksFailed++
	} else {
		penalty, reason = e.cfg.Rules.AbandonPenalty(resolved.XPReward), ReasonAbandoned
		e.stats.TasksAbandoned++
	}
	e.dirty++
	e.mu.Unlock()

	e.publish(events)

	var res *ApplyResult
	if e.cfg.Features.Punishment {
		res = e.debit(ctx, -penalty, reason)
	} else {
		res = e.applyXP(ctx, -penalty, SourcePunishment+reason, ApplyOptions{Force: true, NoBonus: true})
	}

	e.publish([]shared.Event{e.taskEvent(shared.EventTaskResolved, resolved, -penalty)})
	return res
}

func (e *Engine) taskEvent(t shared.EventType, tk *task.Task, xpChange int) shared.TaskEvent {
	return shared.TaskEvent{
		BaseEvent: e.base(t, e.clock.Now()),
		TaskID:    tk.ID,
		Title:     tk.Title,
		Status:    string(tk.Status),
		XPChange:  xpChange,
	}
}
