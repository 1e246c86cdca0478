// Package task is the task registry: CRUD over task records and their
// single terminal status transition. It holds no XP logic of its own.
package task

import (
	"strings"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// Priority of a task; it also selects the reward table.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks the priority value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// TaskType maps the priority onto the reward table key.
func (p Priority) TaskType() reward.TaskType {
	return reward.TaskType(p)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAbandoned
}

// IsValid checks the status value.
func (s Status) IsValid() bool {
	return s == StatusActive || s.IsTerminal()
}

// MaxXPReward caps the reward a task may carry.
const MaxXPReward = 100_000

// Task is one unit of tracked work.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	XPReward   int        `json:"xp_reward"`
	Priority   Priority   `json:"priority"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Validate checks the editable fields.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return shared.ErrTaskEmptyTitle
	}
	if t.XPReward < 0 {
		return shared.ErrTaskNegativeReward
	}
	if t.XPReward > MaxXPReward {
		return shared.ErrTaskRewardTooLarge
	}
	if !t.Priority.IsValid() {
		return shared.ErrTaskInvalidPrio
	}
	return nil
}

// IsActive reports whether the task still accepts a transition.
func (t *Task) IsActive() bool {
	return t.Status == StatusActive
}

// Resolve moves an active task into a terminal status.
func (t *Task) Resolve(to Status, at time.Time) error {
	if !to.IsTerminal() {
		return shared.WrapError("task", "Transition", shared.ErrStateTransition, "target status is not terminal", nil)
	}
	if t.Status.IsTerminal() {
		return shared.ErrTaskTerminal
	}
	t.Status = to
	t.ResolvedAt = &at
	return nil
}

// Clone returns a copy that shares nothing with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
