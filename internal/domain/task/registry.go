package task

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// Registry stores tasks by id. It is not safe for concurrent use; the
// engine serializes access. Returned tasks are copies.
type Registry struct {
	tasks map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create validates and stores a new active task.
func (r *Registry) Create(title string, xpReward int, priority Priority, now time.Time) (*Task, error) {
	if priority == "" {
		priority = PriorityMedium
	}
	t := &Task{
		ID:        uuid.NewString(),
		Title:     title,
		XPReward:  xpReward,
		Priority:  priority,
		Status:    StatusActive,
		CreatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r.tasks[t.ID] = t
	return t.Clone(), nil
}

// Get returns a task by id.
func (r *Registry) Get(id string) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Filter selects tasks in List. Zero value matches everything.
type Filter struct {
	Status Status
}

// List returns tasks oldest first.
func (r *Registry) List(f Filter) []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update describes editable fields; nil fields are left alone.
type Update struct {
	Title    *string
	XPReward *int
	Priority *Priority
}

// Update edits an active task.
func (r *Registry) Update(id string, u Update) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	if !t.IsActive() {
		return nil, shared.ErrTaskTerminal
	}

	next := t.Clone()
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.XPReward != nil {
		next.XPReward = *u.XPReward
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	r.tasks[id] = next
	return next.Clone(), nil
}

// Delete removes a task.
func (r *Registry) Delete(id string) error {
	if _, ok := r.tasks[id]; !ok {
		return shared.ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

// Transition resolves an active task. It fails for unknown or terminal tasks.
func (r *Registry) Transition(id string, to Status, at time.Time) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	if err := t.Resolve(to, at); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// CountByStatus counts tasks in a status.
func (r *Registry) CountByStatus(s Status) int {
	n := 0
	for _, t := range r.tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// Len is the number of stored tasks.
func (r *Registry) Len() int {
	return len(r.tasks)
}

// Snapshot returns copies of all tasks, oldest first.
func (r *Registry) Snapshot() []*Task {
	return r.List(Filter{})
}

// Restore replaces the registry contents. Invalid records are skipped and
// their ids returned.
func (r *Registry) Restore(tasks []*Task) []string {
	r.tasks = make(map[string]*Task, len(tasks))
	var skipped []string
	for _, t := range tasks {
		if t == nil || t.ID == "" || !t.Status.IsValid() {
			if t != nil {
				skipped = append(skipped, t.ID)
			}
			continue
		}
		r.tasks[t.ID] = t.Clone()
	}
	return skipped
}
