package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The presentation layer subscribes to these; the engine
// never renders anything itself.
const (
	// Ledger events
	EventXPApplied    EventType = "ledger.xp_applied"
	EventLevelChanged EventType = "ledger.level_changed"
	EventLockRecovery EventType = "ledger.lock_recovered"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventBreakerSkipped      EventType = "achievement.breaker_skipped"
	EventPredicateFailed     EventType = "achievement.predicate_failed"

	// Punishment events
	EventPunishmentApplied EventType = "punishment.applied"
	EventDemotion          EventType = "punishment.demotion"
	EventHealthChanged     EventType = "punishment.health_changed"
	EventIdleWarning       EventType = "punishment.idle_warning"

	// Progress events
	EventStreakUpdated EventType = "progress.streak_updated"
	EventStreakBroken  EventType = "progress.streak_broken"
	EventDayRolledOver EventType = "progress.day_rolled_over"

	// Task events
	EventTaskCreated  EventType = "task.created"
	EventTaskResolved EventType = "task.resolved"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the engine instance that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the engine clock.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAppliedEvent is emitted after a ledger commit.
type XPAppliedEvent struct {
	BaseEvent
	TransactionID string  `json:"transaction_id"`
	Source        string  `json:"source"`
	BaseAmount    int     `json:"base_amount"`
	Amount        int     `json:"amount"`
	Multiplier    float64 `json:"multiplier"`
	BonusType     string  `json:"bonus_type,omitempty"`
	PreviousXP    int     `json:"previous_xp"`
	NewXP         int     `json:"new_xp"`
	TodayXP       int     `json:"today_xp"`
}

// Payload implements Event interface.
func (e XPAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"source":         e.Source,
		"base_amount":    e.BaseAmount,
		"amount":         e.Amount,
		"multiplier":     e.Multiplier,
		"bonus_type":     e.BonusType,
		"previous_xp":    e.PreviousXP,
		"new_xp":         e.NewXP,
		"today_xp":       e.TodayXP,
	}
}

// LevelChangedEvent is emitted when the level moves in either direction.
type LevelChangedEvent struct {
	BaseEvent
	FromLevel int    `json:"from_level"`
	ToLevel   int    `json:"to_level"`
	Reason    string `json:"reason"` // "xp", "demotion", "admin"
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_level": e.FromLevel,
		"to_level":   e.ToLevel,
		"reason":     e.Reason,
	}
}

// LockRecoveredEvent is emitted when a stale ledger lock was force-cleared.
type LockRecoveredEvent struct {
	BaseEvent
	HeldFor time.Duration `json:"held_for"`
}

// Payload implements Event interface.
func (e LockRecoveredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"held_for": e.HeldFor.String(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per achievement id.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	RewardXP      int    `json:"reward_xp"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"reward_xp":      e.RewardXP,
	}
}

// BreakerSkippedEvent is a diagnostic emitted when evaluation was rate limited.
type BreakerSkippedEvent struct {
	BaseEvent
	Skipped int `json:"skipped"`
}

// Payload implements Event interface.
func (e BreakerSkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"skipped": e.Skipped,
	}
}

// PredicateFailedEvent is a diagnostic emitted when a predicate panicked.
type PredicateFailedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Error         string `json:"error"`
}

// Payload implements Event interface.
func (e PredicateFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"error":          e.Error,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Punishment Events
// ═══════════════════════════════════════════════════════════════════════════

// PunishmentAppliedEvent is emitted for every committed punishment record.
type PunishmentAppliedEvent struct {
	BaseEvent
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
	NewXP  int    `json:"new_xp"`
}

// Payload implements Event interface.
func (e PunishmentAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount": e.Amount,
		"reason": e.Reason,
		"new_xp": e.NewXP,
	}
}

// DemotionEvent is emitted when a punishment pushed XP below the grace band.
type DemotionEvent struct {
	BaseEvent
	FromLevel int `json:"from_level"`
	ToLevel   int `json:"to_level"`
	Penalty   int `json:"penalty"`
	Demotions int `json:"demotions"`
}

// Payload implements Event interface.
func (e DemotionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_level": e.FromLevel,
		"to_level":   e.ToLevel,
		"penalty":    e.Penalty,
		"demotions":  e.Demotions,
	}
}

// HealthChangedEvent is emitted when the derived health tier changes.
type HealthChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// Payload implements Event interface.
func (e HealthChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from": e.From,
		"to":   e.To,
	}
}

// IdleWarningEvent is emitted once per idle period before punishment starts.
type IdleWarningEvent struct {
	BaseEvent
	IdleFor time.Duration `json:"idle_for"`
}

// Payload implements Event interface.
func (e IdleWarningEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"idle_for": e.IdleFor.String(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakEvent is emitted when the streak extends or breaks at a day boundary.
type StreakEvent struct {
	BaseEvent
	Count   int `json:"count"`
	Longest int `json:"longest"`
	Was     int `json:"was"`
}

// Payload implements Event interface.
func (e StreakEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"count":   e.Count,
		"longest": e.Longest,
		"was":     e.Was,
	}
}

// DayRolledOverEvent is emitted once per calendar day.
type DayRolledOverEvent struct {
	BaseEvent
	ClosedDay string `json:"closed_day"`
	ClosedXP  int    `json:"closed_xp"`
	NewDay    string `json:"new_day"`
}

// Payload implements Event interface.
func (e DayRolledOverEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"closed_day": e.ClosedDay,
		"closed_xp":  e.ClosedXP,
		"new_day":    e.NewDay,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskEvent is emitted when a task is created or reaches a terminal status.
type TaskEvent struct {
	BaseEvent
	TaskID   string `json:"task_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	XPChange int    `json:"xp_change"`
}

// Payload implements Event interface.
func (e TaskEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":   e.TaskID,
		"title":     e.Title,
		"status":    e.Status,
		"xp_change": e.XPChange,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
