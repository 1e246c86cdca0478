// Package notification turns engine events into user-facing notices.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies what a notification is about.
type Type string

const (
	TypeLevelUp         Type = "level_up"
	TypeLevelDown       Type = "level_down"
	TypeAchievement     Type = "achievement"
	TypePunishment      Type = "punishment"
	TypeDemotion        Type = "demotion"
	TypeHealthChanged   Type = "health_changed"
	TypeIdleWarning     Type = "idle_warning"
	TypeStreakMilestone Type = "streak_milestone"
	TypeStreakBroken    Type = "streak_broken"
	TypeJackpot         Type = "jackpot"
)

// Priority orders notifications for delivery.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Notification is one message for the user.
type Notification struct {
	Type      Type      `json:"type"`
	Priority  Priority  `json:"priority"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`

	// EventType is the engine event that produced the notification.
	EventType shared.EventType `json:"event_type"`
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// ErrNotNotifiable is returned by FromEvent for events nobody needs to hear
// about.
var ErrNotNotifiable = errors.New("notification: event is not notifiable")

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGERS
// ══════════════════════════════════════════════════════════════════════════════

// StreakMilestones are the streak lengths worth a notice.
var StreakMilestones = []int{3, 7, 14, 30, 60, 100, 365}

// FromEvent builds the notification for an engine event. It reads the
// event payload rather than its concrete type, so events replayed from
// another instance over pub/sub produce the same notices.
func FromEvent(ev shared.Event) (Notification, error) {
	p := ev.Payload()
	n := Notification{
		CreatedAt: ev.OccurredAt(),
		EventType: ev.EventType(),
		Priority:  PriorityNormal,
	}

	switch ev.EventType() {
	case shared.EventLevelChanged:
		from, to := intOf(p, "from_level"), intOf(p, "to_level")
		if to > from {
			n.Type, n.Title = TypeLevelUp, "Level up"
			n.Message = fmt.Sprintf("You reached level %d.", to)
			return n, nil
		}
		if stringOf(p, "reason") == "demotion" {
			// DemotionEvent carries the penalty; report it there.
			return Notification{}, ErrNotNotifiable
		}
		n.Type, n.Title = TypeLevelDown, "Level lost"
		n.Message = fmt.Sprintf("You dropped to level %d.", to)
		n.Priority = PriorityHigh

	case shared.EventDemotion:
		n.Type, n.Title = TypeDemotion, "Demoted"
		n.Message = fmt.Sprintf("Demoted from level %d to %d, %d XP penalty.",
			intOf(p, "from_level"), intOf(p, "to_level"), abs(intOf(p, "penalty")))
		n.Priority = PriorityUrgent

	case shared.EventAchievementUnlocked:
		n.Type, n.Title = TypeAchievement, "Achievement unlocked"
		n.Message = stringOf(p, "name")
		if xp := intOf(p, "reward_xp"); xp > 0 {
			n.Message += fmt.Sprintf(" (+%d XP)", xp)
		}

	case shared.EventPunishmentApplied:
		n.Type, n.Title = TypePunishment, "Penalty"
		n.Message = fmt.Sprintf("%d XP: %s.", -abs(intOf(p, "amount")), stringOf(p, "reason"))
		n.Priority = PriorityHigh

	case shared.EventHealthChanged:
		to := stringOf(p, "to")
		n.Type, n.Title = TypeHealthChanged, "Health "+to
		switch to {
		case "dying":
			n.Message = "No XP for too long. Earn some before the death penalty lands."
			n.Priority = PriorityUrgent
		case "warning":
			n.Message = "Activity is slipping."
			n.Priority = PriorityHigh
		default:
			n.Message = "Back to healthy."
			n.Priority = PriorityLow
		}

	case shared.EventIdleWarning:
		n.Type, n.Title = TypeIdleWarning, "Still there?"
		n.Message = fmt.Sprintf("Idle for %s. Do something before the idle penalty starts.", stringOf(p, "idle_for"))
		n.Priority = PriorityHigh

	case shared.EventStreakUpdated:
		count := intOf(p, "count")
		if !isMilestone(count) {
			return Notification{}, ErrNotNotifiable
		}
		n.Type, n.Title = TypeStreakMilestone, "Streak"
		n.Message = fmt.Sprintf("%d days in a row.", count)

	case shared.EventStreakBroken:
		was := intOf(p, "was")
		if was == 0 {
			return Notification{}, ErrNotNotifiable
		}
		n.Type, n.Title = TypeStreakBroken, "Streak broken"
		n.Message = fmt.Sprintf("Your %d-day streak ended.", was)
		n.Priority = PriorityHigh

	case shared.EventXPApplied:
		if stringOf(p, "bonus_type") != "jackpot" {
			return Notification{}, ErrNotNotifiable
		}
		n.Type, n.Title = TypeJackpot, "Jackpot"
		n.Message = fmt.Sprintf("+%d XP from %s.", intOf(p, "amount"), stringOf(p, "source"))

	default:
		return Notification{}, ErrNotNotifiable
	}
	return n, nil
}

func isMilestone(count int) bool {
	for _, m := range StreakMilestones {
		if m == count {
			return true
		}
	}
	return false
}

// intOf reads a number from a payload. Payloads decoded from JSON carry
// float64.
func intOf(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringOf(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
