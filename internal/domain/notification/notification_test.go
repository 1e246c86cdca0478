package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

var t0 = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

func base(t shared.EventType) shared.BaseEvent {
	return shared.NewBaseEvent(t, "grindstone", t0)
}

// decoded mimics an event replayed from another instance: only the type and
// a JSON-decoded payload survive.
type decoded struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (d decoded) Payload() map[string]interface{} { return d.payload }

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    shared.Event
		wantType Type
		wantPrio Priority
		contains string
	}{
		{
			name:     "level up",
			event:    shared.LevelChangedEvent{BaseEvent: base(shared.EventLevelChanged), FromLevel: 2, ToLevel: 3, Reason: "xp"},
			wantType: TypeLevelUp, wantPrio: PriorityNormal, contains: "level 3",
		},
		{
			name:     "level lost by admin",
			event:    shared.LevelChangedEvent{BaseEvent: base(shared.EventLevelChanged), FromLevel: 3, ToLevel: 2, Reason: "admin"},
			wantType: TypeLevelDown, wantPrio: PriorityHigh, contains: "level 2",
		},
		{
			name:     "demotion",
			event:    shared.DemotionEvent{BaseEvent: base(shared.EventDemotion), FromLevel: 4, ToLevel: 3, Penalty: -100},
			wantType: TypeDemotion, wantPrio: PriorityUrgent, contains: "100 XP penalty",
		},
		{
			name:     "achievement",
			event:    shared.AchievementUnlockedEvent{BaseEvent: base(shared.EventAchievementUnlocked), AchievementID: "first_blood", Name: "First Blood", RewardXP: 50},
			wantType: TypeAchievement, wantPrio: PriorityNormal, contains: "First Blood (+50 XP)",
		},
		{
			name:     "punishment",
			event:    shared.PunishmentAppliedEvent{BaseEvent: base(shared.EventPunishmentApplied), Amount: -15, Reason: "idle"},
			wantType: TypePunishment, wantPrio: PriorityHigh, contains: "-15 XP: idle",
		},
		{
			name:     "dying",
			event:    shared.HealthChangedEvent{BaseEvent: base(shared.EventHealthChanged), From: "warning", To: "dying"},
			wantType: TypeHealthChanged, wantPrio: PriorityUrgent, contains: "death penalty",
		},
		{
			name:     "recovered",
			event:    shared.HealthChangedEvent{BaseEvent: base(shared.EventHealthChanged), From: "warning", To: "healthy"},
			wantType: TypeHealthChanged, wantPrio: PriorityLow, contains: "healthy",
		},
		{
			name:     "idle warning",
			event:    shared.IdleWarningEvent{BaseEvent: base(shared.EventIdleWarning), IdleFor: 12 * time.Minute},
			wantType: TypeIdleWarning, wantPrio: PriorityHigh, contains: "12m0s",
		},
		{
			name:     "streak milestone",
			event:    shared.StreakEvent{BaseEvent: base(shared.EventStreakUpdated), Count: 7, Longest: 7, Was: 6},
			wantType: TypeStreakMilestone, wantPrio: PriorityNormal, contains: "7 days",
		},
		{
			name:     "streak broken",
			event:    shared.StreakEvent{BaseEvent: base(shared.EventStreakBroken), Count: 0, Longest: 9, Was: 9},
			wantType: TypeStreakBroken, wantPrio: PriorityHigh, contains: "9-day",
		},
		{
			name:     "jackpot",
			event:    shared.XPAppliedEvent{BaseEvent: base(shared.EventXPApplied), Source: "Task:Ship", Amount: 150, BonusType: "jackpot"},
			wantType: TypeJackpot, wantPrio: PriorityNormal, contains: "+150 XP from Task:Ship",
		},
		{
			name: "replayed demotion",
			event: decoded{
				BaseEvent: base(shared.EventDemotion),
				payload:   map[string]interface{}{"from_level": float64(5), "to_level": float64(4), "penalty": float64(-100)},
			},
			wantType: TypeDemotion, wantPrio: PriorityUrgent, contains: "from level 5 to 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := FromEvent(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, n.Type)
			assert.Equal(t, tt.wantPrio, n.Priority)
			assert.Contains(t, n.Message, tt.contains)
			assert.Equal(t, t0, n.CreatedAt)
			assert.Equal(t, tt.event.EventType(), n.EventType)
		})
	}
}

func TestFromEvent_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		event shared.Event
	}{
		{"plain xp", shared.XPAppliedEvent{BaseEvent: base(shared.EventXPApplied), Amount: 10}},
		{"demotion level change", shared.LevelChangedEvent{BaseEvent: base(shared.EventLevelChanged), FromLevel: 3, ToLevel: 2, Reason: "demotion"}},
		{"ordinary streak day", shared.StreakEvent{BaseEvent: base(shared.EventStreakUpdated), Count: 5}},
		{"nothing to break", shared.StreakEvent{BaseEvent: base(shared.EventStreakBroken)}},
		{"task created", shared.TaskEvent{BaseEvent: base(shared.EventTaskCreated), Title: "x"}},
		{"breaker diagnostic", shared.BreakerSkippedEvent{BaseEvent: base(shared.EventBreakerSkipped), Skipped: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEvent(tt.event)
			assert.ErrorIs(t, err, ErrNotNotifiable)
		})
	}
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "urgent", PriorityUrgent.String())
	assert.Equal(t, "unknown", Priority(42).String())
	b, err := PriorityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(b))
}
