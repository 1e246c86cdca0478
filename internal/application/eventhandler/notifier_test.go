package eventhandler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/notification"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/messaging"
)

var t0 = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func idleWarning(at time.Time) shared.Event {
	return shared.IdleWarningEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventIdleWarning, "grindstone", at),
		IdleFor:   10 * time.Minute,
	}
}

func demotion(at time.Time) shared.Event {
	return shared.DemotionEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDemotion, "grindstone", at),
		FromLevel: 3, ToLevel: 2, Penalty: -100,
	}
}

func TestNotifier_Cooldown(t *testing.T) {
	inbox := NewInbox(10)
	n := NewNotifier(inbox, NotifierConfig{Cooldown: time.Minute}, quiet())

	require.NoError(t, n.Handle(idleWarning(t0)))
	require.NoError(t, n.Handle(idleWarning(t0.Add(30*time.Second))))
	require.NoError(t, n.Handle(idleWarning(t0.Add(2*time.Minute))))

	// urgent notices bypass the cooldown
	require.NoError(t, n.Handle(demotion(t0)))
	require.NoError(t, n.Handle(demotion(t0.Add(time.Second))))

	assert.Len(t, inbox.Recent(0), 4)
	assert.EqualValues(t, 4, n.Sent())
	assert.EqualValues(t, 1, n.Suppressed())
}

func TestNotifier_MinPriority(t *testing.T) {
	inbox := NewInbox(10)
	n := NewNotifier(inbox, NotifierConfig{MinPriority: notification.PriorityHigh}, quiet())

	levelUp := shared.LevelChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventLevelChanged, "grindstone", t0),
		FromLevel: 1, ToLevel: 2,
	}
	require.NoError(t, n.Handle(levelUp))
	require.NoError(t, n.Handle(idleWarning(t0)))

	got := inbox.Recent(0)
	require.Len(t, got, 1)
	assert.Equal(t, notification.TypeIdleWarning, got[0].Type)
}

func TestNotifier_IgnoresQuietEvents(t *testing.T) {
	inbox := NewInbox(10)
	n := NewNotifier(inbox, DefaultNotifierConfig(), quiet())

	tx := shared.XPAppliedEvent{BaseEvent: shared.NewBaseEvent(shared.EventXPApplied, "grindstone", t0), Amount: 5}
	require.NoError(t, n.Handle(tx))
	assert.Empty(t, inbox.Recent(0))
	assert.Zero(t, n.Suppressed())
}

type failingSender struct{}

func (failingSender) Send(context.Context, notification.Notification) error {
	return errors.New("mailbox full")
}

func TestNotifier_SenderError(t *testing.T) {
	inbox := NewInbox(10)
	n := NewNotifier(Senders{failingSender{}, inbox}, DefaultNotifierConfig(), quiet())

	err := n.Handle(demotion(t0))
	assert.EqualError(t, err, "mailbox full")
	assert.Len(t, inbox.Recent(0), 1, "every sender is tried")
	assert.Zero(t, n.Sent())
}

func TestNotifier_OnBus(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: quiet()})
	defer bus.Close()

	inbox := NewInbox(10)
	require.NoError(t, NewNotifier(inbox, DefaultNotifierConfig(), quiet()).Register(bus))

	require.NoError(t, bus.Publish(demotion(t0)))
	got := inbox.Recent(0)
	require.Len(t, got, 1)
	assert.Equal(t, notification.TypeDemotion, got[0].Type)
}

func TestInbox_Capacity(t *testing.T) {
	inbox := NewInbox(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, inbox.Send(context.Background(), notification.Notification{Title: string(rune('a' + i))}))
	}

	all := inbox.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Title)
	assert.Equal(t, "e", all[2].Title)

	last := inbox.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Title)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), notification.Notification{
		Type: notification.TypeDemotion, Priority: notification.PriorityUrgent, Title: "Demoted", Message: "ouch",
	}))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "type=demotion")
	assert.Contains(t, out, "priority=urgent")
}
