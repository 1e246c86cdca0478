package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

var t0 = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
}

func xpEvent(amount int) shared.XPAppliedEvent {
	return shared.XPAppliedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventXPApplied, "engine-1", t0),
		Source:    "Task:demo",
		Amount:    amount,
	}
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventXPApplied, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(xpEvent(10)))
	require.NoError(t, bus.Publish(shared.HealthChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventHealthChanged, "engine-1", t0),
		From:      "dying",
		To:        "warning",
	}))

	assert.Equal(t, []shared.EventType{shared.EventXPApplied}, typed)
	assert.Equal(t, []shared.EventType{shared.EventXPApplied, shared.EventHealthChanged}, all)
	assert.Equal(t, StatsSnapshot{Published: 2, Handled: 3}, bus.Stats())
}

func TestInMemoryEventBus_HandlerFailuresContained(t *testing.T) {
	bus := syncBus()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("worse") }))

	called := false
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		called = true
		return nil
	}))

	assert.NoError(t, bus.Publish(xpEvent(1)))
	assert.True(t, called)
	assert.Equal(t, int64(2), bus.Stats().Failed)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(xpEvent(1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Subscribe(shared.EventXPApplied, nil))
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})

	var mu sync.Mutex
	n := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(xpEvent(i)))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 20
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close())
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis fan-out
// ─────────────────────────────────────────────────────────────────────────────

type fakeRedis struct {
	mu        sync.Mutex
	published []string
	messages  chan RedisMessage
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{messages: make(chan RedisMessage, 16)}
}

func (f *fakeRedis) Publish(_ context.Context, _ string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message.(string))
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.messages, nil
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRedis) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func TestRedisEventBus_PublishesEnvelope(t *testing.T) {
	client := newFakeRedis()
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, InstanceID: "me", Logger: quietLogger()})
	require.NoError(t, err)
	defer bus.Close()

	local := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		local++
		return nil
	}))
	require.NoError(t, bus.Publish(xpEvent(25)))

	sent := client.sent()
	require.Len(t, sent, 1)

	var env eventEnvelope
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &env))
	assert.Equal(t, "me", env.InstanceID)
	assert.Equal(t, shared.EventXPApplied, env.EventType)
	assert.Equal(t, float64(25), env.Payload["amount"])
	assert.Equal(t, 1, local)
}

func TestRedisEventBus_ReplaysRemoteEventsOnly(t *testing.T) {
	client := newFakeRedis()
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, InstanceID: "me", Logger: quietLogger()})
	require.NoError(t, err)

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.Subscribe(shared.EventDemotion, func(e shared.Event) error {
		received <- e
		return nil
	}))

	own, _ := json.Marshal(eventEnvelope{InstanceID: "me", EventType: shared.EventDemotion})
	remote, _ := json.Marshal(eventEnvelope{
		InstanceID:  "other",
		EventType:   shared.EventDemotion,
		AggregateID: "engine-2",
		OccurredAt:  t0,
		Payload:     map[string]interface{}{"to_level": 2},
	})
	client.messages <- RedisMessage{Payload: string(own)}
	client.messages <- RedisMessage{Payload: "not json"}
	client.messages <- RedisMessage{Payload: string(remote)}

	select {
	case e := <-received:
		assert.Equal(t, "engine-2", e.AggregateID())
		assert.Equal(t, float64(2), e.Payload()["to_level"])
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	require.NoError(t, bus.Close())
	assert.Empty(t, received)
	assert.True(t, client.closed)
	assert.ErrorIs(t, bus.Publish(xpEvent(1)), ErrEventBusClosed)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
