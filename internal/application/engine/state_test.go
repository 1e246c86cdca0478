package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
	"github.com/grindstone-hq/grindstone/pkg/retry"
)

func TestState_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seedXP(t, h, 405)
	tk, err := h.engine.CreateTask(ctx, "Persist me", 15, task.PriorityHigh)
	require.NoError(t, err)
	h.engine.Punish(ctx, 20, "test", PunishOptions{})

	restored := newHarness(t, withOptions(WithStore(h.store)))
	require.NoError(t, restored.engine.Load(ctx))

	want, got := h.engine.State(), restored.engine.State()
	assert.Equal(t, want.TotalXP, got.TotalXP)
	assert.Equal(t, want.TodayXP, got.TodayXP)
	assert.Equal(t, want.Level, got.Level)
	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, 2, got.Level, "a demoted level survives a reload")
	assert.Len(t, restored.engine.Transactions(0), len(h.engine.Transactions(0)))

	loaded, err := restored.engine.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persist me", loaded.Title)
}

type flakyStore struct {
	*memStore
	fail bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errors.New("store unavailable")
	}
	return s.memStore.Set(ctx, key, value)
}

type flakyArchive struct {
	fail bool
	txs  []ledger.Transaction
}

func (a *flakyArchive) Append(_ context.Context, txs []ledger.Transaction) error {
	if a.fail {
		return errors.New("archive unavailable")
	}
	a.txs = append(a.txs, txs...)
	return nil
}

func (a *flakyArchive) Recent(_ context.Context, limit int) ([]ledger.Transaction, error) {
	if limit < len(a.txs) {
		return a.txs[len(a.txs)-limit:], nil
	}
	return a.txs, nil
}

func (a *flakyArchive) Count(context.Context) (int, error) {
	return len(a.txs), nil
}

func singleAttempt() Option {
	return WithRetrier(retry.New(retry.WithMaxAttempts(1)))
}

func TestPersist_FailedWriteIsRetried(t *testing.T) {
	store := &flakyStore{memStore: newMemStore(), fail: true}
	h := newHarness(t, withOptions(WithStore(store), singleAttempt()))
	ctx := context.Background()

	seedXP(t, h, 120)
	_, err := store.Get(ctx, h.engine.cfg.StateKey)
	require.ErrorIs(t, err, shared.ErrStateNotFound)

	store.fail = false
	h.engine.persist(ctx)

	restored := newHarness(t, withOptions(WithStore(store)))
	require.NoError(t, restored.engine.Load(ctx))
	assert.Equal(t, 120, restored.engine.State().TotalXP)
}

func TestPersist_FailedArchiveKeepsBatch(t *testing.T) {
	archive := &flakyArchive{fail: true}
	h := newHarness(t, withOptions(WithArchive(archive), singleAttempt()))
	ctx := context.Background()

	seedXP(t, h, 10)
	seedXP(t, h, 20)
	assert.Empty(t, archive.txs)

	archive.fail = false
	seedXP(t, h, 30)

	require.Len(t, archive.txs, 3)
	assert.Equal(t, 10, archive.txs[0].TotalAmount)
	assert.Equal(t, 20, archive.txs[1].TotalAmount)
	assert.Equal(t, 30, archive.txs[2].TotalAmount)

	h.engine.persist(ctx)
	assert.Len(t, archive.txs, 3, "nothing archived twice")
}

func TestMigrateState_ClampsOutOfRangeTotals(t *testing.T) {
	st := migrateState(persistedState{
		Version: StateVersion,
		Ledger:  &ledger.Ledger{TotalXP: math.MaxInt, TodayXP: math.MaxInt, Level: math.MaxInt},
	})
	assert.Equal(t, ledger.MaxXP, st.Ledger.TotalXP)
	assert.Equal(t, ledger.MaxXP, st.Ledger.TodayXP)
	assert.Equal(t, ledger.MaxLevel, st.Ledger.Level)
}

func TestLoad_MissingStateStartsFresh(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Load(context.Background()))
	assert.Zero(t, h.engine.State().TotalXP)
	assert.Equal(t, 1, h.engine.State().Level)
}

func TestLoad_RejectsBadState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind error
	}{
		{"not json", `{{{`, shared.ErrStateCorrupted},
		{"checksum mismatch", `{"version":3,"checksum":"00","data":{"version":3}}`, shared.ErrStateCorrupted},
		{"future version", `{"version":9,"ledger":{"total_xp":1}}`, shared.ErrUnknownStateVers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			require.NoError(t, store.Set(context.Background(), DefaultConfig().StateKey, []byte(tt.raw)))

			h := newHarness(t, withOptions(WithStore(store)))
			err := h.engine.Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestLoad_MigratesLegacyState(t *testing.T) {
	legacy := map[string]any{
		"version": 1,
		"ledger": map[string]any{
			"total_xp": 450,
			"today_xp": -5,
		},
		"streak":       map[string]any{"count": 4, "longest": 2},
		"achievements": []string{"jackpot", "first_blood", "jackpot"},
		"tasks": []map[string]any{
			{"id": "t1", "title": "Old", "xp_reward": 5, "priority": "low", "status": "completed", "created_at": "2026-08-01T10:00:00Z"},
			{"id": "t2", "title": "Broken", "xp_reward": 5, "priority": "low", "status": "exploded", "created_at": "2026-08-01T10:00:00Z"},
		},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.Set(context.Background(), DefaultConfig().StateKey, raw))

	h := newHarness(t, withOptions(WithStore(store)))
	require.NoError(t, h.engine.Load(context.Background()))

	st := h.engine.State()
	assert.Equal(t, 450, st.TotalXP)
	assert.Equal(t, 3, st.Level)
	assert.Zero(t, st.TodayXP)
	assert.Equal(t, 4, st.Streak)
	assert.Equal(t, 4, st.LongestStreak)
	assert.Equal(t, []string{"first_blood", "jackpot"}, st.Achievements)
	assert.Equal(t, 1, st.Stats.TasksCompleted)

	_, err = h.engine.GetTask("t2")
	assert.True(t, shared.IsNotFound(err))
}

func TestMigrateState_Idempotent(t *testing.T) {
	st := migrateState(persistedState{Version: 2, Achievements: []string{"b", "a", "b"}})
	again := migrateState(st)
	assert.Equal(t, st, again)
	assert.Equal(t, StateVersion, again.Version)
	assert.Equal(t, []string{"a", "b"}, again.Achievements)
}

func TestEncodeState_ChecksumCoversPayload(t *testing.T) {
	raw, err := encodeState(persistedState{Version: StateVersion})
	require.NoError(t, err)

	var env stateEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, checksum(env.Data), env.Checksum)
	assert.Len(t, env.Checksum, 64)

	_, err = decodeState(raw)
	assert.NoError(t, err)
}
