package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/application/eventhandler"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/messaging"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/metrics"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/persistence/memory"
	"github.com/grindstone-hq/grindstone/internal/interface/http/handlers"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

var t0 = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server  *httptest.Server
	engine  *engine.Engine
	metrics *metrics.Collector
}

type envSetup struct {
	engine    engine.Config
	server    Config
	deps      Dependencies
	publisher shared.EventPublisher
}

type envOption func(*envSetup)

func withAdmin(hash string) envOption {
	return func(e *envSetup) {
		e.engine.Features.Admin = true
		e.server.Admin = true
		e.server.AdminPassphraseHash = hash
	}
}

// withNotifications routes engine events through a synchronous bus into an
// inbox served by the API.
func withNotifications(t *testing.T) envOption {
	return func(e *envSetup) {
		bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: e.deps.Logger})
		t.Cleanup(func() { _ = bus.Close() })

		inbox := eventhandler.NewInbox(10)
		notifier := eventhandler.NewNotifier(inbox, eventhandler.DefaultNotifierConfig(), e.deps.Logger)
		require.NoError(t, notifier.Register(bus))

		e.deps.Notifications = inbox
		e.publisher = bus
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	setup := envSetup{
		engine: engine.DefaultConfig(),
		server: DefaultConfig(),
		deps:   Dependencies{Logger: quiet},
	}
	setup.engine.Features.Achievements = false
	for _, o := range opts {
		o(&setup)
	}

	store := memory.NewStore()
	m := metrics.New()
	engineOpts := []engine.Option{
		engine.WithClock(timeutil.NewFakeClock(t0)),
		engine.WithRandomSource(reward.NewSequenceSource(0.99)),
		engine.WithStore(store),
		engine.WithArchive(store),
		engine.WithMetrics(m),
		engine.WithLogger(quiet),
	}
	if setup.publisher != nil {
		engineOpts = append(engineOpts, engine.WithPublisher(setup.publisher))
	}
	eng, err := engine.New(setup.engine, engineOpts...)
	require.NoError(t, err)

	deps := setup.deps
	deps.Engine = eng
	deps.Metrics = m.Handler()
	srv, err := NewServer(setup.server, deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, engine: eng, metrics: m}
}

type response struct {
	Status  int             `json:"-"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) response {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestServer_TaskLifecycle(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, http.MethodPost, "/api/tasks", `{"title":"Write report","xp_reward":100,"priority":"medium"}`)
	require.Equal(t, http.StatusCreated, created.Status)
	tk := decode[map[string]any](t, created.Data)
	id := tk["id"].(string)
	assert.Equal(t, "active", tk["status"])

	list := env.do(t, http.MethodGet, "/api/tasks?status=active", "")
	require.Equal(t, http.StatusOK, list.Status)
	assert.Equal(t, 1, list.Meta.TotalCount)

	renamed := env.do(t, http.MethodPatch, "/api/tasks/"+id, `{"title":"Write the report"}`)
	require.Equal(t, http.StatusOK, renamed.Status)
	assert.Equal(t, "Write the report", decode[map[string]any](t, renamed.Data)["title"])

	done := env.do(t, http.MethodPost, "/api/tasks/"+id+"/complete", "")
	require.Equal(t, http.StatusOK, done.Status)
	res := decode[resolveResponse](t, done.Data)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Result)
	assert.Equal(t, 100, res.Result.Amount)
	assert.True(t, res.Result.LeveledUp)

	// already resolved: ignored
	again := env.do(t, http.MethodPost, "/api/tasks/"+id+"/complete", "")
	assert.Equal(t, http.StatusConflict, again.Status)
	assert.False(t, decode[resolveResponse](t, again.Data).Applied)

	state := decode[engine.StateView](t, env.do(t, http.MethodGet, "/api/state", "").Data)
	assert.Equal(t, 100, state.TotalXP)
	assert.Equal(t, 2, state.Level)
	assert.Zero(t, state.ActiveTasks)

	txs := env.do(t, http.MethodGet, "/api/transactions?limit=5", "")
	require.Equal(t, http.StatusOK, txs.Status)
	assert.Equal(t, 1, txs.Meta.TotalCount)

	archived := env.do(t, http.MethodGet, "/api/transactions?archive=true", "")
	require.Equal(t, http.StatusOK, archived.Status)
	assert.Equal(t, 1, archived.Meta.TotalCount)

	deleted := env.do(t, http.MethodDelete, "/api/tasks/"+id, "")
	assert.Equal(t, http.StatusNoContent, deleted.Status)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/tasks/"+id, "").Status)
}

func TestServer_FailAndAbandon(t *testing.T) {
	env := newTestEnv(t)

	failing := decode[map[string]any](t, env.do(t, http.MethodPost, "/api/tasks", `{"title":"Ship","xp_reward":40}`).Data)
	abandoned := decode[map[string]any](t, env.do(t, http.MethodPost, "/api/tasks", `{"title":"Read","xp_reward":8}`).Data)

	failed := env.do(t, http.MethodPost, "/api/tasks/"+failing["id"].(string)+"/fail", "")
	require.Equal(t, http.StatusOK, failed.Status)
	assert.Equal(t, -20, decode[resolveResponse](t, failed.Data).Result.Amount)

	gone := env.do(t, http.MethodPost, "/api/tasks/"+abandoned["id"].(string)+"/abandon", "")
	require.Equal(t, http.StatusOK, gone.Status)
	assert.Equal(t, -5, decode[resolveResponse](t, gone.Data).Result.Amount)

	failedList := env.do(t, http.MethodGet, "/api/tasks?status=failed", "")
	assert.Equal(t, 1, failedList.Meta.TotalCount)
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"empty title", http.MethodPost, "/api/tasks", `{"title":"","xp_reward":10}`, http.StatusBadRequest},
		{"negative reward", http.MethodPost, "/api/tasks", `{"title":"x","xp_reward":-1}`, http.StatusBadRequest},
		{"bad priority", http.MethodPost, "/api/tasks", `{"title":"x","xp_reward":1,"priority":"urgent"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/tasks", `{"title":"x","xp":1}`, http.StatusBadRequest},
		{"malformed", http.MethodPost, "/api/tasks", `{`, http.StatusBadRequest},
		{"missing task", http.MethodGet, "/api/tasks/nope", "", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/tasks?status=lost", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/transactions?limit=0", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
		{"admin not mounted", http.MethodPost, "/api/admin/xp", `{"amount":5}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.Status)
			assert.False(t, resp.Success)
		})
	}
}

func TestServer_ActivityResetsIdle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/activity", "")
	assert.Equal(t, http.StatusNoContent, resp.Status)

	state := decode[engine.StateView](t, env.do(t, http.MethodGet, "/api/state", "").Data)
	assert.Equal(t, t0, state.LastActivity.UTC())
}

func TestServer_Admin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, withAdmin(string(hash)))

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/admin/xp", `{"amount":250}`).Status)
	assert.Equal(t, http.StatusUnauthorized,
		env.do(t, http.MethodPost, "/api/admin/xp", `{"amount":250}`, "X-Admin-Passphrase", "wrong").Status)

	auth := []string{"Authorization", "Bearer open sesame"}
	added := env.do(t, http.MethodPost, "/api/admin/xp", `{"amount":250}`, auth...)
	require.Equal(t, http.StatusOK, added.Status)
	assert.Equal(t, 250, env.engine.State().TotalXP)

	huge := env.do(t, http.MethodPost, "/api/admin/xp", `{"amount":9223372036854775807}`, auth...)
	assert.Equal(t, http.StatusBadRequest, huge.Status)
	assert.Equal(t, 250, env.engine.State().TotalXP)

	level := env.do(t, http.MethodPost, "/api/admin/level", `{"level":0}`, auth...)
	assert.Equal(t, http.StatusBadRequest, level.Status)

	level = env.do(t, http.MethodPost, "/api/admin/level", `{"level":4}`, auth...)
	require.Equal(t, http.StatusOK, level.Status)
	assert.Equal(t, 4, env.engine.State().Level)

	demoted := env.do(t, http.MethodPost, "/api/admin/demote", "", auth...)
	require.Equal(t, http.StatusOK, demoted.Status)
	assert.Equal(t, 3, env.engine.State().Level)

	reset := env.do(t, http.MethodPost, "/api/admin/reset", "", auth...)
	require.Equal(t, http.StatusOK, reset.Status)
	assert.Zero(t, env.engine.State().TotalXP)
}

func TestServer_AdminDisabledInEngine(t *testing.T) {
	env := newTestEnv(t, func(e *envSetup) {
		e.server.Admin = true
	})
	resp := env.do(t, http.MethodPost, "/api/admin/demote", "")
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	checker := handlers.NewDependencyChecker("test")
	var failing atomic.Bool
	checker.AddCheck("store", func(context.Context) error {
		if failing.Load() {
			return errors.New("disk on fire")
		}
		return nil
	})
	env := newTestEnv(t, func(e *envSetup) {
		e.deps.HealthChecker = checker
	})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Status)
	failing.Store(true)
	down := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, down.Status)
	status := decode[handlers.HealthStatus](t, down.Data)
	assert.Equal(t, "disk on fire", status.Checks["store"].Message)

	env.do(t, http.MethodPost, "/api/tasks", `{"title":"t","xp_reward":10}`)
	id := env.engine.ListTasks(task.Filter{})[0].ID
	env.do(t, http.MethodPost, "/api/tasks/"+id+"/complete", "")

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `grindstone_ledger_transactions_total{bonus="none",kind="task"} 1`)
}

func TestServer_Notifications(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, newTestEnv(t).do(t, http.MethodGet, "/api/notifications", "").Status)

	env := newTestEnv(t, withNotifications(t))
	env.do(t, http.MethodPost, "/api/tasks", `{"title":"Big one","xp_reward":100}`)
	id := env.engine.ListTasks(task.Filter{})[0].ID
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/tasks/"+id+"/complete", "").Status)

	resp := env.do(t, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, resp.Status)
	notes := decode[[]map[string]any](t, resp.Data)
	require.Len(t, notes, 1)
	assert.Equal(t, "level_up", notes[0]["type"])
	assert.Equal(t, "normal", notes[0]["priority"])
	assert.Equal(t, "You reached level 2.", notes[0]["message"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/notifications?limit=0", "").Status)
}
