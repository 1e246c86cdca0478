package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/config"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
	"github.com/grindstone-hq/grindstone/pkg/logger"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

func loadConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func TestOpen_Memory(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"GRINDSTONE_STORE_KIND": "memory"})
	ctx := context.Background()

	rt, err := Open(ctx, cfg, logger.Discard(), Options{Version: "test"})
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.NotNil(t, rt.Engine)
	assert.NotNil(t, rt.Bus)
	assert.NotNil(t, rt.Notifications)

	status := rt.Health.Check(ctx)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Checks)

	hist, err := rt.Engine.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestOpen_SQLiteSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grind.db")
	cfg := loadConfig(t, map[string]string{
		"GRINDSTONE_STORE_KIND":        "sqlite",
		"GRINDSTONE_STORE_SQLITE_PATH": path,
	})
	ctx := context.Background()
	clock := timeutil.NewFakeClock(time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC))

	rt, err := Open(ctx, cfg, logger.Discard(), Options{Clock: clock})
	require.NoError(t, err)

	tk, err := rt.Engine.CreateTask(ctx, "Write report", 30, task.PriorityMedium)
	require.NoError(t, err)
	require.NotNil(t, rt.Engine.CompleteTask(ctx, tk.ID))
	earned := rt.Engine.State().TotalXP
	require.Positive(t, earned)

	status := rt.Health.Check(ctx)
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "store")
	require.NoError(t, rt.Close(ctx))

	rt, err = Open(ctx, cfg, logger.Discard(), Options{Clock: clock})
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.Equal(t, earned, rt.Engine.State().TotalXP)
	got, err := rt.Engine.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	hist, err := rt.Engine.History(ctx, 10)
	require.NoError(t, err)
	sources := make([]string, 0, len(hist))
	for _, tx := range hist {
		sources = append(sources, tx.Source)
	}
	assert.Contains(t, sources, "Task:Write report")
}

func TestOpen_BadRulesFile(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"GRINDSTONE_STORE_KIND": "memory",
		"GRINDSTONE_RULES_FILE": filepath.Join(t.TempDir(), "missing.toml"),
	})
	_, err := Open(context.Background(), cfg, logger.Discard(), Options{})
	assert.Error(t, err)
}
