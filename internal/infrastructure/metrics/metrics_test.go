package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/infrastructure/scheduler"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_Exposition(t *testing.T) {
	c := New()

	c.XPApplied("Task:Write report", 120, "critical")
	c.XPApplied("Punishment:Idle", -15, "")
	c.LockRejected()
	c.StaleLockRecovered()
	c.BreakerSkipped()
	c.AchievementUnlocked("first_blood")
	c.PunishmentApplied("idle", 15)
	c.Demotion()
	c.HealthObserved("warning")
	c.StateObserved(1200, 80, 4, 3)
	c.JobCompleted(scheduler.JobResult{JobName: "idle_check", Success: true, Duration: 2 * time.Millisecond})
	c.JobCompleted(scheduler.JobResult{JobName: "idle_check", Skipped: true})
	c.JobCompleted(scheduler.JobResult{JobName: "health_check", Error: errors.New("boom")})

	body := scrape(t, c)
	for _, want := range []string{
		`grindstone_ledger_transactions_total{bonus="critical",kind="task"} 1`,
		`grindstone_ledger_transactions_total{bonus="none",kind="punishment"} 1`,
		`grindstone_ledger_xp_total{direction="credit"} 120`,
		`grindstone_ledger_xp_total{direction="debit"} 15`,
		`grindstone_ledger_lock_rejections_total 1`,
		`grindstone_ledger_stale_lock_recoveries_total 1`,
		`grindstone_achievements_breaker_skips_total 1`,
		`grindstone_achievements_unlocked_total{id="first_blood"} 1`,
		`grindstone_punishment_applied_total{reason="idle"} 1`,
		`grindstone_punishment_demotions_total 1`,
		`grindstone_punishment_health{state="warning"} 1`,
		`grindstone_punishment_health{state="healthy"} 0`,
		`grindstone_total_xp 1200`,
		`grindstone_level 4`,
		`grindstone_streak_days 3`,
		`grindstone_scheduler_job_runs_total{job="idle_check",outcome="success"} 1`,
		`grindstone_scheduler_job_runs_total{job="idle_check",outcome="skipped"} 1`,
		`grindstone_scheduler_job_runs_total{job="health_check",outcome="failure"} 1`,
		`go_goroutines`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Demotion()

	assert.Contains(t, scrape(t, a), "grindstone_punishment_demotions_total 1")
	assert.Contains(t, scrape(t, b), "grindstone_punishment_demotions_total 0")
}

func TestSourceKind(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"Task:Write report", "task"},
		{"Achievement:First Blood", "achievement"},
		{"Punishment:Idle", "punishment"},
		{"Demotion:Level 3", "demotion"},
		{"Admin:grant", "admin"},
		{"QuickBonus:", "quick_bonus"},
		{"manual", "other"},
		{"", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceKind(tt.source))
		})
	}
}
