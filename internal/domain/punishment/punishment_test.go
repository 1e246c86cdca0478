package punishment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

func TestDeriveHealth(t *testing.T) {
	th := DefaultHealthThresholds()

	tests := []struct {
		todayXP int
		streak  int
		want    Health
	}{
		{0, 0, HealthDying},
		{19, 0, HealthDying},
		{20, 0, HealthWarning},
		{0, 1, HealthWarning},
		{49, 5, HealthWarning},
		{60, 1, HealthWarning},
		{50, 2, HealthHealthy},
		{60, 2, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("xp=%d,streak=%d", tt.todayXP, tt.streak), func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveHealth(tt.todayXP, tt.streak, th))
		})
	}
}

func TestDeriveHealth_Total(t *testing.T) {
	th := DefaultHealthThresholds()
	valid := map[Health]bool{HealthHealthy: true, HealthWarning: true, HealthDying: true}
	for xp := -50; xp <= 200; xp += 5 {
		for streak := 0; streak <= 5; streak++ {
			assert.True(t, valid[DeriveHealth(xp, streak, th)])
		}
	}
}

func TestDyingTracker_OneShot(t *testing.T) {
	var d DyingTracker
	grace := 30 * time.Minute

	assert.False(t, d.Observe(HealthDying, t0, grace))
	assert.False(t, d.Observe(HealthDying, t0.Add(29*time.Minute), grace))
	assert.True(t, d.Observe(HealthDying, t0.Add(30*time.Minute), grace))
	assert.False(t, d.Observe(HealthDying, t0.Add(2*time.Hour), grace))

	// leaving dying re-arms the flag
	assert.False(t, d.Observe(HealthWarning, t0.Add(3*time.Hour), grace))
	assert.False(t, d.DiedFlag)
	assert.False(t, d.Observe(HealthDying, t0.Add(4*time.Hour), grace))
	assert.True(t, d.Observe(HealthDying, t0.Add(5*time.Hour), grace))
}

func TestRules(t *testing.T) {
	r := DefaultRules()
	require.NoError(t, r.Validate())

	assert.Equal(t, 50, r.FailurePenalty(100))
	assert.Equal(t, 10, r.FailurePenalty(5))
	assert.Equal(t, 25, r.AbandonPenalty(100))
	assert.Equal(t, 5, r.AbandonPenalty(0))

	assert.Equal(t, -20, Normalize(20))
	assert.Equal(t, -20, Normalize(-20))

	r.Idle.WarnAfter = time.Hour
	assert.Error(t, r.Validate())
}

func TestIdleTracker_WarnOncePerPeriod(t *testing.T) {
	cfg := DefaultIdleConfig()
	var tr IdleTracker
	tr.RecordActivity(t0)

	assert.Equal(t, IdleDecision{IdleFor: 5 * time.Minute}, tr.Check(t0.Add(5*time.Minute), cfg))

	d := tr.Check(t0.Add(10*time.Minute), cfg)
	assert.True(t, d.Warn)
	d = tr.Check(t0.Add(15*time.Minute), cfg)
	assert.False(t, d.Warn)

	d = tr.Check(t0.Add(20*time.Minute), cfg)
	assert.True(t, d.Punish)
	assert.Equal(t, 1, tr.PunishedToday)

	// activity resets the period
	tr.RecordActivity(t0.Add(21 * time.Minute))
	d = tr.Check(t0.Add(32*time.Minute), cfg)
	assert.True(t, d.Warn)
}

func TestIdleTracker_CappedPerDay(t *testing.T) {
	cfg := DefaultIdleConfig()
	var tr IdleTracker
	tr.RecordActivity(t0)

	punished := 0
	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(cfg.PunishAfter)
		if tr.Check(now, cfg).Punish {
			punished++
		}
	}
	assert.Equal(t, cfg.MaxPerDay, punished)

	d := tr.Check(now.Add(cfg.PunishAfter), cfg)
	assert.True(t, d.CapReached)

	// a new calendar day lifts the cap
	tomorrow := time.Date(2026, 8, 11, 9, 0, 0, 0, time.UTC)
	assert.True(t, tr.Check(tomorrow, cfg).Punish)
	assert.Equal(t, 1, tr.PunishedToday)
}

func TestQueue_FIFOAndCascade(t *testing.T) {
	q := NewQueue()
	q.Push(Record{Amount: -1, Reason: "a"})
	q.Push(Record{Amount: -2, Reason: "b"})

	var order []string
	outcomes := q.Drain(func(r Record) Outcome {
		order = append(order, r.Reason)
		if r.Reason == "a" {
			// enqueued mid-drain: handled after b, by this same drain
			q.Push(Record{Amount: -3, Reason: "cascade"})
			assert.Nil(t, q.Drain(func(Record) Outcome { return Outcome{} }))
		}
		return Outcome{Applied: true}
	})

	assert.Equal(t, []string{"a", "b", "cascade"}, order)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "cascade", outcomes[2].Record.Reason)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PanicDoesNotStopDrain(t *testing.T) {
	q := NewQueue()
	q.Push(Record{Reason: "bad"})
	q.Push(Record{Reason: "good"})

	outcomes := q.Drain(func(r Record) Outcome {
		if r.Reason == "bad" {
			panic("store exploded")
		}
		return Outcome{Applied: true}
	})

	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.True(t, outcomes[1].Applied)
}
