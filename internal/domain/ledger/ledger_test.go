package ledger

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestLevel(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{-1000, 1},
		{-1, 1},
		{0, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{405, 3},
		{899, 3},
		{900, 4},
		{10000, 11},
		{MaxXP, MaxLevel},
		{math.MaxInt, MaxLevel},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("xp=%d", tt.xp), func(t *testing.T) {
			assert.Equal(t, tt.want, Level(tt.xp))
		})
	}
}

func TestLevel_MatchesFormulaAndIsPure(t *testing.T) {
	for xp := 0; xp <= 50000; xp += 37 {
		want := int(math.Floor(math.Sqrt(float64(xp)/100))) + 1
		require.Equal(t, want, Level(xp), "xp=%d", xp)
		require.Equal(t, Level(xp), Level(xp))
	}
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, 0, Threshold(0))
	assert.Equal(t, 0, Threshold(1))
	assert.Equal(t, 100, Threshold(2))
	assert.Equal(t, 400, Threshold(3))
	assert.Equal(t, 900, Threshold(4))

	for lvl := 1; lvl < 30; lvl++ {
		assert.Equal(t, lvl, Level(Threshold(lvl)))
	}
}

func TestThreshold_Saturates(t *testing.T) {
	assert.LessOrEqual(t, Threshold(MaxLevel), MaxXP)
	assert.Equal(t, MaxLevel, Level(Threshold(MaxLevel)))
	assert.Equal(t, math.MaxInt, Threshold(MaxLevel+1))
	assert.Equal(t, math.MaxInt, Threshold(math.MaxInt))

	p := ProgressFor(MaxXP, MaxLevel)
	assert.Equal(t, MaxLevel, p.Level)
	assert.Positive(t, p.ToNextLevel)
}

func TestProgressFor(t *testing.T) {
	p := ProgressFor(450, 3)
	assert.Equal(t, 50, p.IntoLevel)
	assert.Equal(t, 500, p.LevelSpan)
	assert.Equal(t, 450, p.ToNextLevel)
}

func TestCommit_RecomputesLevelAndLogs(t *testing.T) {
	l := New()

	res := l.Commit(Entry{ID: "a", Source: "Task:x", BaseAmount: 100, Amount: 150, Multiplier: 1.5}, t0, Recompute)
	assert.True(t, res.LeveledUp())
	assert.Equal(t, 2, l.Level)
	assert.Equal(t, 150, l.TotalXP)
	assert.Equal(t, 150, l.TodayXP)

	tx := res.Transaction
	assert.Equal(t, 0, tx.PreviousXP)
	assert.Equal(t, 150, tx.NewXP)
	assert.Equal(t, 1.5, tx.Multiplier)
	assert.Equal(t, t0, tx.Timestamp)

	res = l.Commit(Entry{ID: "b", Source: "manual", Amount: -120}, t0, Recompute)
	assert.True(t, res.LeveledDown())
	assert.Equal(t, 1, l.Level)
	assert.Equal(t, 0, l.TodayXP)
	assert.Equal(t, 1.0, res.Transaction.Multiplier)
}

func TestCommit_HoldKeepsLevel(t *testing.T) {
	l := &Ledger{TotalXP: 405, Level: 3}
	res := l.Commit(Entry{Amount: -20, Source: "Punishment:test"}, t0, Hold)
	assert.Equal(t, 385, l.TotalXP)
	assert.Equal(t, 3, l.Level)
	assert.False(t, res.LeveledDown())
	assert.True(t, l.ShouldDemote(10))
	assert.False(t, l.ShouldDemote(20))
}

func TestCommit_RaiseNeverLowersLevel(t *testing.T) {
	tests := []struct {
		name      string
		start     Ledger
		amount    int
		wantXP    int
		wantLevel int
	}{
		{"held inside grace band", Ledger{TotalXP: 390, Level: 3}, 3, 393, 3},
		{"held far below threshold", Ledger{TotalXP: -40, Level: 4}, 1, -39, 4},
		{"crosses next threshold", Ledger{TotalXP: 390, Level: 3}, 510, 900, 4},
		{"plain credit", Ledger{TotalXP: 0, Level: 1}, 150, 150, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.start
			res := l.Commit(Entry{Amount: tt.amount, Source: "Task:x"}, t0, Raise)
			assert.Equal(t, tt.wantXP, l.TotalXP)
			assert.Equal(t, tt.wantLevel, l.Level)
			assert.False(t, res.LeveledDown())
		})
	}
}

func TestCommit_SaturatesAtMaxXP(t *testing.T) {
	l := &Ledger{TotalXP: MaxXP - 10, TodayXP: 5, Level: Level(MaxXP - 10)}

	res := l.Commit(Entry{Amount: math.MaxInt, Source: "Admin:add_xp"}, t0, Raise)
	assert.Equal(t, MaxXP, l.TotalXP)
	assert.Equal(t, MaxLevel, l.Level)
	assert.Equal(t, 10, res.Transaction.TotalAmount)
	assert.Equal(t, res.Transaction.PreviousXP+res.Transaction.TotalAmount, res.Transaction.NewXP)
	assert.Equal(t, 15, l.TodayXP)

	l = &Ledger{TotalXP: -MaxXP + 5, Level: 1}
	res = l.Commit(Entry{Amount: math.MinInt, Source: "Punishment:x"}, t0, Hold)
	assert.Equal(t, -MaxXP, l.TotalXP)
	assert.Equal(t, -5, res.Transaction.TotalAmount)
	assert.Zero(t, l.TodayXP)
}

func TestCommit_LogBoundedAndSumInvariant(t *testing.T) {
	l := New()
	total := 0
	for i := 0; i < 250; i++ {
		amt := (i%7)*10 - 20
		total += amt
		l.Commit(Entry{ID: fmt.Sprint(i), Amount: amt}, t0.Add(time.Duration(i)*time.Second), Recompute)
	}

	assert.Equal(t, total, l.TotalXP)
	require.Len(t, l.Log, MaxLogEntries)
	assert.Equal(t, "150", l.Log[0].ID)
	assert.Equal(t, "249", l.Log[MaxLogEntries-1].ID)

	for i := 1; i < len(l.Log); i++ {
		assert.Equal(t, l.Log[i-1].NewXP, l.Log[i].PreviousXP)
	}
	first := l.Log[0]
	assert.Equal(t, l.TotalXP-first.PreviousXP, l.LogSum())
}

func TestDemote(t *testing.T) {
	l := &Ledger{Level: 2}
	from, to := l.Demote()
	assert.Equal(t, 2, from)
	assert.Equal(t, 1, to)

	from, to = l.Demote()
	assert.Equal(t, 1, from)
	assert.Equal(t, 1, to)
	assert.False(t, l.ShouldDemote(0))
}

func TestRecentAndClone(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Commit(Entry{ID: fmt.Sprint(i), Amount: 1}, t0, Recompute)
	}
	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "4", recent[1].ID)
	assert.Len(t, l.Recent(0), 5)

	c := l.Clone()
	c.Log[0].Source = "mutated"
	assert.NotEqual(t, "mutated", l.Log[0].Source)
}

func TestTryAcquire(t *testing.T) {
	var l Lock

	l, acq := TryAcquire(l, t0, DefaultStaleAfter)
	require.True(t, acq.Acquired)
	assert.False(t, acq.Recovered)
	assert.True(t, l.Busy(t0.Add(time.Second), DefaultStaleAfter))

	same, rejected := TryAcquire(l, t0.Add(4*time.Second), DefaultStaleAfter)
	assert.False(t, rejected.Acquired)
	assert.Equal(t, l, same)

	taken, recovered := TryAcquire(l, t0.Add(5*time.Second), DefaultStaleAfter)
	require.True(t, recovered.Acquired)
	assert.True(t, recovered.Recovered)
	assert.Equal(t, 5*time.Second, recovered.StaleFor)

	// the original holder can no longer release
	after, ok := Release(taken, acq.Token)
	assert.False(t, ok)
	assert.True(t, after.Held)

	after, ok = Release(taken, recovered.Token)
	assert.True(t, ok)
	assert.False(t, after.Held)
	assert.False(t, after.Busy(t0, DefaultStaleAfter))
}
