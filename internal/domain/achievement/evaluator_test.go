package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/pkg/circuitbreaker"
)

var t0 = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func TestDefaultCatalog_Valid(t *testing.T) {
	require.NoError(t, DefaultCatalog().Validate())

	dup := Catalog{
		{ID: "a", Predicate: func(Snapshot) bool { return true }},
		{ID: "a", Predicate: func(Snapshot) bool { return true }},
	}
	assert.Error(t, dup.Validate())
	assert.Error(t, Catalog{{ID: "x"}}.Validate())
}

func TestEvaluate_ReturnsNewlyTrueInOrder(t *testing.T) {
	ev := NewEvaluator(DefaultCatalog(), nil)

	res := ev.Evaluate(t0, Snapshot{TasksCompleted: 10, Level: 5}, NewSet())
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"first_blood", "task_10", "level_5"}, res.IDs())

	res = ev.Evaluate(t0, Snapshot{TasksCompleted: 10, Level: 5}, NewSet("first_blood", "level_5"))
	assert.Equal(t, []string{"task_10"}, res.IDs())
}

func TestEvaluate_UnlockedPredicateNeverRuns(t *testing.T) {
	calls := 0
	cat := Catalog{{ID: "once", RewardXP: 5, Predicate: func(Snapshot) bool {
		calls++
		return true
	}}}
	ev := NewEvaluator(cat, nil)

	ev.Evaluate(t0, Snapshot{}, NewSet("once"))
	assert.Equal(t, 0, calls)
}

func TestEvaluate_BreakerSkipsEleventhCall(t *testing.T) {
	ev := NewEvaluator(DefaultCatalog(), nil)

	for i := 0; i < 10; i++ {
		res := ev.Evaluate(t0.Add(time.Duration(i)*time.Millisecond), Snapshot{TasksCompleted: 1}, NewSet())
		require.False(t, res.Skipped, "call %d", i+1)
		require.Equal(t, []string{"first_blood"}, res.IDs())
	}

	for i := 0; i < 5; i++ {
		res := ev.Evaluate(t0.Add(100*time.Millisecond+time.Duration(i)*time.Second), Snapshot{TasksCompleted: 1}, NewSet())
		assert.True(t, res.Skipped)
		assert.Empty(t, res.Unlocked)
	}

	res := ev.Evaluate(t0.Add(5200*time.Millisecond), Snapshot{TasksCompleted: 1}, NewSet())
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"first_blood"}, res.IDs())
}

func TestEvaluate_PanickingPredicateTripsBreaker(t *testing.T) {
	cat := Catalog{
		{ID: "ok", Predicate: func(Snapshot) bool { return true }},
		{ID: "boom", Predicate: func(s Snapshot) bool {
			var m map[string]int
			m["x"] = s.Level
			return true
		}},
	}
	breaker := circuitbreaker.AchievementBreaker(nil)
	ev := NewEvaluator(cat, breaker)

	res := ev.Evaluate(t0, Snapshot{}, NewSet())
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, "boom", res.FailedID)
	assert.ErrorIs(t, res.Err, shared.ErrPredicatePanicked)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State(t0))

	res = ev.Evaluate(t0.Add(time.Second), Snapshot{}, NewSet())
	assert.True(t, res.Skipped)
}

func TestSet(t *testing.T) {
	s := NewSet("b", "a", "b")
	assert.Len(t, s, 2)
	assert.True(t, s.Add("c"))
	assert.False(t, s.Add("c"))
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
}
