// Package achievement evaluates declarative unlock rules against a state
// snapshot. Payout is the engine's job; this package only decides which ids
// became true.
package achievement

import (
	"fmt"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the read-only view predicates are evaluated against.
type Snapshot struct {
	TotalXP            int
	TodayXP            int
	Level              int
	Streak             int
	LongestStreak      int
	TasksCompleted     int
	TasksFailed        int
	JackpotsHit        int
	Demotions          int
	CompletedSinceDemo int
	Health             string
	RecoveredFromDying bool
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Predicate decides whether an achievement is satisfied.
type Predicate func(Snapshot) bool

// Definition describes one achievement.
type Definition struct {
	ID          string
	Name        string
	Description string
	RewardXP    int
	Predicate   Predicate
}

// Catalog is an ordered list of definitions; evaluation follows this order.
type Catalog []Definition

// Validate checks ids are unique, rewards non-negative and predicates set.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c))
	for _, d := range c {
		if d.ID == "" {
			return fmt.Errorf("achievement without id")
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate achievement id %q", d.ID)
		}
		if d.RewardXP < 0 {
			return fmt.Errorf("achievement %q: negative reward", d.ID)
		}
		if d.Predicate == nil {
			return fmt.Errorf("achievement %q: nil predicate", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Find returns a definition by id.
func (c Catalog) Find(id string) (Definition, bool) {
	for _, d := range c {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// DefaultCatalog returns the built-in achievements.
func DefaultCatalog() Catalog {
	return Catalog{
		{"first_blood", "First Blood", "Complete your first task", 25,
			func(s Snapshot) bool { return s.TasksCompleted >= 1 }},
		{"task_10", "Getting Things Done", "Complete 10 tasks", 100,
			func(s Snapshot) bool { return s.TasksCompleted >= 10 }},
		{"level_5", "Apprentice", "Reach level 5", 250,
			func(s Snapshot) bool { return s.Level >= 5 }},
		{"level_10", "Master", "Reach level 10", 500,
			func(s Snapshot) bool { return s.Level >= 10 }},
		{"streak_3", "Warming Up", "Keep a 3 day streak", 50,
			func(s Snapshot) bool { return s.Streak >= 3 }},
		{"streak_7", "Week of Fire", "Keep a 7 day streak", 150,
			func(s Snapshot) bool { return s.Streak >= 7 }},
		{"streak_30", "Iron Will", "Keep a 30 day streak", 1000,
			func(s Snapshot) bool { return s.Streak >= 30 }},
		{"xp_1000", "Four Digits", "Hold 1000 XP", 100,
			func(s Snapshot) bool { return s.TotalXP >= 1000 }},
		{"daily_200", "Overdrive", "Earn 200 XP in one day", 75,
			func(s Snapshot) bool { return s.TodayXP >= 200 }},
		{"jackpot", "Jackpot", "Hit a jackpot bonus", 50,
			func(s Snapshot) bool { return s.JackpotsHit >= 1 }},
		{"survivor", "Survivor", "Climb back from dying to healthy", 50,
			func(s Snapshot) bool { return s.RecoveredFromDying }},
		{"comeback", "Comeback", "Complete a task after being demoted", 40,
			func(s Snapshot) bool { return s.Demotions > 0 && s.CompletedSinceDemo > 0 }},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCKED SET
// ══════════════════════════════════════════════════════════════════════════════

// Set holds unlocked achievement ids.
type Set map[string]struct{}

// NewSet builds a set from ids; duplicates collapse.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (s Set) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Sorted returns the ids in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
