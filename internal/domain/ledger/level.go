// Package ledger holds the authoritative XP state: totals, level arithmetic,
// the bounded transaction log and the lock that guards XP mutation.
package ledger

import "math"

// XPPerLevelUnit scales the level curve: level n starts at XPPerLevelUnit*(n-1)^2.
const XPPerLevelUnit = 100

const (
	// MaxXP bounds the magnitude of any XP total. Commits saturate at ±MaxXP.
	MaxXP = math.MaxInt32
	// MaxLevel is the level reached at MaxXP.
	MaxLevel = 4635
)

// Level derives the level for an XP total.
// Negative totals are level 1; otherwise floor(sqrt(xp/100)) + 1, capped
// at MaxLevel.
func Level(xp int) int {
	if xp < 0 {
		return 1
	}
	if xp > MaxXP {
		xp = MaxXP
	}
	lvl := int(math.Floor(math.Sqrt(float64(xp)/XPPerLevelUnit))) + 1
	// guard float rounding right at a boundary
	for lvl > 1 && Threshold(lvl) > xp {
		lvl--
	}
	for lvl < MaxLevel && Threshold(lvl+1) <= xp {
		lvl++
	}
	return lvl
}

// Threshold is the minimum XP total for a level. Levels above MaxLevel
// are unreachable and report math.MaxInt.
func Threshold(level int) int {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		return math.MaxInt
	}
	n := level - 1
	return XPPerLevelUnit * n * n
}

// Progress describes the position inside the current level.
type Progress struct {
	Level       int `json:"level"`
	IntoLevel   int `json:"into_level"`
	LevelSpan   int `json:"level_span"`
	ToNextLevel int `json:"to_next_level"`
}

// ProgressFor computes level progress for an XP total at a given level.
func ProgressFor(xp, level int) Progress {
	if level < 1 {
		level = 1
	}
	floor := Threshold(level)
	next := Threshold(level + 1)
	into := xp - floor
	if into < 0 {
		into = 0
	}
	toNext := next - xp
	if toNext < 0 {
		toNext = 0
	}
	return Progress{
		Level:       level,
		IntoLevel:   into,
		LevelSpan:   next - floor,
		ToNextLevel: toNext,
	}
}
