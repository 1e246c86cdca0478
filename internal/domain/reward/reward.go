// Package reward computes variable XP bonuses. It never touches the ledger:
// ComputeReward is a pure function of its inputs and the injected Source.
package reward

import (
	"fmt"
	"math"
)

// BonusType names a bonus tier. The standard tier has no bonus type.
type BonusType string

const (
	BonusJackpot  BonusType = "jackpot"
	BonusCritical BonusType = "critical"
	BonusLucky    BonusType = "lucky"
)

// TaskType selects the tier table. Task priorities map directly onto it.
type TaskType string

const (
	TaskTypeDefault TaskType = ""
	TaskTypeLow     TaskType = "low"
	TaskTypeMedium  TaskType = "medium"
	TaskTypeHigh    TaskType = "high"
)

// Tier is one row of a bonus table.
type Tier struct {
	Bonus       BonusType `toml:"bonus" json:"bonus"`
	Probability float64   `toml:"probability" json:"probability"`
	Multiplier  float64   `toml:"multiplier" json:"multiplier"`
	Message     string    `toml:"message" json:"message"`
}

// Table is an ordered list of bonus tiers, rarest first.
// Whatever probability mass is left over is the standard tier.
type Table []Tier

// Validate checks that probabilities are in range and sum to at most 1.
func (t Table) Validate() error {
	var sum float64
	for _, tier := range t {
		if tier.Bonus == "" {
			return fmt.Errorf("tier without bonus type")
		}
		if tier.Probability < 0 || tier.Probability > 1 {
			return fmt.Errorf("tier %s: probability %v out of range", tier.Bonus, tier.Probability)
		}
		if tier.Multiplier < 1 {
			return fmt.Errorf("tier %s: multiplier %v below 1", tier.Bonus, tier.Multiplier)
		}
		sum += tier.Probability
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("tier probabilities sum to %v", sum)
	}
	return nil
}

// DefaultTable is used for every task type without a dedicated table.
func DefaultTable() Table {
	return Table{
		{Bonus: BonusJackpot, Probability: 0.02, Multiplier: 3.0, Message: "JACKPOT! Triple XP"},
		{Bonus: BonusCritical, Probability: 0.08, Multiplier: 2.0, Message: "Critical hit! Double XP"},
		{Bonus: BonusLucky, Probability: 0.15, Multiplier: 1.5, Message: "Lucky! +50% XP"},
	}
}

// HighPriorityTable gives high-priority work better odds.
func HighPriorityTable() Table {
	return Table{
		{Bonus: BonusJackpot, Probability: 0.04, Multiplier: 3.0, Message: "JACKPOT! Triple XP"},
		{Bonus: BonusCritical, Probability: 0.12, Multiplier: 2.0, Message: "Critical hit! Double XP"},
		{Bonus: BonusLucky, Probability: 0.20, Multiplier: 1.5, Message: "Lucky! +50% XP"},
	}
}

// Config holds the randomizer tables and streak scaling.
type Config struct {
	Tables map[TaskType]Table

	// StreakStep is the extra multiplier per streak day on a bonus tier.
	StreakStep float64
	// StreakCap bounds the streak days that count.
	StreakCap int
}

// DefaultConfig returns the canonical tier tables.
func DefaultConfig() Config {
	return Config{
		Tables: map[TaskType]Table{
			TaskTypeDefault: DefaultTable(),
			TaskTypeHigh:    HighPriorityTable(),
		},
		StreakStep: 0.05,
		StreakCap:  10,
	}
}

// TableFor returns the table for a task type, falling back to the default table.
func (c Config) TableFor(taskType TaskType) Table {
	if t, ok := c.Tables[taskType]; ok {
		return t
	}
	return c.Tables[TaskTypeDefault]
}

// Result is the outcome of a reward draw.
type Result struct {
	FinalXP    int        `json:"final_xp"`
	Multiplier float64    `json:"multiplier"`
	BonusType  *BonusType `json:"bonus_type"`
	Message    string     `json:"message"`
}

// Randomizer draws bonus tiers from an injected Source.
type Randomizer struct {
	config Config
	source Source
}

// NewRandomizer creates a randomizer. A nil source panics at first use, so
// callers always pass one.
func NewRandomizer(cfg Config, source Source) *Randomizer {
	if cfg.Tables == nil {
		cfg.Tables = DefaultConfig().Tables
	}
	return &Randomizer{config: cfg, source: source}
}

// ComputeReward draws a tier and scales baseAmount by its multiplier.
// Negative bases are clamped to zero.
func (r *Randomizer) ComputeReward(baseAmount int, taskType TaskType, streak int) Result {
	return Compute(r.config, r.source.Draw(), baseAmount, taskType, streak)
}

// Compute is the deterministic core of ComputeReward for a given draw in [0,1).
func Compute(cfg Config, draw float64, baseAmount int, taskType TaskType, streak int) Result {
	if baseAmount < 0 {
		baseAmount = 0
	}

	tier, hit := pick(cfg.TableFor(taskType), draw)
	if !hit {
		return Result{
			FinalXP:    baseAmount,
			Multiplier: 1.0,
			Message:    fmt.Sprintf("+%d XP", baseAmount),
		}
	}

	multiplier := tier.Multiplier * streakFactor(cfg, streak)
	// epsilon keeps 100*1.1 from flooring to 109
	final := int(math.Floor(float64(baseAmount)*multiplier + 1e-9))
	bonus := tier.Bonus
	return Result{
		FinalXP:    final,
		Multiplier: multiplier,
		BonusType:  &bonus,
		Message:    fmt.Sprintf("%s (+%d XP)", tier.Message, final),
	}
}

func pick(table Table, draw float64) (Tier, bool) {
	var cumulative float64
	for _, tier := range table {
		cumulative += tier.Probability
		if draw < cumulative {
			return tier, true
		}
	}
	return Tier{}, false
}

func streakFactor(cfg Config, streak int) float64 {
	if streak <= 0 || cfg.StreakStep <= 0 {
		return 1.0
	}
	if cfg.StreakCap > 0 && streak > cfg.StreakCap {
		streak = cfg.StreakCap
	}
	return 1.0 + cfg.StreakStep*float64(streak)
}
