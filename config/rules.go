package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
)

// defaultTableKey names reward.TaskTypeDefault in the rules file.
const defaultTableKey = "default"

// RulesFile is the TOML rule table. Keys left out keep their current value.
//
//	stale_lock_after = "5s"
//	streak_min_daily_xp = 50
//
//	[punishment]
//	grace_band = 10
//	dying_grace = "30m"
//
//	[punishment.idle]
//	punish_after = "20m"
//
//	[reward]
//	streak_step = 0.05
//
//	[[reward.tables.high]]
//	bonus = "jackpot"
//	probability = 0.04
//	multiplier = 3.0
type RulesFile struct {
	StaleLockAfter   time.Duration    `toml:"stale_lock_after"`
	StreakMinDailyXP int              `toml:"streak_min_daily_xp"`
	Punishment       punishment.Rules `toml:"punishment"`
	Reward           RewardRules      `toml:"reward"`
}

// RewardRules is the reward section of the rules file.
type RewardRules struct {
	StreakStep float64                 `toml:"streak_step"`
	StreakCap  int                     `toml:"streak_cap"`
	Tables     map[string]reward.Table `toml:"tables"`
}

// ApplyRulesFile decodes the TOML file at path over cfg and validates the
// result. Unknown keys are rejected.
func ApplyRulesFile(cfg engine.Config, path string) (engine.Config, error) {
	rf := rulesFromConfig(cfg)
	md, err := toml.DecodeFile(path, &rf)
	if err != nil {
		return cfg, fmt.Errorf("rules file %s: %w", path, err)
	}
	return applyRules(cfg, rf, md)
}

// ApplyRules is ApplyRulesFile for an in-memory document.
func ApplyRules(cfg engine.Config, doc string) (engine.Config, error) {
	rf := rulesFromConfig(cfg)
	md, err := toml.Decode(doc, &rf)
	if err != nil {
		return cfg, fmt.Errorf("rules: %w", err)
	}
	return applyRules(cfg, rf, md)
}

func rulesFromConfig(cfg engine.Config) RulesFile {
	return RulesFile{
		StaleLockAfter:   cfg.StaleLockAfter,
		StreakMinDailyXP: cfg.StreakMinDailyXP,
		Punishment:       cfg.Rules,
		Reward: RewardRules{
			StreakStep: cfg.Reward.StreakStep,
			StreakCap:  cfg.Reward.StreakCap,
		},
	}
}

func applyRules(cfg engine.Config, rf RulesFile, md toml.MetaData) (engine.Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("rules: unknown keys: %s", strings.Join(keys, ", "))
	}

	out := cfg
	out.StaleLockAfter = rf.StaleLockAfter
	out.StreakMinDailyXP = rf.StreakMinDailyXP
	out.Rules = rf.Punishment
	out.Reward.StreakStep = rf.Reward.StreakStep
	out.Reward.StreakCap = rf.Reward.StreakCap

	if len(rf.Reward.Tables) > 0 {
		tables := make(map[reward.TaskType]reward.Table, len(cfg.Reward.Tables)+len(rf.Reward.Tables))
		for k, v := range cfg.Reward.Tables {
			tables[k] = v
		}
		for name, table := range rf.Reward.Tables {
			taskType := reward.TaskType(name)
			if name == defaultTableKey {
				taskType = reward.TaskTypeDefault
			}
			tables[taskType] = table
		}
		out.Reward.Tables = tables
	}

	if err := out.Validate(); err != nil {
		return cfg, fmt.Errorf("rules: %w", err)
	}
	return out, nil
}

// EngineConfig builds the engine configuration: canonical defaults, then the
// rules file when one is set, then identity and feature flags from the
// environment.
func (c *Config) EngineConfig() (engine.Config, error) {
	ec := engine.DefaultConfig()
	if c.RulesFile != "" {
		var err error
		if ec, err = ApplyRulesFile(ec, c.RulesFile); err != nil {
			return ec, err
		}
	}
	ec.InstanceID = c.App.InstanceID
	ec.StateKey = c.Store.StateKey
	ec.Features = c.Features.Engine()
	return ec, ec.Validate()
}
