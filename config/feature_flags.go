package config

import (
	"fmt"
	"sort"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
)

// FeatureFlags toggles whole engine subsystems.
type FeatureFlags struct {
	VariableRewards bool `env:"VARIABLE_REWARDS" envDefault:"true"`
	Achievements    bool `env:"ACHIEVEMENTS" envDefault:"true"`
	Punishment      bool `env:"PUNISHMENT" envDefault:"true"`
	IdleDetection   bool `env:"IDLE_DETECTION" envDefault:"true"`

	// Admin enables the debug-only admin commands. Rejected in production.
	Admin bool `env:"ADMIN" envDefault:"false"`
}

// Predefined feature flag names.
const (
	FeatureVariableRewards = "variable_rewards"
	FeatureAchievements    = "achievements"
	FeaturePunishment      = "punishment"
	FeatureIdleDetection   = "idle_detection"
	FeatureAdmin           = "admin"
)

// Engine converts the flags into engine features.
func (ff FeatureFlags) Engine() engine.Features {
	return engine.Features{
		VariableRewards: ff.VariableRewards,
		Achievements:    ff.Achievements,
		Punishment:      ff.Punishment,
		IdleDetection:   ff.IdleDetection,
		Admin:           ff.Admin,
	}
}

// IsEnabled reports a flag by name.
func (ff FeatureFlags) IsEnabled(name string) (bool, error) {
	all := ff.All()
	enabled, ok := all[name]
	if !ok {
		return false, &FeatureFlagError{Feature: name, Message: "unknown feature"}
	}
	return enabled, nil
}

// All returns every flag by name.
func (ff FeatureFlags) All() map[string]bool {
	return map[string]bool{
		FeatureVariableRewards: ff.VariableRewards,
		FeatureAchievements:    ff.Achievements,
		FeaturePunishment:      ff.Punishment,
		FeatureIdleDetection:   ff.IdleDetection,
		FeatureAdmin:           ff.Admin,
	}
}

// Enabled lists the enabled flags, sorted.
func (ff FeatureFlags) Enabled() []string {
	var names []string
	for name, on := range ff.All() {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature flag %q: %s", e.Feature, e.Message)
}
