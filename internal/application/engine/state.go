package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/grindstone-hq/grindstone/internal/domain/achievement"
	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/progress"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
)

// StateVersion is the schema version written by this build.
const StateVersion = 3

// persistedState is the saved form of the engine. Health is derived and the
// ledger lock is process-local, so neither is saved.
type persistedState struct {
	Version      int                     `json:"version"`
	Ledger       *ledger.Ledger          `json:"ledger"`
	Streak       progress.Streak         `json:"streak"`
	Tasks        []*task.Task            `json:"tasks"`
	Achievements []string                `json:"achievements"`
	Stats        Stats                   `json:"stats"`
	Dying        punishment.DyingTracker `json:"dying"`
	Idle         punishment.IdleTracker  `json:"idle"`
	CurrentDay   string                  `json:"current_day"`
	SavedAt      time.Time               `json:"saved_at"`
}

// stateEnvelope carries the state with an integrity checksum.
type stateEnvelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Data     json.RawMessage `json:"data"`
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeState(st persistedState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return json.Marshal(stateEnvelope{
		Version:  st.Version,
		Checksum: checksum(data),
		Data:     data,
	})
}

// decodeState accepts the checksummed envelope and the bare state written by
// versions 1 and 2, then migrates to the current schema.
func decodeState(raw []byte) (persistedState, error) {
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return persistedState{}, shared.WrapError("engine", "Load", shared.ErrStateCorrupted, "state is not valid JSON", err)
	}

	data := raw
	if len(env.Data) > 0 {
		if env.Checksum != checksum(env.Data) {
			return persistedState{}, shared.NewDomainError("engine", "Load", shared.ErrStateCorrupted, "checksum mismatch")
		}
		data = env.Data
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, shared.WrapError("engine", "Load", shared.ErrStateCorrupted, "state payload is malformed", err)
	}
	if st.Version > StateVersion {
		return persistedState{}, shared.NewDomainError("engine", "Load", shared.ErrUnknownStateVers,
			fmt.Sprintf("state version %d is newer than %d", st.Version, StateVersion))
	}
	return migrateState(st), nil
}

// migrateState fills fields that older versions did not write and repairs
// values that would break invariants.
func migrateState(st persistedState) persistedState {
	if st.Version < 1 {
		st.Version = 1
	}
	if st.Ledger == nil {
		st.Ledger = ledger.New()
	}

	st.Ledger.TotalXP = min(max(st.Ledger.TotalXP, -ledger.MaxXP), ledger.MaxXP)
	st.Ledger.TodayXP = min(st.Ledger.TodayXP, ledger.MaxXP)
	// v1 had no stored level
	if st.Version < 2 || st.Ledger.Level < 1 || st.Ledger.Level > ledger.MaxLevel {
		st.Ledger.Level = ledger.Level(st.Ledger.TotalXP)
	}
	if st.Ledger.TodayXP < 0 {
		st.Ledger.TodayXP = 0
	}
	if over := len(st.Ledger.Log) - ledger.MaxLogEntries; over > 0 {
		st.Ledger.Log = append([]ledger.Transaction(nil), st.Ledger.Log[over:]...)
	}

	if st.Streak.Count < 0 {
		st.Streak.Count = 0
	}
	if st.Streak.Longest < st.Streak.Count {
		st.Streak.Longest = st.Streak.Count
	}

	// v2 had no stats; the task list is the only source for the counters
	if st.Version < 3 {
		for _, t := range st.Tasks {
			if t == nil {
				continue
			}
			switch t.Status {
			case task.StatusCompleted:
				st.Stats.TasksCompleted++
			case task.StatusFailed:
				st.Stats.TasksFailed++
			case task.StatusAbandoned:
				st.Stats.TasksAbandoned++
			}
		}
	}

	st.Achievements = achievement.NewSet(st.Achievements...).Sorted()
	st.Version = StateVersion
	return st
}

// exportLocked snapshots the state. Caller holds mu.
func (e *Engine) exportLocked(now time.Time) persistedState {
	return persistedState{
		Version:      StateVersion,
		Ledger:       e.ledger.Clone(),
		Streak:       e.streak,
		Tasks:        e.tasks.Snapshot(),
		Achievements: e.unlocked.Sorted(),
		Stats:        e.stats,
		Dying:        e.dying,
		Idle:         e.idle,
		CurrentDay:   e.currentDay,
		SavedAt:      now,
	}
}

// importLocked replaces the state. Caller holds mu. It returns the ids of
// tasks that failed validation and were dropped.
func (e *Engine) importLocked(st persistedState) []string {
	e.ledger = st.Ledger.Clone()
	e.lock = ledger.Lock{}
	e.streak = st.Streak
	e.tasks = task.NewRegistry()
	skipped := e.tasks.Restore(st.Tasks)
	e.unlocked = achievement.NewSet(st.Achievements...)
	e.stats = st.Stats
	e.dying = st.Dying
	e.idle = st.Idle
	if st.CurrentDay != "" {
		e.currentDay = st.CurrentDay
	}
	e.pending = nil
	e.dirty++
	return skipped
}
