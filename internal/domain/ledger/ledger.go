package ledger

import (
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/reward"
)

// MaxLogEntries bounds the in-memory transaction log.
const MaxLogEntries = 100

// Transaction is an immutable record of one XP change and its provenance.
type Transaction struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Source      string            `json:"source"`
	BaseAmount  int               `json:"base_amount"`
	Multiplier  float64           `json:"multiplier"`
	BonusType   *reward.BonusType `json:"bonus_type"`
	TotalAmount int               `json:"total_amount"`
	PreviousXP  int               `json:"previous_xp"`
	NewXP       int               `json:"new_xp"`
}

// Entry describes a change to commit.
type Entry struct {
	ID         string
	Source     string
	BaseAmount int
	Amount     int
	Multiplier float64
	BonusType  *reward.BonusType
}

// LevelPolicy controls what a commit does with the level.
type LevelPolicy int

const (
	// Recompute derives the level from the new total.
	Recompute LevelPolicy = iota
	// Hold keeps the current level; demotion is decided separately.
	Hold
	// Raise derives the level from the new total but never lowers it.
	// Credits use it so a level held by the grace band survives them.
	Raise
)

// CommitResult describes the effect of a commit.
type CommitResult struct {
	Transaction Transaction
	LevelBefore int
	LevelAfter  int
}

// LeveledUp reports whether the commit raised the level.
func (r CommitResult) LeveledUp() bool { return r.LevelAfter > r.LevelBefore }

// LeveledDown reports whether the commit lowered the level.
func (r CommitResult) LeveledDown() bool { return r.LevelAfter < r.LevelBefore }

// Ledger is the authoritative XP/level state plus its transaction history.
// It is not safe for concurrent use; the engine serializes access.
type Ledger struct {
	TotalXP int           `json:"total_xp"`
	TodayXP int           `json:"today_xp"`
	Level   int           `json:"level"`
	Log     []Transaction `json:"transaction_log"`
}

// New returns an empty ledger at level 1.
func New() *Ledger {
	return &Ledger{Level: 1}
}

// Commit applies an entry at now and appends its transaction.
// Today's XP follows the delta but never drops below zero. A delta that
// would push the total past ±MaxXP is clamped and the transaction records
// the clamped amount.
func (l *Ledger) Commit(e Entry, now time.Time, policy LevelPolicy) CommitResult {
	if l.Level < 1 {
		l.Level = 1
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	prev := l.TotalXP
	levelBefore := l.Level

	amount := clampDelta(l.TotalXP, e.Amount)
	l.TotalXP += amount
	l.TodayXP += clampDelta(l.TodayXP, amount)
	if l.TodayXP < 0 {
		l.TodayXP = 0
	}
	switch policy {
	case Recompute:
		l.Level = Level(l.TotalXP)
	case Raise:
		l.Level = max(l.Level, Level(l.TotalXP))
	}

	tx := Transaction{
		ID:          e.ID,
		Timestamp:   now,
		Source:      e.Source,
		BaseAmount:  e.BaseAmount,
		Multiplier:  multiplier,
		BonusType:   e.BonusType,
		TotalAmount: amount,
		PreviousXP:  prev,
		NewXP:       l.TotalXP,
	}
	l.append(tx)

	return CommitResult{
		Transaction: tx,
		LevelBefore: levelBefore,
		LevelAfter:  l.Level,
	}
}

// clampDelta trims delta so total+delta stays within ±MaxXP.
func clampDelta(total, delta int) int {
	switch {
	case delta > 0 && total > MaxXP-delta:
		return max(MaxXP-total, 0)
	case delta < 0 && total < -MaxXP-delta:
		return min(-MaxXP-total, 0)
	}
	return delta
}

func (l *Ledger) append(tx Transaction) {
	l.Log = append(l.Log, tx)
	if over := len(l.Log) - MaxLogEntries; over > 0 {
		// copy so the dropped prefix can be collected
		trimmed := make([]Transaction, MaxLogEntries)
		copy(trimmed, l.Log[over:])
		l.Log = trimmed
	}
}

// Demote drops one level, never below 1. It returns the levels before and after.
func (l *Ledger) Demote() (from, to int) {
	from = l.Level
	if l.Level > 1 {
		l.Level--
	}
	return from, l.Level
}

// ShouldDemote reports whether the total has fallen below the current
// level's threshold by more than the grace band.
func (l *Ledger) ShouldDemote(graceBand int) bool {
	if l.Level <= 1 {
		return false
	}
	return l.TotalXP < Threshold(l.Level)-graceBand
}

// ResetDay zeroes today's XP and returns what it was.
func (l *Ledger) ResetDay() int {
	closed := l.TodayXP
	l.TodayXP = 0
	return closed
}

// Recent returns up to n of the newest transactions, newest last.
func (l *Ledger) Recent(n int) []Transaction {
	if n <= 0 || n > len(l.Log) {
		n = len(l.Log)
	}
	out := make([]Transaction, n)
	copy(out, l.Log[len(l.Log)-n:])
	return out
}

// LogSum is the sum of TotalAmount over the retained log.
func (l *Ledger) LogSum() int {
	sum := 0
	for _, tx := range l.Log {
		sum += tx.TotalAmount
	}
	return sum
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Log = make([]Transaction, len(l.Log))
	copy(c.Log, l.Log)
	return &c
}
