package ledger

import "time"

// DefaultStaleAfter is how long a held lock is trusted before it is
// considered abandoned and force-cleared.
const DefaultStaleAfter = 5 * time.Second

// Lock is the flag-plus-timestamp guard around XP mutation.
// It is a value type: acquisition and release return the next lock state.
type Lock struct {
	Held       bool      `json:"held"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquisition reports the outcome of TryAcquire.
type Acquisition struct {
	// Acquired is true when the caller now owns the lock.
	Acquired bool
	// Recovered is true when a stale holder was force-cleared to get it.
	Recovered bool
	// StaleFor is how long the previous holder had held the lock.
	StaleFor time.Duration
	// Token identifies this hold; pass it back to Release.
	Token time.Time
}

// TryAcquire attempts to take the lock at now. A lock held for at least
// staleAfter is treated as abandoned and taken over.
func TryAcquire(l Lock, now time.Time, staleAfter time.Duration) (Lock, Acquisition) {
	if l.Held {
		heldFor := now.Sub(l.AcquiredAt)
		if heldFor < staleAfter {
			return l, Acquisition{}
		}
		next := Lock{Held: true, AcquiredAt: now}
		return next, Acquisition{Acquired: true, Recovered: true, StaleFor: heldFor, Token: now}
	}
	next := Lock{Held: true, AcquiredAt: now}
	return next, Acquisition{Acquired: true, Token: now}
}

// Release clears the lock if token still identifies the current hold.
// A holder whose lock was force-cleared and re-acquired cannot release
// the new owner's hold.
func Release(l Lock, token time.Time) (Lock, bool) {
	if !l.Held || !l.AcquiredAt.Equal(token) {
		return l, false
	}
	return Lock{}, true
}

// Busy reports whether the lock is held and not yet stale at now.
func (l Lock) Busy(now time.Time, staleAfter time.Duration) bool {
	return l.Held && now.Sub(l.AcquiredAt) < staleAfter
}
