package achievement

import (
	"fmt"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/pkg/circuitbreaker"
)

// Result is the outcome of one evaluation pass.
type Result struct {
	// Unlocked holds newly satisfied definitions in catalogue order.
	Unlocked []Definition
	// Skipped is true when the breaker rejected the pass.
	Skipped bool
	// Err carries a predicate failure. It is a diagnostic, not a hard error.
	Err error
	// FailedID names the achievement whose predicate failed.
	FailedID string
}

// IDs returns the unlocked ids.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Unlocked))
	for i, d := range r.Unlocked {
		ids[i] = d.ID
	}
	return ids
}

// Evaluator scans the catalogue behind a call-rate breaker.
type Evaluator struct {
	catalog Catalog
	breaker *circuitbreaker.CircuitBreaker
}

// NewEvaluator creates an evaluator. A nil breaker gets the default
// achievement breaker.
func NewEvaluator(catalog Catalog, breaker *circuitbreaker.CircuitBreaker) *Evaluator {
	if breaker == nil {
		breaker = circuitbreaker.AchievementBreaker(nil)
	}
	return &Evaluator{catalog: catalog, breaker: breaker}
}

// Catalog returns the definitions being evaluated.
func (e *Evaluator) Catalog() Catalog {
	return e.catalog
}

// Breaker exposes the rate breaker for diagnostics.
func (e *Evaluator) Breaker() *circuitbreaker.CircuitBreaker {
	return e.breaker
}

// Evaluate returns the achievements that are newly true for snap.
// Ids already in unlocked are never evaluated. A panicking predicate trips
// the breaker and yields an empty result with Err set.
func (e *Evaluator) Evaluate(now time.Time, snap Snapshot, unlocked Set) Result {
	if !e.breaker.Allow(now) {
		return Result{Skipped: true}
	}

	var res Result
	for _, def := range e.catalog {
		if unlocked.Has(def.ID) {
			continue
		}
		ok, err := safeEval(def, snap)
		if err != nil {
			e.breaker.Trip(now)
			return Result{Err: err, FailedID: def.ID}
		}
		if ok {
			res.Unlocked = append(res.Unlocked, def)
		}
	}
	return res
}

func safeEval(def Definition, snap Snapshot) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = shared.WrapError("achievement", "Evaluate", shared.ErrPredicatePanicked,
				fmt.Sprintf("predicate %q panicked", def.ID), fmt.Errorf("%v", r))
		}
	}()
	return def.Predicate(snap), nil
}
