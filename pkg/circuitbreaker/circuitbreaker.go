// Package circuitbreaker implements a call-rate circuit breaker.
// It protects re-entrant operations (XP -> achievement -> XP) from runaway
// invocation: too many calls within a short window open the circuit, and the
// circuit closes again by itself once a cooldown has elapsed.
// No external dependencies - uses only standard library.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed is the normal state - calls are allowed through.
	StateClosed State = iota
	// StateOpen is the tripped state - calls are skipped until cooldown elapses.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this circuit breaker (for logging/metrics).
	Name string

	// MaxCalls is the number of calls allowed within Window.
	// The call after that trips the breaker.
	// Default: 10
	MaxCalls int

	// Window is the length of the counting window.
	// Default: 500ms
	Window time.Duration

	// Cooldown is how long the circuit stays open before it auto-resets.
	// Default: 5s
	Cooldown time.Duration

	// OnStateChange is called when the circuit state changes.
	// It runs with the breaker's lock held and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:     name,
		MaxCalls: 10,
		Window:   500 * time.Millisecond,
		Cooldown: 5 * time.Second,
	}
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithMaxCalls sets the number of calls allowed per window.
func WithMaxCalls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxCalls = n
		}
	}
}

// WithWindow sets the counting window.
func WithWindow(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Window = d
		}
	}
}

// WithCooldown sets the cooldown duration.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// Counts holds the current counts for the circuit breaker.
type Counts struct {
	// InWindow is the number of calls admitted in the current window.
	InWindow int
	// Allowed is the lifetime number of admitted calls.
	Allowed int
	// Skipped is the lifetime number of calls rejected while open.
	Skipped int
	// Trips is the lifetime number of closed -> open transitions.
	Trips int
}

// CircuitBreaker counts calls per window and opens when the rate is exceeded.
// Time is passed in by the caller so the breaker is deterministic under test.
type CircuitBreaker struct {
	config Config

	mu          sync.Mutex
	state       State
	counts      Counts
	windowStart time.Time
	openedAt    time.Time
}

// New creates a new CircuitBreaker with the given name and options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow records a call attempt at now and reports whether it may proceed.
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if now.Sub(cb.openedAt) < cb.config.Cooldown {
			cb.counts.Skipped++
			return false
		}
		cb.resetLocked(now)
	}

	if cb.windowStart.IsZero() || now.Sub(cb.windowStart) > cb.config.Window {
		cb.windowStart = now
		cb.counts.InWindow = 0
	}

	cb.counts.InWindow++
	if cb.counts.InWindow > cb.config.MaxCalls {
		cb.tripLocked(now)
		cb.counts.Skipped++
		return false
	}

	cb.counts.Allowed++
	return true
}

// Execute runs fn if the circuit allows a call at now.
func (cb *CircuitBreaker) Execute(now time.Time, fn func() error) error {
	if !cb.Allow(now) {
		return ErrCircuitOpen
	}
	return fn()
}

// Trip opens the circuit immediately, e.g. after a call failed badly.
func (cb *CircuitBreaker) Trip(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripLocked(now)
}

func (cb *CircuitBreaker) tripLocked(now time.Time) {
	cb.openedAt = now
	if cb.state != StateOpen {
		cb.counts.Trips++
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) resetLocked(now time.Time) {
	cb.counts.InWindow = 0
	cb.windowStart = now
	cb.openedAt = time.Time{}
	cb.setState(StateClosed)
}

// setState transitions to a new state.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, oldState, newState)
	}
}

// State returns the state as of now, applying any due auto-reset.
func (cb *CircuitBreaker) State(now time.Time) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.resetLocked(now)
	}
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the circuit and zeroes all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.counts = Counts{}
	cb.windowStart = time.Time{}
	cb.openedAt = time.Time{}
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Config returns a copy of the breaker configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// AchievementBreaker returns a breaker tuned for achievement re-evaluation:
// more than 10 checks in 500ms trips it for 5s.
func AchievementBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"achievements",
		WithMaxCalls(10),
		WithWindow(500*time.Millisecond),
		WithCooldown(5*time.Second),
		WithOnStateChange(onStateChange),
	)
}
