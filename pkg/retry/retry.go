// Package retry retries store writes and outbound notifier calls with
// exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt when no RetryIf is set.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent stops the retry loop at once; Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type config struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	jitter       float64
	retryIf      func(error) bool
	onRetry      func(attempt int, err error, delay time.Duration)
}

// backoff doubles the delay after every attempt.
const backoff = 2.0

// Option configures a Retrier.
type Option func(*config)

// WithMaxAttempts sets the attempt count, the first call included.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.initialDelay = d
		}
	}
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithJitter sets the jitter factor in [0, 1].
func WithJitter(j float64) Option {
	return func(c *config) {
		if j >= 0 && j <= 1.0 {
			c.jitter = j
		}
	}
}

// WithRetryIf decides which errors are retried. Without it only errors
// wrapped by Retryable are.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		c.retryIf = fn
	}
}

// WithOnRetry sets a callback run before each retry.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

// Retrier runs an operation until it succeeds or attempts run out.
type Retrier struct {
	config config
}

// New creates a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	c := config{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &Retrier{config: c}
}

// Do executes operation with retries and returns the last error unwrapped
// from any Retryable or Permanent marker.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return unwrapMarker(lastErr)
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !r.shouldRetry(err) || attempt == r.config.maxAttempts {
			return unwrapMarker(err)
		}

		delay := r.delay(attempt)
		if r.config.onRetry != nil {
			r.config.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unwrapMarker(lastErr)
		case <-timer.C:
		}
	}

	return unwrapMarker(lastErr)
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.retryIf != nil {
		return r.config.retryIf(err)
	}
	var re *retryableError
	return errors.As(err, &re)
}

func unwrapMarker(err error) error {
	var re *retryableError
	if errors.As(err, &re) {
		return re.err
	}
	return err
}

func (r *Retrier) delay(attempt int) time.Duration {
	base := float64(r.config.initialDelay) * math.Pow(backoff, float64(attempt-1))
	if base > float64(r.config.maxDelay) {
		base = float64(r.config.maxDelay)
	}
	if r.config.jitter > 0 {
		base += base * r.config.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(base, 0))
}

// RetryUnlessCanceled retries every error except context cancellation.
func RetryUnlessCanceled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// StoreRetrier returns a Retrier configured for state store writes.
func StoreRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(1*time.Second),
		WithJitter(0.05),
		WithRetryIf(RetryUnlessCanceled),
		WithOnRetry(onRetry),
	)
}
