// Package retry runs an operation repeatedly until it succeeds, a retry
// budget is exhausted, or the context ends. Waits between attempts grow
// exponentially and are jittered so that concurrent callers spread out.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseWait    = time.Second
	DefaultMaxWait     = 30 * time.Second
	DefaultBackoffRate = 2.0
)

type config struct {
	maxAttempts int
	baseWait    time.Duration
	maxWait     time.Duration
	backoffRate float64
	jitter      bool
	retryIf     func(error) bool
	onRetry     func(attempt int, err error, wait time.Duration)
}

// Option configures a call to Do.
type Option func(*config)

// WithMaxAttempts sets the total number of attempts, including the first.
// Values below one are treated as one.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// WithBaseWait sets the wait before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the wait between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// WithBackoffRate sets the multiplier applied to the wait after each retry.
func WithBackoffRate(rate float64) Option {
	return func(c *config) { c.backoffRate = rate }
}

// WithoutJitter disables wait randomization. Useful for deterministic tests.
func WithoutJitter() Option {
	return func(c *config) { c.jitter = false }
}

// WithRetryIf sets the predicate deciding whether an error is retried. The
// default is IsRecoverable.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) { c.retryIf = fn }
}

// WithOnRetry sets a callback invoked before each wait. It receives the
// number of the upcoming attempt (the first retry is attempt 2), the error
// that caused the retry, and the wait about to be applied.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(c *config) { c.onRetry = fn }
}

// Do runs fn until it returns nil, the attempt budget is spent, the error is
// judged unretryable, or ctx ends. It returns nil on success, ctx.Err() if
// the context ended first, and otherwise the error from the final attempt.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := &config{
		maxAttempts: DefaultMaxAttempts,
		baseWait:    DefaultBaseWait,
		maxWait:     DefaultMaxWait,
		backoffRate: DefaultBackoffRate,
		jitter:      true,
		retryIf:     IsRecoverable,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= c.maxAttempts || !c.retryIf(lastErr) {
			return lastErr
		}
		wait := c.wait(attempt)
		if c.onRetry != nil {
			c.onRetry(attempt+1, lastErr, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// wait computes the backoff before the retry that follows the given attempt.
func (c *config) wait(attempt int) time.Duration {
	w := float64(c.baseWait) * math.Pow(c.backoffRate, float64(attempt-1))
	if w > float64(c.maxWait) {
		w = float64(c.maxWait)
	}
	if c.jitter {
		// Random value in [0.75, 1.25) of the computed wait.
		w *= 0.75 + rand.Float64()*0.5
	}
	if w > float64(c.maxWait) {
		w = float64(c.maxWait)
	}
	if w < 0 {
		w = 0
	}
	return time.Duration(w)
}
