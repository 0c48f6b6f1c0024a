// Package retry re-runs failed calls with exponential backoff and jitter.
// Upstream biodiversity APIs and Postgres both go through it; each has a
// preset below.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

type kind int

const (
	kindRetryable kind = iota + 1
	kindPermanent
)

// markedError carries a retry decision made by the operation itself.
// The marker is stripped before the error leaves Do.
type markedError struct {
	kind kind
	err  error
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{kind: kindRetryable, err: err}
}

// Permanent marks err as final: Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{kind: kindPermanent, err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	return markOf(err) == kindRetryable
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return markOf(err) == kindPermanent
}

func markOf(err error) kind {
	var m *markedError
	if errors.As(err, &m) {
		return m.kind
	}
	return 0
}

// unmark removes the outermost marker so callers see the original error.
func unmark(err error) error {
	var m *markedError
	if errors.As(err, &m) && m == err {
		return m.err
	}
	return err
}

// RetryAfterHinter is implemented by errors that carry the server's requested
// wait, such as HTTP 429 with Retry-After.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// Backoff computes the wait before each retry: Initial doubled per attempt,
// capped at Max, then spread by ±Jitter (a fraction of the delay).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Delay returns the wait after the given failed attempt (1-based).
// rnd returns a value in [0, 1); nil disables jitter.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 && rnd != nil {
		spread := float64(d) * b.Jitter
		d += time.Duration(spread * (rnd()*2 - 1))
	}
	return max(d, 0)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt too. Default: 3.
	MaxAttempts int

	Backoff Backoff

	// RetryIf decides for errors not marked by the operation.
	// nil retries only errors marked Retryable.
	RetryIf func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits between attempts. It must return early with the context's
	// error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand feeds jitter. Default: math/rand/v2.Float64.
	Rand func() float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff: Backoff{
			Initial: 100 * time.Millisecond,
			Max:     30 * time.Second,
			Jitter:  0.1,
		},
		Sleep: sleepContext,
		Rand:  rand.Float64,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the wait after the first failure.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Backoff.Initial = d
		}
	}
}

// WithMaxDelay caps every wait, including server hints.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Backoff.Max = d
		}
	}
}

// WithJitter sets the jitter fraction (0 to 1).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.Backoff.Jitter = j
		}
	}
}

// WithRetryIf sets the decision for unmarked errors.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		if fn != nil {
			c.Sleep = fn
		}
	}
}

// Retrier runs operations under one retry policy. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New creates a Retrier from the defaults and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs operation until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. The returned error never carries the
// Retryable or Permanent marker.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return unmark(lastErr)
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err) || attempt >= r.config.MaxAttempts {
			return unmark(err)
		}

		delay := r.config.Backoff.Delay(attempt, r.config.Rand)
		var hint RetryAfterHinter
		if errors.As(err, &hint) && hint.RetryAfter() > delay {
			delay = min(hint.RetryAfter(), r.config.Backoff.Max)
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if err := r.config.Sleep(ctx, delay); err != nil {
			return unmark(lastErr)
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	switch markOf(err) {
	case kindPermanent:
		return false
	case kindRetryable:
		return true
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return false
}

// Value runs an operation that produces a result under r's policy.
func Value[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SourceRetrier returns the policy for upstream biodiversity APIs: only
// errors the client marks Retryable are retried, with generous waits.
func SourceRetrier(maxAttempts int) *Retrier {
	return New(
		WithMaxAttempts(maxAttempts),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithJitter(0.2),
	)
}

// DatabaseRetrier returns the policy for Postgres calls. Unmarked errors are
// retried unless the caller gave up.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}
