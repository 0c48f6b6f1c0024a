package biodiversity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig bounds how fast one client talks to its upstream.
// Public biodiversity APIs throttle aggressively and ban noisy clients.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may go back to back after a quiet period.
	BurstSize int

	// MinInterval spaces requests even inside a burst.
	MinInterval time.Duration

	// WaitTimeout caps how long Allow blocks before giving up.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns polite defaults for shared scientific APIs.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2.0,
		BurstSize:         4,
		MinInterval:       100 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
	}
}

// RateLimiter schedules requests by their theoretical arrival time (GCRA):
// each admitted request pushes tat forward by one interval, and a request
// is admitted while tat stays within the burst window of now.
type RateLimiter struct {
	interval    time.Duration
	burst       int
	tolerance   time.Duration
	minInterval time.Duration
	waitTimeout time.Duration
	now         func() time.Time

	mu        sync.Mutex
	tat       time.Time
	lastGrant time.Time
	penalties int
}

// NewRateLimiter builds a limiter whose bucket starts full.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	config.BurstSize = max(config.BurstSize, 1)

	interval := time.Duration(float64(time.Second) / config.RequestsPerSecond)
	rl := &RateLimiter{
		interval:    interval,
		burst:       config.BurstSize,
		tolerance:   time.Duration(config.BurstSize-1) * interval,
		minInterval: config.MinInterval,
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
	rl.Reset()
	return rl
}

// RateLimitError means the request was not sent because of rate limiting,
// either locally or by the upstream (HTTP 429).
type RateLimitError struct {
	// Wait is the suggested time to wait before retrying.
	Wait    time.Duration
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// RetryAfter lets the retrier stretch its backoff to the server's hint.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.Wait
}

// Allow blocks until a request may proceed. It fails with *RateLimitError
// when the wait would exceed WaitTimeout, or with ctx's error.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	var waited time.Duration

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		if waited+wait > rl.waitTimeout {
			return &RateLimitError{
				Wait:    wait,
				Message: fmt.Sprintf("rate limit exceeded, retry after %s", wait.Round(time.Millisecond)),
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// reserve admits the request and returns 0, or returns how long to wait.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if gap := now.Sub(rl.lastGrant); gap < rl.minInterval {
		return rl.minInterval - gap
	}

	tat := rl.tat
	if tat.Before(now) {
		tat = now
	}
	if allowAt := tat.Add(-rl.tolerance); allowAt.After(now) {
		return allowAt.Sub(now)
	}

	rl.tat = tat.Add(rl.interval)
	rl.lastGrant = now
	rl.penalties = 0
	return 0
}

// RecordRateLimitHit empties the bucket after the upstream answered 429.
// Repeated hits without a successful grant in between back off further,
// up to eight intervals past an empty bucket.
func (rl *RateLimiter) RecordRateLimitHit() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	extra := time.Duration(1<<min(rl.penalties, 3)) * rl.interval
	rl.tat = now.Add(rl.tolerance + extra)
	rl.lastGrant = now
	rl.penalties++
}

// Reset refills the bucket.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tat = now
	rl.lastGrant = now.Add(-rl.minInterval)
	rl.penalties = 0
}

// RateLimiterStatus is a point-in-time view of the limiter.
type RateLimiterStatus struct {
	AvailableTokens float64
	MaxTokens       float64
	Interval        time.Duration
	Penalties       int
}

// Status reports how many requests could go out right now.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	backlog := rl.tat.Sub(rl.now())
	available := float64(rl.burst) - float64(max(backlog, 0))/float64(rl.interval)

	return RateLimiterStatus{
		AvailableTokens: min(max(available, 0), float64(rl.burst)),
		MaxTokens:       float64(rl.burst),
		Interval:        rl.interval,
		Penalties:       rl.penalties,
	}
}
