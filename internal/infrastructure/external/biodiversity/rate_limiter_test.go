package biodiversity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func steppedLimiter(cfg RateLimiterConfig) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(cfg)
	rl.now = func() time.Time { return now }
	rl.Reset()
	return rl, &now
}

func TestRateLimiter_Reserve(t *testing.T) {
	rl, now := steppedLimiter(RateLimiterConfig{RequestsPerSecond: 10, BurstSize: 3})

	for i := 0; i < 3; i++ {
		assert.Zero(t, rl.reserve(), "burst request %d", i)
	}
	assert.Equal(t, 100*time.Millisecond, rl.reserve())
	assert.InDelta(t, 0, rl.Status().AvailableTokens, 0.001)

	*now = now.Add(100 * time.Millisecond)
	assert.Zero(t, rl.reserve())
	assert.Equal(t, 100*time.Millisecond, rl.reserve())

	*now = now.Add(time.Hour)
	assert.InDelta(t, 3, rl.Status().AvailableTokens, 0.001, "an idle bucket refills up to the burst")
}

func TestRateLimiter_MinInterval(t *testing.T) {
	rl, now := steppedLimiter(RateLimiterConfig{RequestsPerSecond: 100, BurstSize: 10, MinInterval: 50 * time.Millisecond})

	assert.Zero(t, rl.reserve())
	assert.Equal(t, 50*time.Millisecond, rl.reserve())

	*now = now.Add(20 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, rl.reserve())

	*now = now.Add(30 * time.Millisecond)
	assert.Zero(t, rl.reserve())
}

func TestRateLimiter_RateLimitHitBacksOff(t *testing.T) {
	rl, now := steppedLimiter(RateLimiterConfig{RequestsPerSecond: 10, BurstSize: 2})

	rl.RecordRateLimitHit()
	assert.Equal(t, 100*time.Millisecond, rl.reserve())

	rl.RecordRateLimitHit()
	assert.Equal(t, 200*time.Millisecond, rl.reserve())
	assert.Equal(t, 2, rl.Status().Penalties)

	*now = now.Add(200 * time.Millisecond)
	assert.Zero(t, rl.reserve())
	assert.Zero(t, rl.Status().Penalties, "a grant clears the penalty")
}
