package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

func TestEnvelopeTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		want    time.Duration
		wantOK  bool
	}{
		{"never expires", time.Time{}, TTLEnvelopeDefault, true},
		{"remaining window", now.Add(90 * time.Minute), 90 * time.Minute, true},
		{"expires now", now, 0, false},
		{"already expired", now.Add(-time.Second), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := envelopeTTL(species.Envelope{ExpiresAt: tt.expires}, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelopeKey(t *testing.T) {
	assert.Equal(t, "catalog:envelope:aggregator", EnvelopeKey("aggregator"))
	assert.Equal(t, "catalog:envelope:default", EnvelopeKey(""))
}

func TestConfig_Options(t *testing.T) {
	opts, err := Config{URL: "redis://:secret@cache.internal:6380/2"}.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = DefaultConfig().Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	_, err = Config{URL: "http://nope"}.Options()
	assert.Error(t, err)
}

// unreachableClient points at a port nothing listens on.
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewCache_ConnectionFailure(t *testing.T) {
	_, err := NewCache(context.Background(), Config{Host: "127.0.0.1", Port: 1, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheConnection))
}

func TestEnvelopeCache_UnreachableRedis(t *testing.T) {
	ec := NewEnvelopeCache(NewCacheFromClient(unreachableClient(t)), "test", nil)
	ctx := context.Background()

	_, err := ec.Load(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss), "connection errors are not misses")

	env := species.NewEnvelope(nil, nil, time.Now(), time.Hour)
	assert.Error(t, ec.Save(ctx, env))

	expired := species.NewEnvelope(nil, nil, time.Now().Add(-2*time.Hour), time.Hour)
	assert.NoError(t, ec.Save(ctx, expired), "expired envelopes are skipped without touching redis")
}

func TestCache_RejectsBadArguments(t *testing.T) {
	c := NewCacheFromClient(unreachableClient(t))
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "k", func() {}, 0), ErrCacheSerialization)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}
