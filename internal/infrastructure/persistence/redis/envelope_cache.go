package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE CACHE
// Shares the aggregated envelope between catalog processes so that a cold
// process doesn't hit every upstream again.
// ══════════════════════════════════════════════════════════════════════════════

// EnvelopeCache stores one species envelope under a fixed key.
// It implements catalog.EnvelopeStore.
type EnvelopeCache struct {
	cache  *Cache
	key    string
	logger *slog.Logger
	now    func() time.Time
}

var _ catalog.EnvelopeStore = (*EnvelopeCache)(nil)

// NewEnvelopeCache creates an envelope cache for the named catalog.
func NewEnvelopeCache(cache *Cache, name string, logger *slog.Logger) *EnvelopeCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvelopeCache{
		cache:  cache,
		key:    EnvelopeKey(name),
		logger: logger.With("component", "envelope_cache"),
		now:    time.Now,
	}
}

// Key returns the Redis key the envelope lives under.
func (e *EnvelopeCache) Key() string {
	return e.key
}

// Load returns the stored envelope or ErrCacheMiss.
func (e *EnvelopeCache) Load(ctx context.Context) (species.Envelope, error) {
	var env species.Envelope
	if err := e.cache.Get(ctx, e.key, &env); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			e.logger.Warn("envelope load failed", "key", e.key, "error", err)
		}
		return species.Envelope{}, fmt.Errorf("load envelope: %w", err)
	}
	return env, nil
}

// Save stores the envelope until it expires. Already expired envelopes are
// not stored.
func (e *EnvelopeCache) Save(ctx context.Context, env species.Envelope) error {
	ttl, ok := envelopeTTL(env, e.now())
	if !ok {
		e.logger.Debug("skipping expired envelope", "key", e.key, "expires_at", env.ExpiresAt)
		return nil
	}

	if err := e.cache.Set(ctx, e.key, env, ttl); err != nil {
		return fmt.Errorf("save envelope: %w", err)
	}

	e.logger.Debug("envelope saved", "key", e.key, "species", env.Len(), "ttl", ttl)
	return nil
}

// Invalidate removes the stored envelope.
func (e *EnvelopeCache) Invalidate(ctx context.Context) error {
	return e.cache.Delete(ctx, e.key)
}

// envelopeTTL returns how long an envelope may live in Redis.
func envelopeTTL(env species.Envelope, now time.Time) (time.Duration, bool) {
	if env.ExpiresAt.IsZero() {
		return TTLEnvelopeDefault, true
	}
	ttl := env.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
