package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// DefaultCacheTTL is how long an aggregated collection stays valid.
const DefaultCacheTTL = 24 * time.Hour

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// AggregatorConfig holds Aggregator settings.
type AggregatorConfig struct {
	// Logger for fetch outcomes. Default: slog.Default().
	Logger *slog.Logger

	// CacheTTL is the validity window of an aggregated collection.
	// Default: 24h
	CacheTTL time.Duration

	// Shared is an optional cross-process envelope store.
	Shared EnvelopeStore

	// Observer receives per-source outcomes. Default: no-op.
	Observer Observer

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*AggregatorConfig)

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(c *AggregatorConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithCacheTTL sets the validity window.
func WithCacheTTL(d time.Duration) AggregatorOption {
	return func(c *AggregatorConfig) {
		if d > 0 {
			c.CacheTTL = d
		}
	}
}

// WithSharedStore enables the cross-process envelope store.
func WithSharedStore(s EnvelopeStore) AggregatorOption {
	return func(c *AggregatorConfig) {
		c.Shared = s
	}
}

// WithFetchObserver sets the per-source observer.
func WithFetchObserver(o Observer) AggregatorOption {
	return func(c *AggregatorConfig) {
		if o != nil {
			c.Observer = o
		}
	}
}

// WithAggregatorClock overrides time.Now.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(c *AggregatorConfig) {
		if now != nil {
			c.Now = now
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator merges the records of several sources into one collection.
//
// Sources are fetched concurrently and isolated from each other: an error or
// panic in one source only removes that source's records from the run.
// Partial records are merged in source order, deduplicated by scientific name
// (first one wins) and normalized. The result is cached for CacheTTL.
type Aggregator struct {
	sources []Source
	cfg     AggregatorConfig
	logger  *slog.Logger

	cache *envelopeCache
}

type sourceResult struct {
	name    string
	records []species.PartialRecord
	err     error
}

// NewAggregator creates an aggregator over sources, queried in the given order.
func NewAggregator(sources []Source, opts ...AggregatorOption) *Aggregator {
	cfg := AggregatorConfig{
		Logger:   slog.Default(),
		CacheTTL: DefaultCacheTTL,
		Observer: nopObserver{},
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Aggregator{
		sources: sources,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "aggregator"),
		cache:   &envelopeCache{},
	}
}

// Name identifies the aggregator as a Loader.
func (a *Aggregator) Name() string {
	return "aggregator"
}

// SourceNames returns the configured source names in merge order.
func (a *Aggregator) SourceNames() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Load returns the cached collection while it is valid, otherwise fetches
// every source. force skips both the local and the shared cache.
// When every source fails the error wraps ErrAllSourcesFailed and the cache
// is left as it was.
func (a *Aggregator) Load(ctx context.Context, force bool) (species.Envelope, error) {
	now := a.cfg.Now()

	if !force {
		if env, ok := a.cache.get(now); ok {
			return env, nil
		}
		if env, ok := a.loadShared(ctx, now); ok {
			a.cache.set(env)
			return cloneEnvelope(env), nil
		}
	}

	env, err := a.aggregate(ctx)
	if err != nil {
		return species.Envelope{}, err
	}

	a.cache.set(env)
	a.saveShared(ctx, env)

	return cloneEnvelope(env), nil
}

// aggregate runs one full fetch-merge-normalize pass.
func (a *Aggregator) aggregate(ctx context.Context) (env species.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = shared.WrapError("catalog", "Aggregate", shared.ErrInvalidState,
				fmt.Sprintf("aggregation panicked: %v", r), ErrAllSourcesFailed)
			a.logger.Error("aggregation panicked", "panic", r)
		}
	}()

	if len(a.sources) == 0 {
		return species.Envelope{}, ErrNoSources
	}

	results := make([]sourceResult, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			results[i] = a.fetchSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var (
		partials  []species.PartialRecord
		succeeded []string
		failures  []error
	)
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", res.name, res.err))
			continue
		}
		succeeded = append(succeeded, res.name)
		partials = append(partials, res.records...)
	}

	if len(succeeded) == 0 {
		return species.Envelope{}, shared.WrapError("catalog", "Aggregate", shared.ErrServiceUnavailable,
			"all sources failed", errors.Join(append([]error{ErrAllSourcesFailed}, failures...)...))
	}

	fetchedAt := a.cfg.Now()
	records := species.NormalizeAll(species.Deduplicate(partials), fetchedAt)

	a.logger.Info("aggregation completed",
		"species", len(records),
		"partials", len(partials),
		"sources", succeeded,
		"failed_sources", len(failures),
	)

	return species.NewEnvelope(records, succeeded, fetchedAt, a.cfg.CacheTTL), nil
}

// fetchSource calls one source, converting panics into errors.
func (a *Aggregator) fetchSource(ctx context.Context, src Source) (res sourceResult) {
	name := src.Name()
	res.name = name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = sourceResult{name: name, err: fmt.Errorf("source panicked: %v", r)}
		}

		duration := time.Since(start)
		a.cfg.Observer.ObserveSourceFetch(name, len(res.records), duration, res.err)

		if res.err != nil {
			a.logger.Warn("source fetch failed",
				"source", name,
				"duration", duration,
				"error", res.err,
			)
			return
		}
		a.logger.Debug("source fetched",
			"source", name,
			"records", len(res.records),
			"duration", duration,
		)
	}()

	records, err := src.Fetch(ctx)
	if err != nil {
		res.err = err
		return res
	}

	for i := range records {
		if records[i].Source == "" {
			records[i].Source = name
		}
	}
	res.records = records
	return res
}

func (a *Aggregator) loadShared(ctx context.Context, now time.Time) (species.Envelope, bool) {
	if a.cfg.Shared == nil {
		return species.Envelope{}, false
	}

	env, err := a.cfg.Shared.Load(ctx)
	if err != nil {
		a.logger.Debug("shared envelope unavailable", "error", err)
		return species.Envelope{}, false
	}
	// Shared entries are written with an expiry; a zero one is never trusted.
	if env.ExpiresAt.IsZero() || env.Expired(now) || env.Len() == 0 {
		return species.Envelope{}, false
	}
	if err := species.ValidateAll(env.Species); err != nil {
		a.logger.Warn("shared envelope rejected", "error", err)
		return species.Envelope{}, false
	}

	a.logger.Info("using shared envelope", "species", env.Len(), "expires_at", env.ExpiresAt)
	return env, true
}

func (a *Aggregator) saveShared(ctx context.Context, env species.Envelope) {
	if a.cfg.Shared == nil {
		return
	}
	if err := a.cfg.Shared.Save(ctx, env); err != nil {
		a.logger.Warn("failed to store shared envelope", "error", err)
	}
}
