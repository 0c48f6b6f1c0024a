// Package bootstrap assembles the catalog for a configured mode. It is shared
// by the service binary and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oceanvision/marine-catalog/config"
	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/external/biodiversity"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/persistence/postgres"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/persistence/redis"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/seed"
	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Options carries the cross-cutting hooks the catalog is built with.
type Options struct {
	Logger *slog.Logger

	// Observer receives fetch and reload outcomes. Optional.
	Observer catalog.Observer

	// OnBreakerStateChange is called when a source's circuit changes state.
	// Optional.
	OnBreakerStateChange func(source string, from, to circuitbreaker.State)
}

// ErrNoEnabledSources is returned in live mode when every source is switched off.
var ErrNoEnabledSources = errors.New("bootstrap: no enabled sources")

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is the assembled store together with the connections it owns.
type Catalog struct {
	Store  *catalog.Store
	Loader catalog.Loader
	Mode   config.CatalogMode

	// DB is set in postgres mode.
	DB      *postgres.Connection
	Species *postgres.SpeciesRepository

	// Cache is set when the aggregated envelope is shared through Redis.
	Cache *redis.Cache

	closers []func()
}

// Close releases every connection opened by Build, newest first.
func (c *Catalog) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build creates the loader selected by cfg.Catalog.Mode and wraps it in a
// Store. Nothing is loaded yet; call Store.Initialize.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Catalog, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Catalog{Mode: cfg.Catalog.Mode}

	switch cfg.Catalog.Mode {
	case config.ModeStatic, "":
		loader, err := seed.NewLoader()
		if err != nil {
			return nil, fmt.Errorf("load seed catalog: %w", err)
		}
		c.Loader = loader

	case config.ModePostgres:
		conn, err := OpenDatabase(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		c.DB = conn
		c.closers = append(c.closers, conn.Close)

		c.Species = postgres.NewSpeciesRepository(conn, cfg.Catalog.CacheTTL, log)
		c.Loader = c.Species

	case config.ModeLive:
		sources := LiveSources(cfg, log, opts.OnBreakerStateChange)
		if len(sources) == 0 {
			return nil, ErrNoEnabledSources
		}

		aggOpts := []catalog.AggregatorOption{
			catalog.WithAggregatorLogger(log),
			catalog.WithCacheTTL(cfg.Catalog.CacheTTL),
		}
		if opts.Observer != nil {
			aggOpts = append(aggOpts, catalog.WithFetchObserver(opts.Observer))
		}

		if cfg.Features.IsEnabled(config.FeatureCatalogSharedCache) {
			switch cache, err := OpenCache(ctx, cfg.Redis); {
			case err != nil:
				log.Warn("shared catalog cache unavailable, continuing without it", "error", err)
			case cache != nil:
				c.Cache = cache
				c.closers = append(c.closers, func() { _ = cache.Close() })
				aggOpts = append(aggOpts, catalog.WithSharedStore(
					redis.NewEnvelopeCache(cache, cfg.Catalog.CacheName, log),
				))
			}
		}

		c.Loader = catalog.NewAggregator(sources, aggOpts...)

	default:
		return nil, fmt.Errorf("unknown catalog mode %q", cfg.Catalog.Mode)
	}

	storeOpts := []catalog.StoreOption{
		catalog.WithLogger(log),
		catalog.WithRetryBackoff(cfg.Catalog.RetryBackoff),
		catalog.WithLoadTimeout(cfg.Catalog.LoadTimeout),
	}
	if opts.Observer != nil {
		storeOpts = append(storeOpts, catalog.WithObserver(opts.Observer))
	}
	c.Store = catalog.NewStore(c.Loader, storeOpts...)

	log.Info("catalog assembled", "mode", string(c.Mode))
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCES
// ══════════════════════════════════════════════════════════════════════════════

// LiveSources builds one client per enabled upstream, in WoRMS, OBIS,
// FishBase order.
func LiveSources(
	cfg *config.Config,
	log *slog.Logger,
	onStateChange func(source string, from, to circuitbreaker.State),
) []catalog.Source {
	taxa := cfg.Catalog.Taxa
	var sources []catalog.Source

	if cfg.Features.IsEnabled(config.FeatureSourceWoRMS) {
		client := biodiversity.NewClient(ClientConfig(biodiversity.SourceWoRMS, cfg.Sources.WoRMS, cfg, log, onStateChange))
		sources = append(sources, biodiversity.NewWoRMSSource(client, taxa))
	}
	if cfg.Features.IsEnabled(config.FeatureSourceOBIS) {
		client := biodiversity.NewClient(ClientConfig(biodiversity.SourceOBIS, cfg.Sources.OBIS, cfg, log, onStateChange))
		sources = append(sources, biodiversity.NewOBISSource(client, taxa))
	}
	if cfg.Features.IsEnabled(config.FeatureSourceFishBase) {
		client := biodiversity.NewClient(ClientConfig(biodiversity.SourceFishBase, cfg.Sources.FishBase, cfg, log, onStateChange))
		sources = append(sources, biodiversity.NewFishBaseSource(client, taxa))
	}

	return sources
}

// ClientConfig maps one source's settings onto the upstream client config.
func ClientConfig(
	name string,
	src config.SourceConfig,
	cfg *config.Config,
	log *slog.Logger,
	onStateChange func(source string, from, to circuitbreaker.State),
) biodiversity.ClientConfig {
	cc := biodiversity.DefaultClientConfig(name, src.BaseURL)
	if cfg.Sources.UserAgent != "" {
		cc.UserAgent = cfg.Sources.UserAgent
	}
	if src.Timeout > 0 {
		cc.Timeout = src.Timeout
	}
	if src.RequestsPerSecond > 0 {
		cc.RateLimiterConfig.RequestsPerSecond = src.RequestsPerSecond
	}
	if src.Burst > 0 {
		cc.RateLimiterConfig.BurstSize = src.Burst
	}
	cc.MaxAttempts = src.MaxAttempts
	cc.FailureThreshold = src.FailureThreshold
	if src.BreakerTimeout > 0 {
		cc.BreakerTimeout = src.BreakerTimeout
	}
	cc.Concurrency = src.Concurrency
	cc.OnStateChange = onStateChange
	cc.Logger = log
	cc.Debug = cfg.App.Debug
	return cc
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTIONS
// ══════════════════════════════════════════════════════════════════════════════

// PostgresConfig maps the environment settings onto the pool config.
func PostgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = db.URL
	if db.Host != "" {
		pc.Host = db.Host
	}
	if db.Port > 0 {
		pc.Port = db.Port
	}
	if db.Name != "" {
		pc.Database = db.Name
	}
	if db.User != "" {
		pc.User = db.User
	}
	pc.Password = db.Password
	if db.SSLMode != "" {
		pc.SSLMode = db.SSLMode
	}
	pc.MaxConns = int32(db.MaxConns)
	pc.MinConns = int32(db.MinConns)
	pc.MaxConnLifetime = db.ConnMaxLifetime
	pc.MaxConnIdleTime = db.ConnMaxIdleTime
	if db.ConnectTimeout > 0 {
		pc.ConnectTimeout = db.ConnectTimeout
	}
	return pc
}

// OpenDatabase connects to Postgres and applies pending migrations when
// AutoMigrate is set.
func OpenDatabase(ctx context.Context, db config.DatabaseConfig, log *slog.Logger) (*postgres.Connection, error) {
	if !db.Configured() {
		return nil, errors.New("database is not configured")
	}

	conn, err := postgres.NewConnection(ctx, PostgresConfig(db))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("connected to PostgreSQL")

	if db.AutoMigrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("migrations complete", "applied", applied)
	}

	return conn, nil
}

// RedisConfig maps the environment settings onto the cache config.
func RedisConfig(rc config.RedisConfig) redis.Config {
	out := redis.DefaultConfig()
	out.URL = rc.URL
	if rc.Host != "" {
		out.Host = rc.Host
	}
	if rc.Port > 0 {
		out.Port = rc.Port
	}
	out.Password = rc.Password
	out.DB = rc.DB
	if rc.PoolSize > 0 {
		out.PoolSize = rc.PoolSize
	}
	out.MaxRetries = rc.MaxRetries
	if rc.DialTimeout > 0 {
		out.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		out.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		out.WriteTimeout = rc.WriteTimeout
	}
	return out
}

// OpenCache connects to Redis. It returns nil, nil when Redis is disabled.
func OpenCache(ctx context.Context, rc config.RedisConfig) (*redis.Cache, error) {
	if rc.Disabled {
		return nil, nil
	}
	cache, err := redis.NewCache(ctx, RedisConfig(rc))
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cache, nil
}
