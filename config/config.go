// Package config loads the catalog service configuration from environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// CatalogMode selects where the species collection comes from.
type CatalogMode string

const (
	// ModeStatic serves the built-in catalog.
	ModeStatic CatalogMode = "static"
	// ModePostgres serves the species table.
	ModePostgres CatalogMode = "postgres"
	// ModeLive aggregates WoRMS, OBIS and FishBase.
	ModeLive CatalogMode = "live"
)

// ParseCatalogMode validates a mode name.
func ParseCatalogMode(s string) (CatalogMode, error) {
	switch m := CatalogMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStatic, ModePostgres, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown catalog mode %q (want static, postgres or live)", s)
	}
}

// Config is the whole service configuration, read once at startup.
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Catalog       CatalogConfig
	Sources       SourcesConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig

	Features *FeatureFlags
}

type AppConfig struct {
	Name            string
	Environment     Environment
	Debug           bool
	Version         string
	ShutdownTimeout time.Duration

	// Timezone names the zone cron schedules run in; Location is its
	// resolved form (UTC when the name is unknown).
	Timezone string
	Location *time.Location
}

// HTTPConfig holds the REST API settings.
type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	AllowedOrigins     []string
	RateLimitPerMinute int
	TrustedProxies     []string
	CacheMaxAge        time.Duration

	// Keys accepted by POST /api/v1/catalog/refresh.
	APIKeyHeader string
	APIKeys      []string
}

// CatalogConfig holds the species collection settings.
type CatalogConfig struct {
	Mode CatalogMode

	// CacheTTL is how long an aggregated collection stays fresh.
	CacheTTL time.Duration

	// RetryBackoff delays reloads after a failed load.
	RetryBackoff time.Duration

	// LoadTimeout bounds a single load.
	LoadTimeout time.Duration

	// MinRefreshInterval throttles non-forced refresh requests.
	MinRefreshInterval time.Duration

	// Taxa are the scientific names queried in live mode.
	Taxa []string

	// CacheName namespaces the shared Redis envelope.
	CacheName string
}

// SourceConfig tunes the client of one upstream biodiversity API. Every
// field is read from <PREFIX>_*, e.g. OBIS_RATE_LIMIT.
type SourceConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	FailureThreshold  int
	BreakerTimeout    time.Duration
	Concurrency       int // parallel taxon lookups
}

// SourcesConfig holds every upstream.
type SourcesConfig struct {
	UserAgent string
	WoRMS     SourceConfig
	OBIS      SourceConfig
	FishBase  SourceConfig
}

// DatabaseConfig points at the species table. URL, when set, wins over
// the individual fields.
type DatabaseConfig struct {
	URL string

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	AutoMigrate bool
}

// Configured reports whether enough is set to attempt a connection.
func (d DatabaseConfig) Configured() bool {
	return d.URL != "" || (d.Host != "" && d.User != "")
}

// RedisConfig backs the shared catalog envelope. A redis:// URL wins over
// Host and Port.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Disabled bool
}

type SchedulerConfig struct {
	Enabled bool

	// RefreshSchedule is "@every <duration>" or a five-field cron expression.
	RefreshSchedule string

	// RunOnStart dispatches every job once at startup.
	RunOnStart bool

	// HistorySize bounds the kept job results.
	HistorySize int
	JobTimeout  time.Duration
}

type ObservabilityConfig struct {
	LogLevel       string // debug, info, warn, error
	LogFormat      string // json, text
	ProcessMetrics bool   // process and Go runtime collectors on /metrics
}

// DefaultTaxa are queried in live mode when CATALOG_TAXA is not set.
var DefaultTaxa = []string{
	"Carcharodon carcharias",
	"Balaenoptera musculus",
	"Amphiprion ocellaris",
	"Chelonia mydas",
	"Architeuthis dux",
	"Acropora cervicornis",
	"Tursiops truncatus",
	"Enteroctopus dofleini",
	"Mobula birostris",
	"Hippocampus erectus",
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadApp(),
		HTTP:          loadHTTP(),
		Catalog:       loadCatalog(),
		Sources:       loadSources(),
		Database:      loadDatabase(),
		Redis:         loadRedis(),
		Scheduler:     loadScheduler(),
		Observability: loadObservability(),
		Features:      LoadFeatureFlags(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadApp() AppConfig {
	app := AppConfig{
		Name:            envString("APP_NAME", "oceanvision-catalog"),
		Environment:     Environment(envString("APP_ENV", string(EnvDevelopment))),
		Version:         envString("APP_VERSION", "0.1.0"),
		Timezone:        envString("APP_TIMEZONE", "UTC"),
		ShutdownTimeout: envDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
	app.Debug = app.Environment == EnvDevelopment || envBool("APP_DEBUG", false)

	app.Location = time.UTC
	if loc, err := time.LoadLocation(app.Timezone); err == nil {
		app.Location = loc
	}
	return app
}

func loadHTTP() HTTPConfig {
	return HTTPConfig{
		Host:               envString("HTTP_HOST", "0.0.0.0"),
		Port:               envInt("HTTP_PORT", 8080),
		ReadTimeout:        envDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       envDuration("HTTP_WRITE_TIMEOUT", 2*time.Minute),
		IdleTimeout:        envDuration("HTTP_IDLE_TIMEOUT", time.Minute),
		RequestTimeout:     envDuration("HTTP_REQUEST_TIMEOUT", 90*time.Second),
		AllowedOrigins:     envList("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: envInt("HTTP_RATE_LIMIT", 120),
		TrustedProxies:     envList("HTTP_TRUSTED_PROXIES", nil),
		CacheMaxAge:        envDuration("HTTP_CACHE_MAX_AGE", time.Minute),
		APIKeyHeader:       envString("HTTP_API_KEY_HEADER", "X-API-Key"),
		APIKeys:            envList("HTTP_API_KEYS", nil),
	}
}

func loadCatalog() CatalogConfig {
	return CatalogConfig{
		Mode:               CatalogMode(strings.ToLower(envString("CATALOG_MODE", string(ModeStatic)))),
		CacheTTL:           envDuration("CATALOG_CACHE_TTL", 24*time.Hour),
		RetryBackoff:       envDuration("CATALOG_RETRY_BACKOFF", 30*time.Second),
		LoadTimeout:        envDuration("CATALOG_LOAD_TIMEOUT", 2*time.Minute),
		MinRefreshInterval: envDuration("CATALOG_MIN_REFRESH_INTERVAL", time.Minute),
		Taxa:               envList("CATALOG_TAXA", DefaultTaxa),
		CacheName:          envString("CATALOG_CACHE_NAME", "marine"),
	}
}

func loadSources() SourcesConfig {
	return SourcesConfig{
		UserAgent: envString("SOURCES_USER_AGENT", "oceanvision-marine-catalog/1.0"),
		WoRMS:     loadSource("WORMS", "https://www.marinespecies.org/rest", 2),
		OBIS:      loadSource("OBIS", "https://api.obis.org", 2),
		FishBase:  loadSource("FISHBASE", "https://fishbase.ropensci.org", 1),
	}
}

func loadSource(prefix, baseURL string, rps float64) SourceConfig {
	key := func(name string) string { return prefix + "_" + name }
	return SourceConfig{
		BaseURL:           envString(key("BASE_URL"), baseURL),
		Timeout:           envDuration(key("TIMEOUT"), 20*time.Second),
		RequestsPerSecond: envFloat(key("RATE_LIMIT"), rps),
		Burst:             envInt(key("RATE_LIMIT_BURST"), 4),
		MaxAttempts:       envInt(key("MAX_ATTEMPTS"), 3),
		FailureThreshold:  envInt(key("CB_THRESHOLD"), 5),
		BreakerTimeout:    envDuration(key("CB_TIMEOUT"), time.Minute),
		Concurrency:       envInt(key("CONCURRENCY"), 2),
	}
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		URL:             envString("DATABASE_URL", ""),
		Host:            envString("DB_HOST", ""),
		Port:            envInt("DB_PORT", 5432),
		Name:            envString("DB_NAME", "oceanvision"),
		User:            envString("DB_USER", ""),
		Password:        envString("DB_PASSWORD", ""),
		SSLMode:         envString("DB_SSLMODE", "prefer"),
		MaxConns:        envInt("DB_MAX_CONNS", 10),
		MinConns:        envInt("DB_MIN_CONNS", 1),
		ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: envDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  envDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		AutoMigrate:     envBool("DB_AUTO_MIGRATE", true),
	}
}

func loadRedis() RedisConfig {
	return RedisConfig{
		URL:          envString("REDIS_URL", ""),
		Host:         envString("REDIS_HOST", "localhost"),
		Port:         envInt("REDIS_PORT", 6379),
		Password:     envString("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MaxRetries:   envInt("REDIS_MAX_RETRIES", 3),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     envBool("REDIS_DISABLED", false),
	}
}

func loadScheduler() SchedulerConfig {
	return SchedulerConfig{
		Enabled:         envBool("SCHEDULER_ENABLED", true),
		RefreshSchedule: envString("SCHEDULER_REFRESH_SCHEDULE", "@every 6h"),
		RunOnStart:      envBool("SCHEDULER_RUN_ON_START", false),
		HistorySize:     envInt("SCHEDULER_HISTORY_SIZE", 100),
		JobTimeout:      envDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
	}
}

func loadObservability() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      envString("LOG_FORMAT", "json"),
		ProcessMetrics: envBool("METRICS_PROCESS_COLLECTORS", true),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

type problems []string

func (p *problems) addIf(cond bool, msg string) {
	if cond {
		*p = append(*p, msg)
	}
}

// Validate reports every problem at once, one per line.
func (c *Config) Validate() error {
	var p problems

	if _, err := ParseCatalogMode(string(c.Catalog.Mode)); err != nil {
		p = append(p, "CATALOG_MODE: "+err.Error())
	}
	p.addIf(c.Catalog.CacheTTL <= 0, "CATALOG_CACHE_TTL must be positive")
	p.addIf(c.Catalog.RetryBackoff < 0, "CATALOG_RETRY_BACKOFF must not be negative")

	switch c.Catalog.Mode {
	case ModePostgres:
		p.addIf(!c.Database.Configured(), "DATABASE_URL (or DB_HOST and DB_USER) is required in postgres mode")
	case ModeLive:
		p.addIf(len(c.Catalog.Taxa) == 0, "CATALOG_TAXA must name at least one taxon in live mode")
		p.addIf(c.validateSources(&p) == 0, "live mode needs at least one enabled source")
	}

	p.addIf(c.HTTP.Port < 1 || c.HTTP.Port > 65535, "HTTP_PORT must be 1-65535")
	p.addIf(c.HTTP.RateLimitPerMinute < 0, "HTTP_RATE_LIMIT must not be negative")
	p.addIf(c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.RefreshSchedule) == "",
		"SCHEDULER_REFRESH_SCHEDULE is required when the scheduler is enabled")
	p.addIf(c.IsProduction() && c.Features != nil && c.Features.IsEnabled(FeatureAPIRefresh) && len(c.HTTP.APIKeys) == 0,
		"HTTP_API_KEYS is required in production when api.refresh is enabled")

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("configuration errors:\n  - %s", strings.Join(p, "\n  - "))
}

// validateSources checks every source whose feature flag is on and returns
// how many there are.
func (c *Config) validateSources(p *problems) int {
	sources := []struct {
		flag, prefix string
		cfg          SourceConfig
	}{
		{FeatureSourceWoRMS, "WORMS", c.Sources.WoRMS},
		{FeatureSourceOBIS, "OBIS", c.Sources.OBIS},
		{FeatureSourceFishBase, "FISHBASE", c.Sources.FishBase},
	}

	enabled := 0
	for _, s := range sources {
		if c.Features != nil && !c.Features.IsEnabled(s.flag) {
			continue
		}
		enabled++

		u, err := url.Parse(s.cfg.BaseURL)
		p.addIf(err != nil || u.Scheme == "" || u.Host == "", s.prefix+"_BASE_URL must be an absolute URL")
		p.addIf(s.cfg.RequestsPerSecond <= 0, s.prefix+"_RATE_LIMIT must be positive")
		p.addIf(s.cfg.MaxAttempts < 1, s.prefix+"_MAX_ATTEMPTS must be at least 1")
	}
	return enabled
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }
func (c *Config) IsProduction() bool  { return c.App.Environment == EnvProduction }

// ══════════════════════════════════════════════════════════════════════════════
// ENVIRONMENT
// ══════════════════════════════════════════════════════════════════════════════

// envValue parses key with parse. Unset, blank or unparseable values yield
// def.
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func envString(key, def string) string {
	return envValue(key, def, func(s string) (string, error) { return s, nil })
}

func envInt(key string, def int) int { return envValue(key, def, strconv.Atoi) }

func envBool(key string, def bool) bool { return envValue(key, def, strconv.ParseBool) }

func envDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, time.ParseDuration)
}

func envFloat(key string, def float64) float64 {
	return envValue(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// envList splits a comma-separated value and drops blank items. A list with
// nothing left yields def.
func envList(key string, def []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
