package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/metrics"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/seed"
	"github.com/oceanvision/marine-catalog/internal/interface/http/handlers"
	"github.com/oceanvision/marine-catalog/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	server   *Server
	store    *catalog.Store
	recorder *metrics.Recorder
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	loader, err := seed.NewLoader()
	require.NoError(t, err)
	store := catalog.NewStore(loader)

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("catalog", handlers.NewCatalogCheck(store))

	recorder := metrics.NewRecorder(metrics.Options{})

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.APIKeys = []string{"operator-key"}
	cfg.Version = "test"
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg, Dependencies{
		SearchSpecies:    query.NewSearchSpeciesHandler(store),
		AdvancedSearch:   query.NewAdvancedSearchHandler(store),
		FilterSpecies:    query.NewFilterSpeciesHandler(store),
		GetSpecies:       query.NewGetSpeciesHandler(store),
		GetRandomSpecies: query.NewGetRandomSpeciesHandler(store),
		GetStatistics:    query.NewGetStatisticsHandler(store),
		GetCatalogInfo:   query.NewGetCatalogInfoHandler(store),
		RefreshCatalog:   command.NewRefreshCatalogHandler(store, command.DefaultRefreshCatalogHandlerConfig()),
		Logger:           logger.New(logger.Options{Output: io.Discard}),
		HealthChecker:    checker,
		Metrics:          recorder,
	})

	return &fixture{server: srv, store: store, recorder: recorder}
}

func (f *fixture) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type speciesList struct {
	Species []struct {
		ID         string `json:"id"`
		CommonName string `json:"commonName"`
	} `json:"species"`
	Total int `json:"total"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) speciesList {
	t.Helper()
	env := decode(t, rec)
	require.True(t, env.Success, rec.Body.String())
	var list speciesList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Species, list.Total)
	return list
}

func (l speciesList) ids() []string {
	out := make([]string, 0, len(l.Species))
	for _, s := range l.Species {
		out = append(out, s.ID)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SPECIES ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSearchSpecies(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/species?q=SHARK", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	assert.Equal(t, []string{"great-white-shark"}, list.ids())

	rec = f.do(t, http.MethodGet, "/api/v1/species", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, 10, env.Meta.TotalCount)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
}

func TestAdvancedSearch(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/species/search?habitat=coral&status=endangered&max_depth=100&min_depth=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	assert.NotEmpty(t, list.Species)
	assert.NotContains(t, list.ids(), "clownfish", "Least Concern is filtered out")

	rec = f.do(t, http.MethodGet, "/api/v1/species/search?min_depth=500&max_depth=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec).Error.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/species/search?min_depth=deep", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", decode(t, rec).Error.Code)
}

func TestGetSpecies(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/species/blue-whale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record struct {
		ID             string `json:"id"`
		ScientificName string `json:"scientificName"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &record))
	assert.Equal(t, "blue-whale", record.ID)
	assert.Equal(t, "Balaenoptera musculus", record.ScientificName)

	rec = f.do(t, http.MethodGet, "/api/v1/species/kraken", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "species_not_found", env.Error.Code)
	assert.Contains(t, env.Error.Message, "kraken")
}

func TestSpeciesByDepth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/species/depth?min=1100&max=2000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"great-white-shark", "octopus-giant-pacific"}, decodeList(t, rec).ids())

	for _, target := range []string{
		"/api/v1/species/depth?min=abc&max=10",
		"/api/v1/species/depth?min=10",
		"/api/v1/species/depth?max=10",
		"/api/v1/species/depth?min=NaN&max=10",
		"/api/v1/species/depth?min=100&max=10",
	} {
		rec := f.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRandomSpecies(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/species/random?count=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec).Species, 3)

	rec = f.do(t, http.MethodGet, "/api/v1/species/random", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec).Species, 6)

	rec = f.do(t, http.MethodGet, "/api/v1/species/random?count=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec).Species, 10)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/species/random?count=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/species/random?count=few", nil).Code)
}

func TestFilterByPath(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/habitats/Coral%20Reefs/species", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t,
		[]string{"clownfish", "sea-turtle-green", "coral-staghorn", "manta-ray", "seahorse-lined"},
		decodeList(t, rec).ids())

	rec = f.do(t, http.MethodGet, "/api/v1/statuses/endangered/species", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t,
		[]string{"blue-whale", "sea-turtle-green", "coral-staghorn", "manta-ray"},
		decodeList(t, rec).ids())
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestStatsAndCatalogInfo(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalSpecies int  `json:"totalSpecies"`
		HasData      bool `json:"hasData"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &stats))
	assert.Equal(t, 10, stats.TotalSpecies)
	assert.True(t, stats.HasData)

	rec = f.do(t, http.MethodGet, "/api/v1/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Ready   bool     `json:"ready"`
		Size    int      `json:"size"`
		Sources []string `json:"sources"`
		Stale   bool     `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &info))
	assert.True(t, info.Ready)
	assert.Equal(t, 10, info.Size)
	assert.Contains(t, info.Sources, "IUCN Red List")
	assert.NotContains(t, info.Sources, seed.SourceName, "sources are record provenance, not the loader name")
	assert.False(t, info.Stale)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestRefreshCatalog(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/catalog/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_api_key")

	rec = f.do(t, http.MethodPost, "/api/v1/catalog/refresh", http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_api_key")

	rec = f.do(t, http.MethodPost, "/api/v1/catalog/refresh", http.Header{
		"Authorization": {"Bearer operator-key"},
		"X-Request-Id":  {"refresh-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result command.RefreshCatalogResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.False(t, result.Skipped)
	assert.Equal(t, 10, result.Species)
	assert.Equal(t, "refresh-1", result.CorrelationID)

	rec = f.do(t, http.MethodPost, "/api/v1/catalog/refresh", http.Header{"X-Api-Key": {"operator-key"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.True(t, result.Skipped, "throttled without force")

	rec = f.do(t, http.MethodPost, "/api/v1/catalog/refresh?force=true", http.Header{"X-Api-Key": {"operator-key"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.False(t, result.Skipped)
}

func TestRefreshCatalog_Disabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.EnableRefresh = false })

	rec := f.do(t, http.MethodPost, "/api/v1/catalog/refresh", http.Header{"X-Api-Key": {"operator-key"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH, METRICS & MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthProbes(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", nil).Code)

	rec := f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode(t, rec).Error.Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/healthz", nil).Code)

	require.NoError(t, f.store.Initialize(context.Background()))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", nil).Code)
	rec = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, "test", status.Version)
	assert.Contains(t, status.Checks, "catalog")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodGet, "/api/v1/species/kraken", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`oceanvision_http_requests_total{code="404",method="GET",route="/api/v1/species/{id}"} 1`)

	f = newFixture(t, func(c *Config) { c.EnableMetrics = false })
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/metrics", nil).Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/live", http.Header{"X-Request-Id": {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc-123", decode(t, rec).RequestID)

	rec = f.do(t, http.MethodGet, "/live", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v2/whales", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec).Error.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/species", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", decode(t, rec).Error.Code)
}

func TestRecovery(t *testing.T) {
	f := newFixture(t, nil)
	f.server.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := f.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_server_error", decode(t, rec).Error.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AllowedOrigins = []string{"https://reef.example"} })

	rec := f.do(t, http.MethodOptions, "/api/v1/species", http.Header{
		"Origin":                        {"https://reef.example"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://reef.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/live", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", nil).Code)
	}
	rec := f.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	rl := newRateLimiter(2, time.Minute, clock.Now)

	assert.True(t, rl.Allow("a"))
	clock.Advance(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	clock.Advance(31 * time.Second)
	assert.True(t, rl.Allow("a"), "first hit left the window")
	assert.False(t, rl.Allow("a"))

	clock.Advance(2 * time.Minute)
	assert.True(t, rl.Allow("c"))
	assert.Equal(t, 1, rl.size(), "idle keys are swept")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")

	untrusted := &Server{trusted: map[string]struct{}{}}
	assert.Equal(t, "10.0.0.5", untrusted.clientIP(req))

	trusted := &Server{trusted: map[string]struct{}{"10.0.0.5": {}}}
	assert.Equal(t, "203.0.113.9", trusted.clientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", (&Server{trustAll: true}).clientIP(req))
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	cfg.Host = "::1"
	assert.True(t, strings.HasPrefix(cfg.Address(), "[::1]"))
}
