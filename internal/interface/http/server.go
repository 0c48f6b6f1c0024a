// Package http implements the REST API of the marine species catalog:
// search and browse endpoints over the in-memory catalog, operator endpoints
// (refresh, metrics) and health probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/interface/http/handlers"
	"github.com/oceanvision/marine-catalog/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Host string
	Port int

	// Socket timeouts of the underlying http.Server.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// RequestTimeout bounds /api/v1 handlers, refresh included, so it has
	// to cover a full reload from the sources.
	RequestTimeout time.Duration

	EnableCORS     bool
	AllowedOrigins []string // "*" allows any origin

	EnableMetrics bool
	EnableRefresh bool

	// RateLimitPerMinute is per client IP; 0 turns limiting off.
	RateLimitPerMinute int
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. "*" trusts all.
	TrustedProxies []string

	APIKeyHeader string
	APIKeys      []string

	// CacheMaxAge of species reads; 0 sends no Cache-Control.
	CacheMaxAge time.Duration

	Version string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       2 * time.Minute,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		RequestTimeout:     90 * time.Second,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		EnableRefresh:      true,
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
		CacheMaxAge:        time.Minute,
		Version:            "dev",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRefresher is satisfied by *command.RefreshCatalogHandler.
type CatalogRefresher interface {
	Handle(ctx context.Context, cmd command.RefreshCatalogCommand) (*command.RefreshCatalogResult, error)
}

// MetricsRecorder is satisfied by *metrics.Recorder.
type MetricsRecorder interface {
	ObserveHTTPRequest(route, method string, status int, duration time.Duration)
	Handler() http.Handler
}

// Dependencies are the read-side query handlers plus optional extras.
// A nil RefreshCatalog or Metrics leaves the matching route unmounted.
type Dependencies struct {
	SearchSpecies    *query.SearchSpeciesHandler
	AdvancedSearch   *query.AdvancedSearchHandler
	FilterSpecies    *query.FilterSpeciesHandler
	GetSpecies       *query.GetSpeciesHandler
	GetRandomSpecies *query.GetRandomSpeciesHandler
	GetStatistics    *query.GetStatisticsHandler
	GetCatalogInfo   *query.GetCatalogInfoHandler

	RefreshCatalog CatalogRefresher
	HealthChecker  handlers.HealthChecker
	Metrics        MetricsRecorder
	Logger         *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config     Config
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	logger     *logger.Logger

	rateLimiter *rateLimiter
	trustAll    bool
	trusted     map[string]struct{}
}

func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		config:  config,
		deps:    deps,
		router:  chi.NewRouter(),
		logger:  log.With(logger.Component("http")),
		trusted: make(map[string]struct{}, len(config.TrustedProxies)),
	}
	for _, p := range config.TrustedProxies {
		s.trusted[p] = struct{}{}
		s.trustAll = s.trustAll || p == "*"
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(config.RateLimitPerMinute, time.Minute, time.Now)
	}

	s.routes()

	s.httpServer = &http.Server{
		Addr:              config.Address(),
		Handler:           s.router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Address() string { return s.config.Address() }

func (s *Server) routes() {
	r := s.router

	r.Use(s.recoveryMiddleware, s.requestIDMiddleware, s.instrumentMiddleware)
	if s.config.EnableCORS {
		r.Use(s.corsMiddleware)
	}
	if s.rateLimiter != nil {
		r.Use(s.rateLimitMiddleware)
	}
	r.Use(handlers.SecurityHeadersMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Probes
	// ─────────────────────────────────────────────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(handlers.NoCacheMiddleware)
		r.Get("/", s.handleRoot)
		r.Get("/live", s.handleLive)
		r.Get("/ready", s.handleReady)
		r.Get("/health", s.handleHealth)
		r.Get("/healthz", s.handleHealth)

		if s.config.EnableMetrics && s.deps.Metrics != nil {
			r.Handle("/metrics", s.deps.Metrics.Handler())
		}
	})

	// ─────────────────────────────────────────────────────────────────────────
	// /api/v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			if s.config.CacheMaxAge > 0 {
				r.Use(handlers.CacheControlMiddleware(s.config.CacheMaxAge, false))
			}
			r.Get("/stats", s.handleGetStats)
			r.Route("/species", func(r chi.Router) {
				r.Get("/", s.handleSearchSpecies)
				r.Get("/search", s.handleAdvancedSearch)
				r.Get("/random", s.handleRandomSpecies)
				r.Get("/depth", s.handleSpeciesByDepth)
				r.Get("/{id}", s.handleGetSpecies)
			})
			r.Get("/habitats/{habitat}/species", s.handleSpeciesByHabitat)
			r.Get("/statuses/{status}/species", s.handleSpeciesByStatus)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Use(handlers.NoCacheMiddleware)
			r.Get("/", s.handleGetCatalogInfo)

			if s.config.EnableRefresh && s.deps.RefreshCatalog != nil {
				auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
				r.With(auth.Middleware, handlers.RequestSizeLimitMiddleware(1<<10)).
					Post("/refresh", s.handleRefreshCatalog)
			}
		})
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// StartAsync binds the listener and serves in the background. A bind error
// is delivered on the channel right away. The channel is closed once serving
// stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		errCh <- fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
		close(errCh)
		return errCh
	}
	s.logger.Info("http server listening", logger.String("address", ln.Addr().String()))

	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
