// Package main - точка входа сервиса каталога морских видов OceanVision.
//
// Сервис отвечает за:
// - Загрузку каталога (встроенный, PostgreSQL или живые источники WoRMS/OBIS/FishBase)
// - REST API поиска и фильтрации видов
// - Периодическое обновление каталога по расписанию
// - Метрики Prometheus и health-пробы
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oceanvision/marine-catalog/config"
	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/bootstrap"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/metrics"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/scheduler"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/scheduler/jobs"
	httpiface "github.com/oceanvision/marine-catalog/internal/interface/http"
	"github.com/oceanvision/marine-catalog/internal/interface/http/handlers"
	"github.com/oceanvision/marine-catalog/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	httpLog := setupHTTPLogger(cfg)
	defer func() { _ = httpLog.Sync() }()

	log.Info("starting OceanVision catalog",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"mode", string(cfg.Catalog.Mode),
		"features", cfg.Features.EnabledFeatures(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	recorder := metrics.NewRecorder(metrics.Options{
		ProcessCollectors: cfg.Observability.ProcessMetrics,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КАТАЛОГ (загрузчик выбирается режимом)
	// ─────────────────────────────────────────────────────────────────────────
	cat, err := bootstrap.Build(ctx, cfg, bootstrap.Options{
		Logger:               log,
		Observer:             recorder,
		OnBreakerStateChange: recorder.ObserveBreakerState,
	})
	if err != nil {
		return fmt.Errorf("failed to build catalog: %w", err)
	}
	defer func() {
		log.Info("closing catalog connections...")
		cat.Close()
	}()

	// Первая загрузка идёт в фоне: /ready отвечает 503, пока она не завершится
	go func() {
		if err := cat.Store.Initialize(ctx); err != nil {
			log.Warn("catalog initialization interrupted", "error", err)
			return
		}
		info := cat.Store.Info()
		log.Info("catalog initialized", "species", info.Size, "sources", info.Sources)
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ОБРАБОТЧИКИ (CQRS)
	// ─────────────────────────────────────────────────────────────────────────
	refreshCfg := command.DefaultRefreshCatalogHandlerConfig()
	refreshCfg.MinRefreshInterval = cfg.Catalog.MinRefreshInterval
	refreshHandler := command.NewRefreshCatalogHandler(cat.Store, refreshCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = setupScheduler(cfg, log, refreshHandler)
		if err != nil {
			return fmt.Errorf("failed to set up scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("catalog", handlers.NewCatalogCheck(cat.Store))
	if cat.DB != nil {
		health.AddCheck("postgres", handlers.NewPingCheck(cat.DB))
	}
	if cat.Cache != nil {
		// Общий кеш не обязателен: без него агрегатор ходит в источники
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cat.Cache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	server := httpiface.NewServer(httpConfig(cfg), httpiface.Dependencies{
		SearchSpecies:    query.NewSearchSpeciesHandler(cat.Store),
		AdvancedSearch:   query.NewAdvancedSearchHandler(cat.Store),
		FilterSpecies:    query.NewFilterSpeciesHandler(cat.Store),
		GetSpecies:       query.NewGetSpeciesHandler(cat.Store),
		GetRandomSpecies: query.NewGetRandomSpeciesHandler(cat.Store),
		GetStatistics:    query.NewGetStatisticsHandler(cat.Store),
		GetCatalogInfo:   query.NewGetCatalogInfoHandler(cat.Store),
		RefreshCatalog:   refreshHandler,
		Logger:           httpLog,
		HealthChecker:    health,
		Metrics:          recorder,
	})

	serverErr := server.StartAsync()
	log.Info("OceanVision catalog is running", "address", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETUP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupScheduler регистрирует задачу обновления каталога.
func setupScheduler(cfg *config.Config, log *slog.Logger, handler jobs.CatalogRefreshHandler) (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.RefreshSchedule)
	if err != nil {
		return nil, err
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log,
		Timezone:       cfg.App.Location,
		MaxHistorySize: cfg.Scheduler.HistorySize,
		RunOnStart:     cfg.Scheduler.RunOnStart,
		JobTimeout:     cfg.Scheduler.JobTimeout,
	})

	jobCfg := jobs.DefaultRefreshCatalogConfig()
	jobCfg.Timeout = cfg.Catalog.LoadTimeout
	if err := sched.Register(jobs.NewRefreshCatalogJob(handler, log, jobCfg), schedule); err != nil {
		return nil, err
	}
	return sched, nil
}

// httpConfig переносит настройки окружения в конфигурацию сервера.
func httpConfig(cfg *config.Config) httpiface.Config {
	hc := httpiface.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.RequestTimeout = cfg.HTTP.RequestTimeout
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.EnableCORS = len(cfg.HTTP.AllowedOrigins) > 0
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.TrustedProxies = cfg.HTTP.TrustedProxies
	hc.APIKeyHeader = cfg.HTTP.APIKeyHeader
	hc.APIKeys = cfg.HTTP.APIKeys
	hc.CacheMaxAge = cfg.HTTP.CacheMaxAge
	hc.EnableMetrics = cfg.Features.IsEnabled(config.FeatureAPIMetrics)
	hc.EnableRefresh = cfg.Features.IsEnabled(config.FeatureAPIRefresh)
	hc.Version = cfg.App.Version
	return hc
}

// setupLogger настраивает slog для сервисного слоя.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		// Текстовый формат для локальной разработки
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)

	return log
}

// setupHTTPLogger настраивает zap-логгер для HTTP слоя.
func setupHTTPLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		AddCaller: !cfg.IsProduction(),
		Console:   cfg.Observability.LogFormat == "text",
	}).With(logger.String("service", cfg.App.Name))
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
