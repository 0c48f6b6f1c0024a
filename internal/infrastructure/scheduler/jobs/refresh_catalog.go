// Package jobs contains the scheduled jobs of the catalog service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oceanvision/marine-catalog/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH CATALOG JOB
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRefreshHandler runs the refresh command. Implemented by
// *command.RefreshCatalogHandler.
type CatalogRefreshHandler interface {
	Handle(ctx context.Context, cmd command.RefreshCatalogCommand) (*command.RefreshCatalogResult, error)
}

var _ CatalogRefreshHandler = (*command.RefreshCatalogHandler)(nil)

// RefreshCatalogJob reloads the species collection ahead of its expiry so
// that queries keep hitting a warm snapshot.
type RefreshCatalogJob struct {
	handler CatalogRefreshHandler
	logger  *slog.Logger
	config  RefreshCatalogConfig

	// State
	lastStats atomic.Pointer[RefreshStats]
	runs      atomic.Int64
}

// RefreshCatalogConfig contains configuration for the refresh job.
type RefreshCatalogConfig struct {
	// Force bypasses the handler's minimum refresh interval.
	Force bool

	// Timeout is the maximum duration for one refresh.
	Timeout time.Duration
}

// DefaultRefreshCatalogConfig returns sensible defaults.
func DefaultRefreshCatalogConfig() RefreshCatalogConfig {
	return RefreshCatalogConfig{
		Force:   false,
		Timeout: 3 * time.Minute,
	}
}

// RefreshStats contains statistics from a refresh run.
type RefreshStats struct {
	CorrelationID string
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	Skipped       bool
	Species       int
	Sources       []string
	Err           error
}

// NewRefreshCatalogJob creates a new refresh catalog job.
func NewRefreshCatalogJob(handler CatalogRefreshHandler, logger *slog.Logger, config RefreshCatalogConfig) *RefreshCatalogJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &RefreshCatalogJob{
		handler: handler,
		logger:  logger.With("job", "refresh_catalog"),
		config:  config,
	}
}

// Name returns the job name.
func (j *RefreshCatalogJob) Name() string {
	return "refresh_catalog"
}

// Description returns a human-readable description.
func (j *RefreshCatalogJob) Description() string {
	return "Reloads the marine species catalog from its configured loader"
}

// Run executes the refresh.
func (j *RefreshCatalogJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	stats := &RefreshStats{
		CorrelationID: uuid.NewString(),
		StartedAt:     time.Now(),
	}
	j.runs.Add(1)

	res, err := j.handler.Handle(ctx, command.RefreshCatalogCommand{
		Force:         j.config.Force,
		Trigger:       "scheduler",
		CorrelationID: stats.CorrelationID,
	})

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	stats.Err = err
	if res != nil {
		stats.Skipped = res.Skipped
		stats.Species = res.Species
		stats.Sources = res.Sources
	}
	j.lastStats.Store(stats)

	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	if stats.Skipped {
		j.logger.Debug("refresh skipped, catalog is fresh", "correlation_id", stats.CorrelationID)
		return nil
	}

	j.logger.Info("catalog refreshed",
		"correlation_id", stats.CorrelationID,
		"species", stats.Species,
		"sources", stats.Sources,
		"duration", stats.Duration.String(),
	)
	return nil
}

// LastStats returns the statistics of the most recent run, or nil.
func (j *RefreshCatalogJob) LastStats() *RefreshStats {
	return j.lastStats.Load()
}

// Runs returns how many times the job has run.
func (j *RefreshCatalogJob) Runs() int64 {
	return j.runs.Load()
}
