// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH CATALOG COMMAND
// Forces a reload of the species collection from its loader.
// Used by the admin API, the CLI and the scheduled refresh job.
// ══════════════════════════════════════════════════════════════════════════════

// RefreshCatalogCommand contains the data needed to refresh the catalog.
type RefreshCatalogCommand struct {
	// Force bypasses the minimum refresh interval check.
	Force bool

	// Trigger names who asked for the refresh ("api", "cli", "scheduler").
	Trigger string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RefreshCatalogCommand) Validate() error {
	if c.Trigger == "" {
		return fmt.Errorf("refresh_catalog: trigger is required: %w", shared.ErrEmptyValue)
	}
	return nil
}

// RefreshCatalogResult contains the result of a refresh.
type RefreshCatalogResult struct {
	// RunID identifies this refresh in logs.
	RunID string `json:"run_id,omitempty"`

	// Skipped is true when the refresh was throttled.
	Skipped bool `json:"skipped"`

	// Species is the size of the new collection.
	Species int `json:"species"`

	// Sources lists the sources that contributed.
	Sources []string `json:"sources"`

	// LastUpdated is when the new collection was fetched.
	LastUpdated time.Time `json:"last_updated"`

	// Duration of the reload.
	Duration time.Duration `json:"duration"`

	// CorrelationID echoes the command's correlation id.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRefresher reloads the catalog. Implemented by *catalog.Store.
type CatalogRefresher interface {
	Refresh(ctx context.Context) (catalog.RefreshResult, error)
}

var _ CatalogRefresher = (*catalog.Store)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RefreshCatalogHandler handles the RefreshCatalogCommand.
type RefreshCatalogHandler struct {
	refresher CatalogRefresher

	// Configuration
	minRefreshInterval time.Duration
	now                func() time.Time

	mu          sync.Mutex
	lastSuccess time.Time
}

// RefreshCatalogHandlerConfig contains configuration for the handler.
type RefreshCatalogHandlerConfig struct {
	// MinRefreshInterval throttles non-forced refreshes. Zero disables throttling.
	MinRefreshInterval time.Duration
}

// DefaultRefreshCatalogHandlerConfig returns default configuration.
func DefaultRefreshCatalogHandlerConfig() RefreshCatalogHandlerConfig {
	return RefreshCatalogHandlerConfig{
		MinRefreshInterval: time.Minute,
	}
}

// NewRefreshCatalogHandler creates a new RefreshCatalogHandler.
func NewRefreshCatalogHandler(refresher CatalogRefresher, config RefreshCatalogHandlerConfig) *RefreshCatalogHandler {
	return &RefreshCatalogHandler{
		refresher:          refresher,
		minRefreshInterval: config.MinRefreshInterval,
		now:                time.Now,
	}
}

// Handle executes the RefreshCatalogCommand.
// A failed refresh leaves the previous collection in service.
func (h *RefreshCatalogHandler) Handle(ctx context.Context, cmd RefreshCatalogCommand) (*RefreshCatalogResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RefreshCatalog", shared.ErrValidation, err.Error(), err)
	}

	if !cmd.Force && h.throttled() {
		return &RefreshCatalogResult{
			Skipped:       true,
			Sources:       []string{},
			CorrelationID: cmd.CorrelationID,
		}, nil
	}

	res, err := h.refresher.Refresh(ctx)
	if err != nil {
		return nil, shared.WrapError("command", "RefreshCatalog", shared.ErrServiceUnavailable,
			fmt.Sprintf("refresh triggered by %s failed", cmd.Trigger), err)
	}

	h.mu.Lock()
	h.lastSuccess = h.now()
	h.mu.Unlock()

	return &RefreshCatalogResult{
		RunID:         res.ID,
		Species:       res.Species,
		Sources:       res.Sources,
		LastUpdated:   res.LastUpdated,
		Duration:      res.Duration,
		CorrelationID: cmd.CorrelationID,
	}, nil
}

func (h *RefreshCatalogHandler) throttled() bool {
	if h.minRefreshInterval <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.lastSuccess.IsZero() && h.now().Sub(h.lastSuccess) < h.minRefreshInterval
}
