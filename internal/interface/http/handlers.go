package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/internal/interface/http/handlers"
	"github.com/oceanvision/marine-catalog/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOT & HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"service": "OceanVision Marine Species Catalog",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"search":   "GET /api/v1/species?q=",
			"advanced": "GET /api/v1/species/search?name=&habitat=&status=&diet=&min_depth=&max_depth=",
			"random":   "GET /api/v1/species/random?count=",
			"depth":    "GET /api/v1/species/depth?min=&max=",
			"species":  "GET /api/v1/species/{id}",
			"habitat":  "GET /api/v1/habitats/{habitat}/species",
			"status":   "GET /api/v1/statuses/{status}/species",
			"stats":    "GET /api/v1/stats",
			"catalog":  "GET /api/v1/catalog",
			"refresh":  "POST /api/v1/catalog/refresh",
			"health":   "GET /health",
		},
	})
}

func (s *Server) healthStatus(r *http.Request) handlers.HealthStatus {
	if s.deps.HealthChecker == nil {
		return handlers.HealthStatus{
			Healthy:   true,
			Ready:     true,
			Message:   "No health checks registered",
			Timestamp: time.Now().UTC(),
			Version:   s.config.Version,
		}
	}
	return s.deps.HealthChecker.Check(r.Context())
}

// handleHealth reports the aggregated health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.healthStatus(r)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady reports whether the service can take traffic: the catalog is
// loaded and every dependency answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.healthStatus(r)
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ready": true})
}

// handleLive is the liveness probe: the process answers.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SPECIES HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSearchSpecies searches by name; an empty q lists the whole catalog.
func (s *Server) handleSearchSpecies(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.SearchSpecies.Handle(r.Context(), query.SearchSpeciesQuery{
		Text: r.URL.Query().Get("q"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeSpeciesList(w, r, result)
}

// handleAdvancedSearch combines name, habitat, status, diet and depth.
func (s *Server) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	minDepth, err := floatParam(params, "min_depth")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	maxDepth, err := floatParam(params, "max_depth")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	status := params.Get("status")
	if status == "" {
		status = params.Get("conservation_status")
	}

	result, err := s.deps.AdvancedSearch.Handle(r.Context(), query.AdvancedSearchQuery{
		Name:               params.Get("name"),
		Habitat:            params.Get("habitat"),
		ConservationStatus: status,
		Diet:               params.Get("diet"),
		MinDepth:           minDepth,
		MaxDepth:           maxDepth,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeSpeciesList(w, r, result)
}

// handleRandomSpecies returns up to count random species (default 6).
func (s *Server) handleRandomSpecies(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter",
				fmt.Sprintf("count: %q is not an integer", raw))
			return
		}
		count = n
	}

	result, err := s.deps.GetRandomSpecies.Handle(r.Context(), query.GetRandomSpeciesQuery{Count: count})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeSpeciesList(w, r, result)
}

// handleSpeciesByDepth filters by an inclusive depth interval; both bounds
// are required.
func (s *Server) handleSpeciesByDepth(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	minDepth, err := floatParam(params, "min")
	if err == nil && minDepth == nil {
		err = errors.New("min: required")
	}
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	maxDepth, err := floatParam(params, "max")
	if err == nil && maxDepth == nil {
		err = errors.New("max: required")
	}
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	s.filterSpecies(w, r, query.FilterSpeciesQuery{
		Kind:     query.FilterDepth,
		MinDepth: *minDepth,
		MaxDepth: *maxDepth,
	})
}

// handleSpeciesByHabitat filters by habitat substring.
func (s *Server) handleSpeciesByHabitat(w http.ResponseWriter, r *http.Request) {
	s.filterSpecies(w, r, query.FilterSpeciesQuery{
		Kind:  query.FilterHabitat,
		Value: pathParam(r, "habitat"),
	})
}

// handleSpeciesByStatus filters by conservation status substring.
func (s *Server) handleSpeciesByStatus(w http.ResponseWriter, r *http.Request) {
	s.filterSpecies(w, r, query.FilterSpeciesQuery{
		Kind:  query.FilterStatus,
		Value: pathParam(r, "status"),
	})
}

func (s *Server) filterSpecies(w http.ResponseWriter, r *http.Request, q query.FilterSpeciesQuery) {
	result, err := s.deps.FilterSpecies.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeSpeciesList(w, r, result)
}

// handleGetSpecies returns one species by ID.
func (s *Server) handleGetSpecies(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	record, err := s.deps.GetSpecies.Handle(r.Context(), query.GetSpeciesQuery{ID: id})
	if err != nil {
		if shared.IsNotFound(err) {
			writeJSONError(w, r, http.StatusNotFound, "species_not_found",
				fmt.Sprintf("species %q not found", id))
			return
		}
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, record)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStats returns catalog statistics.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetStatistics.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleGetCatalogInfo returns snapshot metadata without reloading.
func (s *Server) handleGetCatalogInfo(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetCatalogInfo.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleRefreshCatalog reloads the catalog from its sources.
// ?force=true bypasses the minimum refresh interval.
func (s *Server) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	cmd := command.RefreshCatalogCommand{
		Force:         boolParam(r.URL.Query(), "force"),
		Trigger:       "api",
		CorrelationID: requestIDFrom(r.Context()),
	}

	result, err := s.deps.RefreshCatalog.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("catalog refresh requested",
		logger.Bool("force", cmd.Force),
		logger.Bool("skipped", result.Skipped),
		logger.Int("species", result.Species),
	)
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// PARAMETER HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func writeSpeciesList(w http.ResponseWriter, r *http.Request, result *query.SpeciesListResult) {
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

// floatParam parses an optional finite number. Absent means nil.
func floatParam(params url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(params.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return &v, nil
}

// boolParam accepts true/1/yes in any case.
func boolParam(params url.Values, key string) bool {
	switch strings.ToLower(params.Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// pathParam returns an unescaped chi URL parameter.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
