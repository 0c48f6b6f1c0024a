package query

import (
	"context"
	"errors"
	"strings"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SPECIES QUERY
// Получает карточку вида по идентификатору.
// ══════════════════════════════════════════════════════════════════════════════

// GetSpeciesQuery содержит идентификатор вида.
type GetSpeciesQuery struct {
	ID string
}

// Validate проверяет корректность запроса.
func (q *GetSpeciesQuery) Validate() error {
	q.ID = strings.TrimSpace(q.ID)
	if q.ID == "" {
		return errors.New("species id is required")
	}
	return nil
}

// GetSpeciesHandler обрабатывает запрос карточки вида.
type GetSpeciesHandler struct {
	catalog Catalog
}

// NewGetSpeciesHandler создаёт новый обработчик.
func NewGetSpeciesHandler(c Catalog) *GetSpeciesHandler {
	return &GetSpeciesHandler{catalog: c}
}

// Handle возвращает запись или species.ErrSpeciesNotFound.
func (h *GetSpeciesHandler) Handle(ctx context.Context, q GetSpeciesQuery) (*species.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetSpecies", shared.ErrInvalidID, err.Error(), err)
	}

	rec, ok := h.catalog.GetByID(ctx, q.ID)
	if !ok {
		return nil, shared.WrapError("query", "GetSpecies", shared.ErrNotFound, q.ID, species.ErrSpeciesNotFound)
	}
	return &rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET RANDOM SPECIES QUERY
// Случайная выборка без повторов ("виды дня" на главной странице).
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultRandomCount - размер выборки по умолчанию.
	DefaultRandomCount = 6

	// MaxRandomCount - верхняя граница размера выборки.
	MaxRandomCount = 100
)

// GetRandomSpeciesQuery содержит размер выборки.
type GetRandomSpeciesQuery struct {
	// Count - количество видов (по умолчанию 6, максимум 100).
	Count int
}

// Validate проверяет корректность параметров и подставляет значения по умолчанию.
func (q *GetRandomSpeciesQuery) Validate() error {
	if q.Count < 0 {
		return errors.New("count cannot be negative")
	}
	if q.Count == 0 {
		q.Count = DefaultRandomCount
	}
	if q.Count > MaxRandomCount {
		q.Count = MaxRandomCount
	}
	return nil
}

// GetRandomSpeciesHandler обрабатывает случайную выборку.
type GetRandomSpeciesHandler struct {
	catalog Catalog
}

// NewGetRandomSpeciesHandler создаёт новый обработчик.
func NewGetRandomSpeciesHandler(c Catalog) *GetRandomSpeciesHandler {
	return &GetRandomSpeciesHandler{catalog: c}
}

// Handle возвращает выборку.
func (h *GetRandomSpeciesHandler) Handle(ctx context.Context, q GetRandomSpeciesQuery) (*SpeciesListResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRandomSpecies", shared.ErrValidation, err.Error(), err)
	}
	return newSpeciesList(h.catalog.GetRandom(ctx, q.Count)), nil
}
