package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH SPECIES QUERY
// Поиск по названию: общее и научное имя, семейство, отряд.
// Пустая строка запроса возвращает весь каталог.
// ══════════════════════════════════════════════════════════════════════════════

// SearchSpeciesQuery содержит параметры поиска по названию.
type SearchSpeciesQuery struct {
	// Text - подстрока для поиска (без учёта регистра).
	Text string
}

// SearchSpeciesHandler обрабатывает поиск по названию.
type SearchSpeciesHandler struct {
	catalog Catalog
}

// NewSearchSpeciesHandler создаёт новый обработчик поиска.
func NewSearchSpeciesHandler(c Catalog) *SearchSpeciesHandler {
	return &SearchSpeciesHandler{catalog: c}
}

// Handle выполняет поиск.
func (h *SearchSpeciesHandler) Handle(ctx context.Context, q SearchSpeciesQuery) (*SpeciesListResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return newSpeciesList(h.catalog.GetAll(ctx)), nil
	}
	return newSpeciesList(h.catalog.SearchByName(ctx, text)), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCED SEARCH QUERY
// Комбинированный поиск: все заданные критерии объединяются через И.
// Глубина учитывается только если заданы обе границы.
// ══════════════════════════════════════════════════════════════════════════════

// AdvancedSearchQuery содержит критерии расширенного поиска.
type AdvancedSearchQuery struct {
	Name               string
	Habitat            string
	ConservationStatus string
	Diet               string

	// MinDepth, MaxDepth - границы глубины в метрах (nil = не задано).
	MinDepth *float64
	MaxDepth *float64
}

// Validate проверяет корректность критериев.
func (q *AdvancedSearchQuery) Validate() error {
	q.Name = strings.TrimSpace(q.Name)
	q.Habitat = strings.TrimSpace(q.Habitat)
	q.ConservationStatus = strings.TrimSpace(q.ConservationStatus)
	q.Diet = strings.TrimSpace(q.Diet)

	if q.MinDepth != nil && q.MaxDepth != nil && *q.MinDepth > *q.MaxDepth {
		return species.ErrInvalidDepthRange
	}
	return nil
}

// Criteria преобразует запрос в доменные критерии.
func (q AdvancedSearchQuery) Criteria() species.Criteria {
	return species.Criteria{
		Name:               q.Name,
		Habitat:            q.Habitat,
		ConservationStatus: q.ConservationStatus,
		MinDepth:           q.MinDepth,
		MaxDepth:           q.MaxDepth,
		Diet:               q.Diet,
	}
}

// AdvancedSearchHandler обрабатывает расширенный поиск.
type AdvancedSearchHandler struct {
	catalog Catalog
}

// NewAdvancedSearchHandler создаёт новый обработчик расширенного поиска.
func NewAdvancedSearchHandler(c Catalog) *AdvancedSearchHandler {
	return &AdvancedSearchHandler{catalog: c}
}

// Handle выполняет расширенный поиск.
func (h *AdvancedSearchHandler) Handle(ctx context.Context, q AdvancedSearchQuery) (*SpeciesListResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "AdvancedSearch", shared.ErrValidation, err.Error(), err)
	}
	return newSpeciesList(h.catalog.AdvancedSearch(ctx, q.Criteria())), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER SPECIES QUERY
// Фильтр по одному признаку: среда обитания, охранный статус или глубина.
// ══════════════════════════════════════════════════════════════════════════════

// FilterKind - признак, по которому фильтруется каталог.
type FilterKind string

const (
	FilterHabitat FilterKind = "habitat"
	FilterStatus  FilterKind = "status"
	FilterDepth   FilterKind = "depth"
)

// FilterSpeciesQuery содержит параметры фильтра.
type FilterSpeciesQuery struct {
	Kind FilterKind

	// Value - подстрока для FilterHabitat и FilterStatus.
	Value string

	// MinDepth, MaxDepth - интервал для FilterDepth.
	MinDepth float64
	MaxDepth float64
}

// Validate проверяет корректность параметров фильтра.
func (q *FilterSpeciesQuery) Validate() error {
	switch q.Kind {
	case FilterHabitat, FilterStatus:
		q.Value = strings.TrimSpace(q.Value)
		if q.Value == "" {
			return fmt.Errorf("%s filter: %w", q.Kind, shared.ErrEmptyValue)
		}
	case FilterDepth:
		if q.MinDepth > q.MaxDepth {
			return species.ErrInvalidDepthRange
		}
	default:
		return fmt.Errorf("unknown filter %q: %w", q.Kind, shared.ErrInvalidInput)
	}
	return nil
}

// FilterSpeciesHandler обрабатывает фильтрацию.
type FilterSpeciesHandler struct {
	catalog Catalog
}

// NewFilterSpeciesHandler создаёт новый обработчик фильтра.
func NewFilterSpeciesHandler(c Catalog) *FilterSpeciesHandler {
	return &FilterSpeciesHandler{catalog: c}
}

// Handle применяет фильтр.
func (h *FilterSpeciesHandler) Handle(ctx context.Context, q FilterSpeciesQuery) (*SpeciesListResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "FilterSpecies", shared.ErrValidation, err.Error(), err)
	}

	switch q.Kind {
	case FilterHabitat:
		return newSpeciesList(h.catalog.FilterByHabitat(ctx, q.Value)), nil
	case FilterStatus:
		return newSpeciesList(h.catalog.FilterByConservationStatus(ctx, q.Value)), nil
	default:
		return newSpeciesList(h.catalog.FilterByDepthRange(ctx, q.MinDepth, q.MaxDepth)), nil
	}
}
