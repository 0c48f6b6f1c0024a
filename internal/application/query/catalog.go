// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// ЗАВИСИМОСТИ
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - набор операций чтения каталога, нужный запросам.
// Реализуется *catalog.Store.
type Catalog interface {
	SearchByName(ctx context.Context, query string) []species.Record
	FilterByHabitat(ctx context.Context, habitat string) []species.Record
	FilterByConservationStatus(ctx context.Context, status string) []species.Record
	FilterByDepthRange(ctx context.Context, min, max float64) []species.Record
	AdvancedSearch(ctx context.Context, c species.Criteria) []species.Record
	GetByID(ctx context.Context, id string) (species.Record, bool)
	GetAll(ctx context.Context) []species.Record
	GetRandom(ctx context.Context, n int) []species.Record
	Statistics(ctx context.Context) species.Statistics
	Info() catalog.Info
}

var _ Catalog = (*catalog.Store)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// ОБЩИЕ РЕЗУЛЬТАТЫ
// ══════════════════════════════════════════════════════════════════════════════

// SpeciesListResult - список видов с количеством.
type SpeciesListResult struct {
	// Species - найденные записи в порядке каталога.
	Species []species.Record `json:"species"`

	// Total - количество записей в Species.
	Total int `json:"total"`
}

func newSpeciesList(records []species.Record) *SpeciesListResult {
	if records == nil {
		records = []species.Record{}
	}
	return &SpeciesListResult{
		Species: records,
		Total:   len(records),
	}
}
