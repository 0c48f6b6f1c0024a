package query

import (
	"context"
	"time"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATISTICS QUERY
// Сводка по каталогу: количество видов, распределение по статусам и средам
// обитания, средняя продолжительность жизни.
// ══════════════════════════════════════════════════════════════════════════════

// StatisticsResult содержит сводку каталога.
type StatisticsResult struct {
	species.Statistics

	// HasData - false для пустого каталога; тогда AverageLifespan не имеет смысла.
	HasData bool `json:"hasData"`

	// GeneratedAt - время формирования сводки.
	GeneratedAt time.Time `json:"generatedAt"`
}

// GetStatisticsHandler обрабатывает запрос сводки.
type GetStatisticsHandler struct {
	catalog Catalog
	now     func() time.Time
}

// NewGetStatisticsHandler создаёт новый обработчик.
func NewGetStatisticsHandler(c Catalog) *GetStatisticsHandler {
	return &GetStatisticsHandler{catalog: c, now: time.Now}
}

// Handle формирует сводку.
func (h *GetStatisticsHandler) Handle(ctx context.Context) (*StatisticsResult, error) {
	stats := h.catalog.Statistics(ctx)
	return &StatisticsResult{
		Statistics:  stats,
		HasData:     stats.HasData(),
		GeneratedAt: h.now().UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET CATALOG INFO QUERY
// Метаданные текущего снимка: источники, свежесть, последняя ошибка.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogInfoResult содержит метаданные каталога.
type CatalogInfoResult struct {
	catalog.Info

	// Stale - true, если срок действия снимка уже истёк.
	Stale bool `json:"stale"`
}

// GetCatalogInfoHandler обрабатывает запрос метаданных.
type GetCatalogInfoHandler struct {
	catalog Catalog
	now     func() time.Time
}

// NewGetCatalogInfoHandler создаёт новый обработчик.
func NewGetCatalogInfoHandler(c Catalog) *GetCatalogInfoHandler {
	return &GetCatalogInfoHandler{catalog: c, now: time.Now}
}

// Handle возвращает метаданные без перезагрузки каталога.
func (h *GetCatalogInfoHandler) Handle(_ context.Context) (*CatalogInfoResult, error) {
	info := h.catalog.Info()
	return &CatalogInfoResult{
		Info:  info,
		Stale: !info.ExpiresAt.IsZero() && !h.now().Before(info.ExpiresAt),
	}, nil
}
