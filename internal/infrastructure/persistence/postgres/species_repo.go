package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
	"github.com/oceanvision/marine-catalog/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SPECIES REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SpeciesRepository reads and writes the marine_species table.
// As a catalog.Loader it serves the whole table as one envelope.
type SpeciesRepository struct {
	conn    *Connection
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *slog.Logger

	// ttl bounds how long the store keeps a loaded envelope before
	// reading the table again. Zero means never.
	ttl time.Duration
}

var _ catalog.Loader = (*SpeciesRepository)(nil)

// NewSpeciesRepository creates a new species repository.
func NewSpeciesRepository(conn *Connection, ttl time.Duration, logger *slog.Logger) *SpeciesRepository {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "species_repository")

	return &SpeciesRepository{
		conn: conn,
		breaker: circuitbreaker.DatabaseBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.DatabaseRetrier(),
		logger:  logger,
		ttl:     ttl,
	}
}

// Name identifies the loader in logs.
func (r *SpeciesRepository) Name() string {
	return "postgres"
}

// Load reads every species in catalog order. force is ignored: the table is
// always read.
func (r *SpeciesRepository) Load(ctx context.Context, _ bool) (species.Envelope, error) {
	var rows []speciesRow
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.retrier.Do(ctx, func(ctx context.Context) error {
			var err error
			rows, err = r.selectAll(ctx)
			return err
		})
	})
	if err != nil {
		return species.Envelope{}, fmt.Errorf("load species: %w", err)
	}

	env, err := envelopeFromRows(rows, time.Now(), r.ttl)
	if err != nil {
		return species.Envelope{}, fmt.Errorf("load species: %w", err)
	}

	r.logger.Debug("species loaded", "count", env.Len())
	return env, nil
}

// UpsertAll writes records in one transaction, keeping their order as the
// catalog position. With replace, rows not in records are deleted.
func (r *SpeciesRepository) UpsertAll(ctx context.Context, records []species.Record, replace bool) (int, error) {
	if err := species.ValidateAll(records); err != nil {
		return 0, fmt.Errorf("upsert species: %w", err)
	}

	batch, err := upsertBatch(records)
	if err != nil {
		return 0, fmt.Errorf("upsert species: %w", err)
	}

	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if replace {
				if _, err := tx.Exec(ctx, `DELETE FROM marine_species`); err != nil {
					return fmt.Errorf("clear species: %w", err)
				}
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if err != nil {
		return 0, fmt.Errorf("upsert species: %w", err)
	}

	r.logger.Info("species upserted", "count", len(records), "replace", replace)
	return len(records), nil
}

// Count returns the number of stored species.
func (r *SpeciesRepository) Count(ctx context.Context) (int, error) {
	rows, err := r.conn.Query(ctx, `SELECT COUNT(*) FROM marine_species`)
	if err != nil {
		return 0, fmt.Errorf("count species: %w", err)
	}
	n, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int])
	if err != nil {
		return 0, fmt.Errorf("count species: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

type speciesRow struct {
	Document  []byte
	UpdatedAt time.Time
}

const selectSpeciesSQL = `
SELECT document, updated_at
FROM marine_species
ORDER BY position, id`

const upsertSpeciesSQL = `
INSERT INTO marine_species (id, scientific_name, common_name, conservation_status, sources, position, document)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    scientific_name = EXCLUDED.scientific_name,
    common_name = EXCLUDED.common_name,
    conservation_status = EXCLUDED.conservation_status,
    sources = EXCLUDED.sources,
    position = EXCLUDED.position,
    document = EXCLUDED.document`

func (r *SpeciesRepository) selectAll(ctx context.Context) ([]speciesRow, error) {
	rows, err := r.conn.Query(ctx, selectSpeciesSQL)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (speciesRow, error) {
		var sr speciesRow
		err := row.Scan(&sr.Document, &sr.UpdatedAt)
		return sr, err
	})
}

func upsertBatch(records []species.Record) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for i, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		batch.Queue(upsertSpeciesSQL, rec.ID, rec.ScientificName, rec.CommonName, rec.ConservationStatus, rec.Sources, i, doc)
	}
	return batch, nil
}

// envelopeFromRows decodes documents and stamps the envelope with the most
// recent row update. Expiry counts from loadedAt, not from the update time.
func envelopeFromRows(rows []speciesRow, loadedAt time.Time, ttl time.Duration) (species.Envelope, error) {
	records := make([]species.Record, 0, len(rows))
	var lastUpdated time.Time

	for i, row := range rows {
		var rec species.Record
		if err := json.Unmarshal(row.Document, &rec); err != nil {
			return species.Envelope{}, fmt.Errorf("decode row %d: %w", i, err)
		}
		records = append(records, rec)
		if row.UpdatedAt.After(lastUpdated) {
			lastUpdated = row.UpdatedAt
		}
	}

	if err := species.ValidateAll(records); err != nil {
		return species.Envelope{}, err
	}

	env := species.NewEnvelope(records, species.SourcesOf(records), lastUpdated.UTC(), 0)
	if ttl > 0 {
		env.ExpiresAt = loadedAt.Add(ttl)
	}
	return env, nil
}
