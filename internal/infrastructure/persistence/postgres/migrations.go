package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationLockID serialises concurrent Migrate calls across processes
// (pg_advisory_xact_lock key).
const migrationLockID = 0x6f6365616e // "ocean"

// Migration is one schema step read from NNNN_name.{up,down}.sql.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// ParseMigrations reads every *.sql file at the root of fsys. Each version
// needs an up file; down files are optional. Versions must be contiguous
// from 1.
func ParseMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, file := range names {
		stem, direction, ok := splitDirection(file)
		if !ok {
			return nil, fmt.Errorf("%w: %s: want NNNN_name.up.sql or .down.sql", ErrMigrationFailed, file)
		}
		num, name, ok := strings.Cut(stem, "_")
		version, convErr := strconv.Atoi(num)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("%w: %s: bad version prefix", ErrMigrationFailed, file)
		}

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("%w: version %d has two names (%s, %s)", ErrMigrationFailed, version, m.Name, name)
		}
		if direction == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for v := 1; v <= len(byVersion); v++ {
		m, ok := byVersion[v]
		if !ok {
			return nil, fmt.Errorf("%w: version %d is missing", ErrMigrationFailed, v)
		}
		if strings.TrimSpace(m.UpSQL) == "" {
			return nil, fmt.Errorf("%w: version %d has no up SQL", ErrMigrationFailed, v)
		}
		out = append(out, *m)
	}
	return out, nil
}

func splitDirection(file string) (stem, direction string, ok bool) {
	base := strings.TrimSuffix(path.Base(file), ".sql")
	for _, d := range []string{"up", "down"} {
		if s, found := strings.CutSuffix(base, "."+d); found {
			return s, d, true
		}
	}
	return "", "", false
}

// GetMigrations returns the migrations compiled into the binary.
func GetMigrations() []Migration {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	migrations, err := ParseMigrations(sub)
	if err != nil {
		panic(err)
	}
	return migrations
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator applies migrations and records them in schema_migrations.
// Every step runs in its own transaction together with its bookkeeping row.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectAppliedSQL = `SELECT version, applied_at FROM schema_migrations`
	insertAppliedSQL = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`
	deleteAppliedSQL = `DELETE FROM schema_migrations WHERE version = $1`
	isAppliedSQL     = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`
	advisoryLockSQL  = `SELECT pg_advisory_xact_lock($1)`
)

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.conn.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := m.conn.Query(ctx, selectAppliedSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}

	type row struct {
		Version   int
		AppliedAt time.Time
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}

	out := make(map[int]time.Time, len(list))
	for _, r := range list {
		out[r.Version] = r.AppliedAt
	}
	return out, nil
}

// Migrate applies pending migrations in version order and returns how many
// ran. Another process migrating at the same time waits on the advisory
// lock and then skips the steps already applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range pending(m.migrations, done) {
		var already bool
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, advisoryLockSQL, migrationLockID); err != nil {
				return err
			}
			if err := tx.QueryRow(ctx, isAppliedSQL, mig.Version).Scan(&already); err != nil || already {
				return err
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, insertAppliedSQL, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: %04d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if !already {
			ran++
		}
	}
	return ran, nil
}

// Rollback reverts the newest applied migration. Nothing applied is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := lastApplied(m.migrations, done)
	if last == nil {
		return nil
	}
	if strings.TrimSpace(last.DownSQL) == "" {
		return fmt.Errorf("%w: %04d_%s cannot be rolled back", ErrMigrationFailed, last.Version, last.Name)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, advisoryLockSQL, migrationLockID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return fmt.Errorf("rollback %04d_%s: %w", last.Version, last.Name, err)
		}
		_, err := tx.Exec(ctx, deleteAppliedSQL, last.Version)
		return err
	})
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return withStatus(m.migrations, done), nil
}

func pending(migrations []Migration, applied map[int]time.Time) []Migration {
	var out []Migration
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

func lastApplied(migrations []Migration, applied map[int]time.Time) *Migration {
	for i := len(migrations) - 1; i >= 0; i-- {
		if _, ok := applied[migrations[i].Version]; ok {
			return &migrations[i]
		}
	}
	return nil
}

func withStatus(migrations []Migration, applied map[int]time.Time) []Migration {
	out := slices.Clone(migrations)
	for i := range out {
		out[i].AppliedAt, out[i].IsApplied = applied[out[i].Version]
	}
	return out
}
