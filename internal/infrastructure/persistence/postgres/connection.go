// Package postgres implements the PostgreSQL persistence layer of the marine
// catalog: a pooled connection, embedded schema migrations and the species
// repository that backs the "postgres" catalog mode.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oceanvision/marine-catalog/pkg/retry"
)

var (
	// ErrConnectionClosed is returned by every call made after Close.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	// ErrMigrationFailed wraps failures of a single schema migration.
	ErrMigrationFailed = errors.New("postgres: migration failed")

	// ErrTransactionFailed is returned when a transaction cannot be started.
	ErrTransactionFailed = errors.New("postgres: transaction failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config describes how to reach the species database. URL, when set, wins
// over the discrete fields.
type Config struct {
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool sizing. Zero keeps the pgxpool default (or the URL's pool_* params).
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	ConnectTimeout time.Duration
}

// DefaultConfig matches the docker-compose database.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              5432,
		Database:          "oceanvision",
		User:              "postgres",
		SSLMode:           "disable",
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}

// DSN renders the libpq keyword/value connection string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	pairs := [][2]string{
		{"host", c.Host},
		{"port", fmt.Sprint(c.Port)},
		{"dbname", c.Database},
		{"user", c.User},
		{"password", c.Password},
		{"sslmode", c.SSLMode},
		{"connect_timeout", fmt.Sprint(int(c.ConnectTimeout.Seconds()))},
	}

	parts := make([]string, len(pairs))
	for i, kv := range pairs {
		parts[i] = kv[0] + "=" + kv[1]
	}
	return strings.Join(parts, " ")
}

// PoolConfig parses DSN and applies the non-zero pool settings.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse connection string: %w", err)
	}

	setIf(&pc.MaxConns, c.MaxConns)
	setIf(&pc.MinConns, c.MinConns)
	setIf(&pc.MaxConnLifetime, c.MaxConnLifetime)
	setIf(&pc.MaxConnIdleTime, c.MaxConnIdleTime)
	setIf(&pc.HealthCheckPeriod, c.HealthCheckPeriod)
	return pc, nil
}

func setIf[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Connection wraps a pgx pool. After Close every method fails with
// ErrConnectionClosed instead of panicking inside pgx.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection opens the pool and waits for the first successful ping.
// The ping is retried: in compose setups the database often starts
// alongside the service.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create connection pool: %w", err)
	}

	if err := retry.DatabaseRetrier().Do(ctx, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	return &Connection{pool: pool}, nil
}

func (c *Connection) open() (*pgxpool.Pool, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool, nil
}

// Close releases the pool. Safe to call more than once.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping satisfies the readiness check.
func (c *Connection) Ping(ctx context.Context) error {
	pool, err := c.open()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := c.open()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := c.open()
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

// WithTx runs fn in a read-committed transaction: commit on nil, rollback
// on error or panic.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	pool, err := c.open()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && err != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
