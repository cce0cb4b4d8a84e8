// Package postgres provides the PostgreSQL implementation of the flight store
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Pool wraps pgxpool.Pool with the flight store queries
type Pool struct {
	*pgxpool.Pool
}

var _ store.Store = (*Pool)(nil)

// Config holds PostgreSQL connection configuration. A non-empty URL takes
// precedence over the individual connection fields.
type Config struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// Pool settings
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnLife time.Duration `yaml:"max_conn_life"`
	MaxConnIdle time.Duration `yaml:"max_conn_idle"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "blackbox",
		User:        "blackbox",
		Password:    "blackbox",
		SSLMode:     "disable",
		MaxConns:    4,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	applyPoolSettings(poolCfg, cfg)

	return connect(ctx, poolCfg)
}

// applyPoolSettings copies the non-zero pool settings onto poolCfg
func applyPoolSettings(poolCfg *pgxpool.Config, cfg Config) {
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	}
	if cfg.HealthCheck > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheck
	}
}

func connect(ctx context.Context, poolCfg *pgxpool.Config) (*Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Begin opens a transaction for a writer batch
func (p *Pool) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &poolTx{tx: tx}, nil
}

// poolTx adapts pgx.Tx to store.Tx
type poolTx struct {
	tx pgx.Tx
}

func (t *poolTx) CreateFlight(ctx context.Context, f telemetry.Flight) (uint64, error) {
	return createFlight(ctx, t.tx, f)
}

func (t *poolTx) UpdateFlight(ctx context.Context, f telemetry.Flight) error {
	return updateFlight(ctx, t.tx, f)
}

func (t *poolTx) AppendState(ctx context.Context, flightID uint64, s telemetry.State) error {
	return appendState(ctx, t.tx, flightID, s)
}

func (t *poolTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *poolTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// ClearAll deletes every flight and state in one transaction.
// Returns the counts of deleted records per table.
func (p *Pool) ClearAll(ctx context.Context) (store.ClearResult, error) {
	var result store.ClearResult

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// states reference flights
	tag, err := tx.Exec(ctx, "DELETE FROM flight_state")
	if err != nil {
		return result, fmt.Errorf("failed to delete from flight_state: %w", err)
	}
	result.States = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM flights")
	if err != nil {
		return result, fmt.Errorf("failed to delete from flights: %w", err)
	}
	result.Flights = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return store.ClearResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// Health checks if the database connection is healthy
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}
