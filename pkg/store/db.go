package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the handle the store executes statements against.
// Both *pgxpool.Pool and pgxmock.PgxPoolIface satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Dialer opens a fresh handle. It is called on construction and on every reconnect.
type Dialer func(ctx context.Context) (DB, error)

// PoolConfig holds database connection settings
type PoolConfig struct {
	DSN      string
	Schema   string
	MinConns int32
	MaxConns int32
}

// PoolDialer returns a Dialer backed by pgxpool
func PoolDialer(cfg PoolConfig) Dialer {
	return func(ctx context.Context) (DB, error) {
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}

		poolCfg.MinConns = cfg.MinConns
		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.MaxConnLifetime = 30 * time.Minute
		poolCfg.MaxConnIdleTime = 5 * time.Minute
		if cfg.Schema != "" {
			poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		// pgxpool connects lazily, so verify now
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		return pool, nil
	}
}
