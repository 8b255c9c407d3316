package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the slice of pgxpool.Pool the ledger needs
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// LedgerSchema creates the push delivery ledger. Tasks themselves are never stored.
const LedgerSchema = `
CREATE SCHEMA IF NOT EXISTS harboragent;
CREATE TABLE IF NOT EXISTS harboragent.push_deliveries (
	delivery_id  UUID PRIMARY KEY,
	task_id      TEXT NOT NULL,
	url          TEXT NOT NULL,
	state        TEXT NOT NULL,
	status       TEXT NOT NULL,
	http_status  INT,
	latency_ms   INT,
	error        TEXT,
	attempted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS push_deliveries_task_idx ON harboragent.push_deliveries (task_id, attempted_at);`

// Connect establishes a connection pool to the database and returns the pool
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	// Parse config from DSN
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// Set max connections and create pool
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Ping the database to verify connection
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the ledger schema. It is safe to run on every start.
func Migrate(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, LedgerSchema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}
