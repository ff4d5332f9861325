// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool from the provided DSN and returns it.
// The pool is configured with sane defaults for this application and includes
// OpenTelemetry tracing for distributed tracing visibility in Jaeger.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	// Add OpenTelemetry tracing to PostgreSQL connections
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Record connection pool stats for metrics
	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}

// pgxPoolAdapter narrows a live *pgxpool.Pool's pgx.Tx-returning Begin/BeginTx
// to this package's own Tx interface, so the same pool backs both PgxPool and
// Beginner without either interface naming pgx.Tx directly.
type pgxPoolAdapter struct{ *pgxpool.Pool }

// NewPgxPoolAdapter wraps a live pool as both a PgxPool and a Beginner.
func NewPgxPoolAdapter(pool *pgxpool.Pool) pgxPoolAdapter { return pgxPoolAdapter{pool} }

func (a pgxPoolAdapter) Query(ctx context.Context, sql string, args ...any) (RowsIter, error) {
	return a.Pool.Query(ctx, sql, args...)
}

func (a pgxPoolAdapter) BeginTx(ctx context.Context, opts pgx.TxOptions) (Tx, error) {
	return a.Pool.BeginTx(ctx, opts)
}

func (a pgxPoolAdapter) Begin(ctx context.Context) (Tx, error) {
	return a.Pool.Begin(ctx)
}
