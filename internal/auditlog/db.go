// Package auditlog is an optional, best-effort execution audit trail:
// one row per terminal session, written to Postgres via pgx/v5 when
// DB_URL is configured. Nothing in the Orchestrator's pipeline depends
// on it succeeding — a write failure is logged and dropped. Adapted
// from internal/repo's pool construction and run_repo.go's scan/insert
// shape.
package auditlog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool dials the audit database. Returns (nil, nil) when DB_URL is
// unset — auditing is an optional supplement, not a hard dependency.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		return nil, nil
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
