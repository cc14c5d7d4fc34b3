package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver

	"scopeleak/internal/platform/config"
	"scopeleak/internal/resource"
	"scopeleak/pkg/platform/sentinel"
)

// Supported database/sql driver names.
const (
	DriverPgx = "pgx"
	DriverPQ  = "postgres"
)

// Open creates the shared pool and verifies the server is reachable.
// An unreachable server is reported as resource.ErrBackendUnavailable.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty: %w", sentinel.ErrInvalidConfig)
	}
	switch cfg.Driver {
	case DriverPgx, DriverPQ:
	default:
		return nil, fmt.Errorf("unknown postgres driver %q: %w", cfg.Driver, sentinel.ErrInvalidConfig)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, resource.Unavailable("ping postgres", err)
	}
	return db, nil
}
