package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"compras-aggregator/internal/common/config"
)

// connMaxLifetime bounds how long a pooled search-log connection is reused.
const connMaxLifetime = 5 * time.Minute

// OpenPostgres opens the search-log database and verifies it answers a ping
// before returning the pool.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	return openPool(ctx, "postgres", cfg.GetDSN(), cfg)
}

func openPool(ctx context.Context, driver, dsn string, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s at %s:%d: %w", driver, cfg.Host, cfg.Port, err)
	}
	return db, nil
}
