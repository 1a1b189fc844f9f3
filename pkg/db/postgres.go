// Package db opens the PostgreSQL pool backing the dispatch store and applies
// its schema.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/gaadisathi/config"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// connectAttempts bounds the startup ping loop; the delay doubles from
// connectBackoff between attempts.
const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// NewPostgresPool opens the dispatch pool and waits until the server answers.
//
// Every accept and status change is one short transaction holding a row lock,
// so MaxConns caps concurrent writers; MinConns stays warm for live-query
// refreshes.
func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = min(cfg.MinConns, cfg.MaxConns)
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.MaxConnIdleTime = 15 * time.Minute
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "gaadisathi"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	log := logger.WithComponent("postgres").WithField("host", cfg.Host)
	delay := connectBackoff
	for attempt := 1; ; attempt++ {
		err = HealthCheck(ctx, pool)
		if err == nil {
			return pool, nil
		}
		if attempt == connectAttempts {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("postgres not ready, retrying")
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	pool.Close()
	return nil, fmt.Errorf("postgres: unreachable after %d attempts: %w", connectAttempts, err)
}

// HealthCheck pings the pool with a 2 s budget.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pool.Ping(pingCtx)
}
