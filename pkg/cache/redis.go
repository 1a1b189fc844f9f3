// Package cache holds the Redis client used for the change feed between
// server instances and for provider response caching.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/gaadisathi/config"
	"github.com/shiva/gaadisathi/pkg/logger"
)

const pingAttempts = 3

// NewRedisClient connects to Redis and pings it, retrying briefly while the
// server starts.
//
// Each live Postgres subscription holds a Pub/Sub connection outside the pool,
// so PoolSize only covers notices and cache reads.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    max(cfg.PoolSize/10, 1),
		DialTimeout:     5 * time.Second,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		ConnMaxIdleTime: 10 * time.Minute,
		ClientName:      "gaadisathi",
	})

	log := logger.WithComponent("redis").WithField("addr", cfg.Addr())
	var err error
	for attempt := 1; ; attempt++ {
		if err = HealthCheck(ctx, client); err == nil {
			return client, nil
		}
		if attempt == pingAttempts || ctx.Err() != nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("redis ping failed")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis: ping failed: %w", err)
}

// HealthCheck pings Redis with a 2 s budget.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
