package places

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// KV is the slice of a key-value cache the provider cache needs.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	Client *redis.Client
}

func (r RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

// CachedProvider caches reverse-geocoding answers. Keys round coordinates
// to 4 decimals (about 11 m), so nearby lookups share an entry. Search and
// Directions pass through.
type CachedProvider struct {
	Provider
	kv  KV
	ttl time.Duration
	log *logrus.Entry
}

// NewCachedProvider wraps p with a reverse-geocode cache.
func NewCachedProvider(p Provider, kv KV, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		Provider: p,
		kv:       kv,
		ttl:      ttl,
		log:      logger.WithComponent("places.cache"),
	}
}

func reverseKey(loc model.Location) string {
	return fmt.Sprintf("geo:rev:%.4f:%.4f", loc.Lat, loc.Lon)
}

// ReverseGeocode serves from cache when possible. Cache errors degrade to a
// direct provider call.
func (c *CachedProvider) ReverseGeocode(ctx context.Context, loc model.Location) (string, error) {
	key := reverseKey(loc)

	if addr, ok, err := c.kv.Get(ctx, key); err != nil {
		c.log.WithError(err).Warn("cache read failed")
	} else if ok {
		return addr, nil
	}

	addr, err := c.Provider.ReverseGeocode(ctx, loc)
	if err != nil {
		return "", err
	}
	if err := c.kv.Set(ctx, key, addr, c.ttl); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
	return addr, nil
}
