// Package ridesurge implements the Redis-backed demand-smoothing cache
// referenced by SPEC_FULL.md §10: a short-term exponential moving average
// over recent local-demand samples, so the spawner's per-tick demand figure
// doesn't jitter tick to tick. The cache is keyed by whatever string the
// caller passes: the spawner passes "route:<id>" and "depot:<id>", so
// smoothing is per route and per depot. CellKey builds a truncated-coordinate
// cell key, but the spawner does not use it.
package ridesurge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/citytransit/simcore/config"
	"github.com/citytransit/simcore/internal/model"
)

const keyPrefix = "ridesurge:demand:"

// redisClient is the subset of *redis.Client the cache depends on, narrowed
// so tests can substitute an in-memory fake without a live Redis instance.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
}

// Cache wraps a Redis client with the cell-bucketed EMA cache. It satisfies
// spawner.DemandSmoother.
type Cache struct {
	redis redisClient
	alpha float64
	ttl   time.Duration
}

// New constructs a Cache over an already-connected Redis client.
func New(client *redis.Client, cfg config.RideSurgeConfig) *Cache {
	return &Cache{redis: client, alpha: cfg.SmoothingAlpha, ttl: cfg.TTL}
}

// CellKey buckets a location to the configured precision, matching the
// teacher's truncated-coordinate geohash substitute rather than a real
// geohash library (no pack repo imports one).
func CellKey(loc model.Location, precision int) string {
	return fmt.Sprintf("%.*f:%.*f", precision, loc.Lat, precision, loc.Lon)
}

// Smoothed implements spawner.DemandSmoother: it reads the cell's current
// EMA from Redis (fast path) and returns ok=false on a cache miss or error,
// letting the caller fall back to the raw zone-cache computation.
func (c *Cache) Smoothed(cellKey string, raw float64) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	val, err := c.redis.Get(ctx, keyPrefix+cellKey).Result()
	if err != nil {
		c.record(ctx, cellKey, raw)
		return raw, false
	}
	prevEMA, parseErr := strconv.ParseFloat(val, 64)
	if parseErr != nil {
		c.record(ctx, cellKey, raw)
		return raw, false
	}

	ema := c.alpha*raw + (1-c.alpha)*prevEMA
	c.record(ctx, cellKey, ema)
	return ema, true
}

func (c *Cache) record(ctx context.Context, cellKey string, value float64) {
	_ = c.redis.Set(ctx, keyPrefix+cellKey, strconv.FormatFloat(value, 'f', -1, 64), c.ttl).Err()
}
