package datafeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/telemetry"
)

const cacheKeyPrefix = "breakoutscan:bars:"

// BarSource is anything that serves daily bars.
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
}

// CachedBars serves daily bars from Redis when present and fills the cache
// from the wrapped source otherwise. Redis errors degrade to a direct fetch.
type CachedBars struct {
	next    BarSource
	client  redis.Cmdable
	ttl     time.Duration
	metrics *telemetry.Metrics
}

func NewCachedBars(next BarSource, client redis.Cmdable, ttl time.Duration, m *telemetry.Metrics) *CachedBars {
	return &CachedBars{next: next, client: client, ttl: ttl, metrics: m}
}

// NewRedisClientFromEnv connects to REDIS_ADDR. It returns nil when the
// variable is unset.
func NewRedisClientFromEnv() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// BarsCacheKey keys by calendar day so repeated runs on one day share entries.
func BarsCacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", cacheKeyPrefix, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

func (c *CachedBars) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	key := BarsCacheKey(symbol, start, end)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var bars []types.Bar
		if jerr := json.Unmarshal(raw, &bars); jerr == nil {
			c.metrics.CacheHit()
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache read failed")
	}
	c.metrics.CacheMiss()

	bars, err := c.next.DailyBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(bars)
	if err != nil {
		return bars, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
	}
	return bars, nil
}
