package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/demandcast/internal/services"
)

// forecastCacheEntry wraps a run result with cache metadata.
type forecastCacheEntry struct {
	Result   *services.RunResult `json:"result"`
	CachedAt time.Time           `json:"cached_at"`
}

// ForecastCacheStats tracks cache performance counters.
type ForecastCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// ForecastCache caches assembled forecast run results in Redis, keyed by run
// ID. Reads on the hot GET path go through here before hitting Postgres.
type ForecastCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *ForecastCacheStats
	prefix string
	logger *logrus.Logger
}

// NewForecastCache creates a Redis-backed forecast result cache.
func NewForecastCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *ForecastCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &ForecastCacheStats{},
		prefix: "forecast_cache:",
		logger: logger,
	}
}

// Get retrieves a cached run result. The second return value reports a hit.
func (c *ForecastCache) Get(ctx context.Context, runID uuid.UUID) (*services.RunResult, bool) {
	cacheKey := c.prefix + runID.String()

	data, err := c.redis.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("run_id", runID).Warn("redis error reading forecast cache")
		c.miss()
		return nil, false
	}

	var entry forecastCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.WithError(err).WithField("run_id", runID).Warn("corrupt forecast cache entry")
		c.miss()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()

	return entry.Result, true
}

// Set stores a run result with the configured TTL. Failures are logged, never
// surfaced; the cache is best-effort.
func (c *ForecastCache) Set(ctx context.Context, runID uuid.UUID, result *services.RunResult) {
	cacheKey := c.prefix + runID.String()

	entry := forecastCacheEntry{
		Result:   result,
		CachedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).WithField("run_id", runID).Warn("serializing forecast cache entry failed")
		return
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("run_id", runID).Warn("redis error writing forecast cache")
		return
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
}

// Invalidate drops a cached run, used after status changes, recorded actuals,
// or adjustments make the cached copy stale.
func (c *ForecastCache) Invalidate(ctx context.Context, runID uuid.UUID) error {
	cacheKey := c.prefix + runID.String()
	if err := c.redis.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("invalidate forecast cache for %s: %w", runID, err)
	}
	return nil
}

// Clear removes every cached forecast entry.
func (c *ForecastCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan forecast cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear forecast cache: %w", err)
	}
	return nil
}

// GetStats returns a snapshot of the cache counters.
func (c *ForecastCache) GetStats() ForecastCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return ForecastCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

// LogStats logs the counters with the computed hit rate.
func (c *ForecastCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"hit_rate": fmt.Sprintf("%.2f%%", hitRate),
	}).Info("forecast cache stats")
}

func (c *ForecastCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
