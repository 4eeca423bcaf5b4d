package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// RedisCounter shares the call counter across replicas through Redis.
// Every replica increments the same key, so the pause rule applies to the
// combined call count.
type RedisCounter struct {
	redis   *redis.Client
	config  Config
	key     string
	ttl     time.Duration
	sleep   SleepFunc
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRedisCounter creates a new Redis-backed counter. The key expires after
// ttl of inactivity so a stale count does not leak into the next day's run.
func NewRedisCounter(redisClient *redis.Client, config Config, prefix string, ttl time.Duration, logger *observability.Logger) *RedisCounter {
	if prefix == "" {
		prefix = "orgrollup"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisCounter{
		redis:  redisClient,
		config: config.normalize(),
		key:    fmt.Sprintf("%s:crm_calls", prefix),
		ttl:    ttl,
		sleep:  Sleep,
		logger: logger,
	}
}

// WithSleep replaces the pause implementation
func (rc *RedisCounter) WithSleep(fn SleepFunc) *RedisCounter {
	rc.sleep = fn
	return rc
}

// WithMetrics records pauses in Prometheus
func (rc *RedisCounter) WithMetrics(m *observability.Metrics) *RedisCounter {
	rc.metrics = m
	return rc
}

// Done increments the shared counter and pauses at each threshold
func (rc *RedisCounter) Done(ctx context.Context) error {
	pipe := rc.redis.TxPipeline()
	incr := pipe.Incr(ctx, rc.key)
	pipe.Expire(ctx, rc.key, rc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		// On Redis error, fail open so a Redis outage does not stall the run
		rc.logger.WithError(err).Warn("Rate limit counter unavailable, skipping pause check")
		return nil
	}

	if incr.Val()%int64(rc.config.Every) != 0 {
		return nil
	}

	rc.metrics.RecordRateLimitPause()
	return rc.sleep(ctx, rc.config.Pause)
}

// Calls returns the shared call count
func (rc *RedisCounter) Calls(ctx context.Context) (int64, error) {
	n, err := rc.redis.Get(ctx, rc.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
