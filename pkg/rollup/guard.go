package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// ErrRunInProgress is returned when a rollup is triggered while another run holds the guard
var ErrRunInProgress = errors.New("rollup run already in progress")

// Guard admits at most one rollup run at a time
type Guard interface {
	// Acquire returns a release function, or ErrRunInProgress if a run is active
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalGuard serializes runs within one process
type LocalGuard struct {
	mu sync.Mutex
}

// NewLocalGuard creates a new in-process guard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

// Acquire takes the guard without blocking
func (g *LocalGuard) Acquire(ctx context.Context) (func(), error) {
	if !g.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }, nil
}

// Lua scripts keep check-and-modify atomic on the lock key
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisGuard serializes runs across replicas with a leased Redis key.
// The lease is refreshed while the run is active and released when it ends.
type RedisGuard struct {
	redis  *redis.Client
	key    string
	ttl    time.Duration
	logger *observability.Logger
}

// NewRedisGuard creates a new Redis-backed guard
func NewRedisGuard(redisClient *redis.Client, prefix string, ttl time.Duration, logger *observability.Logger) *RedisGuard {
	if prefix == "" {
		prefix = "orgrollup"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisGuard{
		redis:  redisClient,
		key:    fmt.Sprintf("%s:run_lock", prefix),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lease without blocking
func (g *RedisGuard) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := g.redis.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.refresh(token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must succeed even when the run context is already cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, g.redis, []string{g.key}, token).Err(); err != nil {
				g.logger.WithError(err).Warn("Failed to release run lock")
			}
		})
	}
	return release, nil
}

func (g *RedisGuard) refresh(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := refreshScript.Run(ctx, g.redis, []string{g.key}, token, g.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				g.logger.WithError(err).Warn("Failed to refresh run lock")
			}
		}
	}
}
