package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// Limiter is consumed once per completed outbound call. Done may pause the
// caller before returning; the pause is never reported as an error unless
// the context ends first.
type Limiter interface {
	Done(ctx context.Context) error
}

// Config defines the call-count pause rule
type Config struct {
	// Every is the number of completed calls between pauses
	Every int
	// Pause is how long the caller is suspended at each threshold
	Pause time.Duration
}

// DefaultConfig returns the default pause rule: 2s after every 8th call
func DefaultConfig() Config {
	return Config{
		Every: 8,
		Pause: 2 * time.Second,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Every <= 0 {
		c.Every = d.Every
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
	return c
}

// SleepFunc suspends the caller for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Counter is an in-process call counter that pauses the caller after every
// Every completed calls. It bounds the average call rate of sequential work;
// it does not bound burst concurrency.
type Counter struct {
	config  Config
	sleep   SleepFunc
	metrics *observability.Metrics

	mu         sync.Mutex
	callsSoFar int64
}

// CounterOption customizes a Counter
type CounterOption func(*Counter)

// WithSleep replaces the pause implementation
func WithSleep(fn SleepFunc) CounterOption {
	return func(c *Counter) {
		c.sleep = fn
	}
}

// WithMetrics records pauses in Prometheus
func WithMetrics(m *observability.Metrics) CounterOption {
	return func(c *Counter) {
		c.metrics = m
	}
}

// NewCounter creates a new in-process counter
func NewCounter(config Config, opts ...CounterOption) *Counter {
	c := &Counter{
		config: config.normalize(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Done records one completed call. At each threshold the pause happens while
// the lock is held, so concurrent callers wait behind it too.
func (c *Counter) Done(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callsSoFar++
	if c.callsSoFar%int64(c.config.Every) != 0 {
		return nil
	}

	c.metrics.RecordRateLimitPause()
	return c.sleep(ctx, c.config.Pause)
}

// Calls returns the number of completed calls recorded so far
func (c *Counter) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callsSoFar
}

// Sleep suspends the caller for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
