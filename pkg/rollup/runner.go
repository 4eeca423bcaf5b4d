package rollup

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// Trigger names reported in summaries and metrics
const (
	TriggerSchedule = "schedule"
	TriggerHTTP     = "http"
	TriggerManual   = "manual"
)

// Runner owns the single-run discipline around a Driver and remembers the
// last completed summary.
type Runner struct {
	driver  *Driver
	guard   Guard
	logger  *observability.Logger
	metrics *observability.Metrics

	running atomic.Bool

	mu   sync.RWMutex
	last *Summary
}

// NewRunner creates a new runner. A nil guard defaults to a LocalGuard.
func NewRunner(driver *Driver, guard Guard, logger *observability.Logger, metrics *observability.Metrics) *Runner {
	if guard == nil {
		guard = NewLocalGuard()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{
		driver:  driver,
		guard:   guard,
		logger:  logger,
		metrics: metrics,
	}
}

// Trigger runs one rollup. It returns ErrRunInProgress without running when
// another run holds the guard.
func (r *Runner) Trigger(ctx context.Context, trigger string) (Summary, error) {
	release, err := r.guard.Acquire(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	r.running.Store(true)
	defer r.running.Store(false)

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := r.logger.WithFields(map[string]interface{}{
		"run_id":  runID,
		"trigger": trigger,
	})

	logger.Info("Rollup run started")
	r.metrics.RecordRunStarted()

	summary, err := r.driver.Run(ctx)
	summary.RunID = runID
	summary.Trigger = trigger

	r.metrics.RecordRunFinished(trigger, err, summary.Duration())
	r.setLast(summary)

	fields := map[string]interface{}{
		"pages":            summary.Pages,
		"processed":        summary.Processed,
		"updated":          summary.Updated,
		"fetch_failures":   summary.FetchFailures,
		"update_failures":  summary.UpdateFailures,
		"resolve_failures": summary.ResolveFailures,
		"duration":         summary.Duration().String(),
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Rollup run failed")
		return summary, err
	}
	logger.WithFields(fields).Info("Rollup run completed")
	return summary, nil
}

// Running reports whether this runner is executing a run. Runs held by other
// replicas through a shared guard are not visible here.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last returns the summary of the most recent run
func (r *Runner) Last() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

func (r *Runner) setLast(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &s
}
