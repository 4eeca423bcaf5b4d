package async

import (
	"context"
	"time"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging through the context logger
//
// Use this instead of bare `go func()` for background work started from a
// request or a scheduler tick.
//
// Example:
//
//	SafeGo(ctx, 30*time.Minute, "http rollup", func(ctx context.Context) error {
//	    _, err := runner.Trigger(ctx, rollup.TriggerHTTP)
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		logger := observability.FromContext(parentCtx).WithField("task", taskName)

		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			// Logged only; the caller decides whether the task matters
			logger.WithError(err).Error("Background task failed")
		}
	}()
}
