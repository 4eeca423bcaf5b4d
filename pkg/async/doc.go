// Package async runs background tasks with panic recovery, timeouts and
// structured error logging.
//
// The HTTP trigger uses SafeGo to run an accepted rollup after the response
// has been written:
//
//	async.SafeGo(baseCtx, timeout, "http rollup", func(ctx context.Context) error {
//		_, err := runner.Trigger(ctx, rollup.TriggerHTTP)
//		return err
//	})
package async
