package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/orgrollup/pkg/observability"
	"github.com/platinummonkey/orgrollup/pkg/rollup"
)

const otelShutdownTimeout = 10 * time.Second

// scheduledRunner is the part of rollup.Runner the scheduler needs
type scheduledRunner interface {
	Trigger(ctx context.Context, trigger string) (rollup.Summary, error)
}

// newScheduler builds a cron scheduler running one rollup per tick. Ticks that
// fire while the previous rollup is still running are skipped.
func newScheduler(ctx context.Context, schedule string, runner scheduledRunner, level observability.LogLevel) (*cron.Cron, error) {
	cronLog := newCronLogger(level)
	printf := cron.PrintfLogger(cronLog)

	c := cron.New(
		cron.WithLogger(printf),
		cron.WithChain(cron.Recover(printf), cron.SkipIfStillRunning(printf)),
	)

	_, err := c.AddFunc(schedule, func() {
		cronLog.Info("Starting scheduled rollup")
		summary, err := runner.Trigger(ctx, rollup.TriggerSchedule)
		switch {
		case errors.Is(err, rollup.ErrRunInProgress):
			cronLog.Warn("Skipping scheduled rollup, another run is in progress")
		case err != nil:
			cronLog.WithError(err).Error("Scheduled rollup failed")
		default:
			cronLog.WithFields(logrus.Fields{
				"run_id":  summary.RunID,
				"updated": summary.Updated,
			}).Info("Scheduled rollup completed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newCronLogger returns the logrus logger used for scheduler output
func newCronLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrusLevel(level))
	return logger
}

func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// waitForScheduler stops the scheduler and waits for a running job to return
func waitForScheduler(ctx context.Context, c *cron.Cron) error {
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
