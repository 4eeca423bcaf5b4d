package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/orgrollup/pkg/async"
	"github.com/platinummonkey/orgrollup/pkg/config"
	"github.com/platinummonkey/orgrollup/pkg/crm"
	"github.com/platinummonkey/orgrollup/pkg/observability"
	"github.com/platinummonkey/orgrollup/pkg/ratelimit"
	"github.com/platinummonkey/orgrollup/pkg/rollup"
	"github.com/platinummonkey/orgrollup/pkg/server"
)

var version = "dev"

var (
	envFile = flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	runOnce = flag.Bool("run-once", false, "Run a single rollup and exit")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("Invalid Redis URL")
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Error("Failed to connect to Redis")
			os.Exit(1)
		}
		logger.Info("Using Redis for the shared rate limiter and run lock")
	}

	runner, err := buildRunner(cfg, redisClient, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Failed to build rollup runner")
		os.Exit(1)
	}

	if *runOnce {
		summary, err := runner.Trigger(ctx, rollup.TriggerManual)
		shutdownOTel(otelProviders, logger)
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if err != nil {
			logger.WithError(err).WithField("updated", summary.Updated).Error("Rollup failed")
			os.Exit(1)
		}
		logger.WithField("updated", summary.Updated).Info("Rollup completed")
		return
	}

	// Background runs are bound to this context and cancelled at shutdown
	runCtx, cancelRuns := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancelRuns()

	var httpServer *http.Server
	if cfg.Server.Enabled {
		handler := server.NewServer(server.Options{
			Runner:       runner,
			Health:       observability.NewHealthChecker(redisClient, version),
			Registry:     registry,
			Metrics:      metrics,
			Logger:       logger,
			BaseContext:  runCtx,
			AsyncTimeout: cfg.Server.WriteTimeout,
		})
		httpServer = &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	if cfg.Scheduler.Enabled {
		scheduler, err := newScheduler(runCtx, cfg.Scheduler.Schedule, runner, cfg.Observability.LogLevel)
		if err != nil {
			logger.WithError(err).Error("Failed to schedule rollup")
			os.Exit(1)
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Scheduler.Schedule).Info("Rollup scheduler started")

		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			cancelRuns()
			return waitForScheduler(ctx, scheduler)
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelRuns()
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	if cfg.Scheduler.RunOnStart {
		async.SafeGo(runCtx, 0, "startup rollup", func(ctx context.Context) error {
			_, err := runner.Trigger(ctx, rollup.TriggerSchedule)
			return err
		})
	}

	if httpServer != nil {
		go func() {
			logger.Infof("HTTP trigger listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP server failed")
				stop()
			}
		}()
	}

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("orgrollup stopped")
}

// buildRunner wires the CRM client, limiter, driver and run guard
func buildRunner(cfg *config.Config, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (*rollup.Runner, error) {
	var limiter crm.Limiter
	var guard rollup.Guard
	if redisClient != nil {
		limiter = ratelimit.NewRedisCounter(redisClient, cfg.RateLimit, cfg.Redis.KeyPrefix, cfg.Redis.CounterTTL, logger).
			WithMetrics(metrics)
		guard = rollup.NewRedisGuard(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, logger)
	} else {
		limiter = ratelimit.NewCounter(cfg.RateLimit, ratelimit.WithMetrics(metrics))
		guard = rollup.NewLocalGuard()
	}

	client, err := crm.NewClient(cfg.CRM,
		crm.WithLimiter(limiter),
		crm.WithMetrics(metrics),
		crm.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	driver := rollup.NewDriver(client, cfg.Rollup, logger, metrics)
	return rollup.NewRunner(driver, guard, logger, metrics), nil
}

func shutdownOTel(providers *observability.OTelProviders, logger *observability.Logger) {
	if providers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
	defer cancel()
	if err := observability.ShutdownOTel(ctx, providers, logger); err != nil {
		logger.WithError(err).Warn("OpenTelemetry shutdown failed")
	}
}
