// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", 42).Warn("Organization fetch failed")
//
// Run-scoped logging:
//
//	ctx = observability.WithRunID(ctx, runID)
//	observability.FromContext(ctx).Info("Rollup started")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordCRMRequest("get_organization", "200", elapsed)
//
// All Record* helpers accept a nil *Metrics.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "orgrollup",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
