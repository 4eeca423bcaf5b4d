// Package server exposes the rollup trigger over HTTP.
//
// Routes:
//
//	POST /api/v1/rollups          run a rollup; ?async=true returns 202 and runs in the background
//	GET  /api/v1/rollups/last     summary of the most recent run
//	GET  /health/live             liveness probe
//	GET  /health/ready            readiness probe, pings Redis when configured
//	GET  /metrics                 Prometheus metrics
//
// A trigger received while a run is active is answered with 409 Conflict. A
// run that fails while listing organizations is answered with 502 and the
// partial run summary.
package server
