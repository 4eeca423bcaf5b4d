package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/orgrollup/pkg/httputil"
	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// Options configures the HTTP server
type Options struct {
	Runner RollupTrigger
	Health *observability.HealthChecker
	// Registry, when set, is exposed on /metrics
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *observability.Logger
	// BaseContext bounds background runs; it is cancelled at shutdown
	BaseContext  context.Context
	AsyncTimeout time.Duration
}

// Server routes the rollup trigger, health and metrics endpoints
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new HTTP server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	s := &Server{router: mux.NewRouter()}
	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics, routeTemplate))

	NewRollupHandlers(opts.Runner, opts.BaseContext, opts.AsyncTimeout, opts.Logger).RegisterRoutes(s.router)

	if opts.Health != nil {
		s.router.HandleFunc("/health/live", opts.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", opts.Health.Readiness).Methods("GET")
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods("GET")
	}

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
	)(s.router)

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels metrics with the matched mux path template
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
