package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/orgrollup/pkg/async"
	"github.com/platinummonkey/orgrollup/pkg/httputil"
	"github.com/platinummonkey/orgrollup/pkg/observability"
	"github.com/platinummonkey/orgrollup/pkg/rollup"
)

// RollupTrigger starts rollup runs and reports the most recent one
type RollupTrigger interface {
	Trigger(ctx context.Context, trigger string) (rollup.Summary, error)
	Last() (rollup.Summary, bool)
	Running() bool
}

// AcceptedResponse is returned when a rollup is started in the background
type AcceptedResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// RollupHandlers handles rollup trigger requests
type RollupHandlers struct {
	runner RollupTrigger
	// baseCtx outlives individual requests; background runs derive from it
	baseCtx      context.Context
	asyncTimeout time.Duration
	logger       *observability.Logger
}

// NewRollupHandlers creates new rollup handlers. Background runs started with
// ?async=true are bound to baseCtx and asyncTimeout rather than the request.
func NewRollupHandlers(runner RollupTrigger, baseCtx context.Context, asyncTimeout time.Duration, logger *observability.Logger) *RollupHandlers {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RollupHandlers{
		runner:       runner,
		baseCtx:      baseCtx,
		asyncTimeout: asyncTimeout,
		logger:       logger,
	}
}

// RegisterRoutes registers rollup routes
func (h *RollupHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/rollups", h.TriggerRollup).Methods("POST")
	router.HandleFunc("/api/v1/rollups/last", h.GetLastRollup).Methods("GET")
}

// TriggerRollup handles POST /api/v1/rollups
func (h *RollupHandlers) TriggerRollup(w http.ResponseWriter, r *http.Request) {
	runAsync, ok := httputil.ParseQueryBoolOrError(w, r, "async", false)
	if !ok {
		return
	}
	// The base context is cancelled once shutdown begins
	if h.baseCtx.Err() != nil {
		httputil.WriteServiceUnavailable(w, "server is shutting down")
		return
	}

	if runAsync {
		h.triggerAsync(w, r)
		return
	}

	summary, err := h.runner.Trigger(r.Context(), rollup.TriggerHTTP)
	switch {
	case errors.Is(err, rollup.ErrRunInProgress):
		httputil.WriteConflict(w, err.Error())
	case err != nil:
		httputil.WriteErrorWithData(w, http.StatusBadGateway, err, summary)
	default:
		_ = httputil.WriteJSON(w, http.StatusOK, summary)
	}
}

func (h *RollupHandlers) triggerAsync(w http.ResponseWriter, r *http.Request) {
	if h.runner.Running() {
		httputil.WriteConflict(w, rollup.ErrRunInProgress.Error())
		return
	}

	requestID := observability.GetRequestID(r.Context())
	ctx := observability.WithLogger(h.baseCtx, h.logger)
	if requestID != "" {
		ctx = observability.WithRequestID(ctx, requestID)
	}

	async.SafeGo(ctx, h.asyncTimeout, "http rollup", func(ctx context.Context) error {
		_, err := h.runner.Trigger(ctx, rollup.TriggerHTTP)
		return err
	})

	_ = httputil.WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Status:    "accepted",
		RequestID: requestID,
	})
}

// GetLastRollup handles GET /api/v1/rollups/last
func (h *RollupHandlers) GetLastRollup(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.runner.Last()
	if !ok {
		httputil.WriteNotFoundError(w, "no rollup has run yet")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, summary)
}
