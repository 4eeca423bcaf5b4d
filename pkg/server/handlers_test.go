package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgrollup/pkg/crm"
	"github.com/platinummonkey/orgrollup/pkg/observability"
	"github.com/platinummonkey/orgrollup/pkg/rollup"
)

// mockRunner is a mock implementation of RollupTrigger for testing
type mockRunner struct {
	triggerFunc func(ctx context.Context, trigger string) (rollup.Summary, error)
	lastFunc    func() (rollup.Summary, bool)
	running     atomic.Bool
	calls       atomic.Int32
}

func (m *mockRunner) Trigger(ctx context.Context, trigger string) (rollup.Summary, error) {
	m.calls.Add(1)
	if m.triggerFunc != nil {
		return m.triggerFunc(ctx, trigger)
	}
	return rollup.Summary{Trigger: trigger}, nil
}

func (m *mockRunner) Last() (rollup.Summary, bool) {
	if m.lastFunc != nil {
		return m.lastFunc()
	}
	return rollup.Summary{}, false
}

func (m *mockRunner) Running() bool {
	return m.running.Load()
}

func newTestServer(runner RollupTrigger) *Server {
	return newTestServerWithContext(context.Background(), runner)
}

func newTestServerWithContext(baseCtx context.Context, runner RollupTrigger) *Server {
	registry := prometheus.NewRegistry()
	return NewServer(Options{
		Runner:       runner,
		Health:       observability.NewHealthChecker(nil, "test"),
		Registry:     registry,
		Metrics:      observability.NewMetrics(registry),
		BaseContext:  baseCtx,
		AsyncTimeout: time.Minute,
	})
}

func TestTriggerRollup_Success(t *testing.T) {
	runner := &mockRunner{
		triggerFunc: func(ctx context.Context, trigger string) (rollup.Summary, error) {
			assert.Equal(t, rollup.TriggerHTTP, trigger)
			return rollup.Summary{RunID: "run-1", Trigger: trigger, Pages: 2, Updated: 5}, nil
		},
	}
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var summary rollup.Summary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 5, summary.Updated)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestTriggerRollup_Conflict(t *testing.T) {
	runner := &mockRunner{
		triggerFunc: func(ctx context.Context, trigger string) (rollup.Summary, error) {
			return rollup.Summary{}, rollup.ErrRunInProgress
		},
	}
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in progress")
}

func TestTriggerRollup_FatalFailureReturnsPartialSummary(t *testing.T) {
	runner := &mockRunner{
		triggerFunc: func(ctx context.Context, trigger string) (rollup.Summary, error) {
			err := &crm.UpstreamError{Op: crm.OpListOrganizations, StatusCode: 500}
			return rollup.Summary{Pages: 3, Updated: 12, Error: err.Error()}, err
		},
	}
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups", nil))

	require.Equal(t, http.StatusBadGateway, w.Code)
	var resp struct {
		Error string         `json:"error"`
		Data  rollup.Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "list_organizations")
	assert.Equal(t, 3, resp.Data.Pages)
	assert.Equal(t, 12, resp.Data.Updated)
}

func TestTriggerRollup_Async(t *testing.T) {
	done := make(chan struct{})
	runner := &mockRunner{
		triggerFunc: func(ctx context.Context, trigger string) (rollup.Summary, error) {
			defer close(done)
			assert.Equal(t, "req-42", observability.GetRequestID(ctx))
			return rollup.Summary{}, nil
		},
	}
	srv := newTestServer(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rollups?async=true", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp AcceptedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "req-42", resp.RequestID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background rollup never ran")
	}
}

func TestTriggerRollup_AsyncWhileRunning(t *testing.T) {
	runner := &mockRunner{}
	runner.running.Store(true)
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups?async=true", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, runner.calls.Load())
}

func TestTriggerRollup_ShuttingDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &mockRunner{}
	srv := newTestServerWithContext(ctx, runner)

	for _, target := range []string{"/api/v1/rollups", "/api/v1/rollups?async=true"} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
	assert.Zero(t, runner.calls.Load())
}

func TestTriggerRollup_InvalidAsyncFlag(t *testing.T) {
	runner := &mockRunner{}
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups?async=later", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, runner.calls.Load())
}

func TestGetLastRollup(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		srv := newTestServer(&mockRunner{})

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rollups/last", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns last summary", func(t *testing.T) {
		srv := newTestServer(&mockRunner{
			lastFunc: func() (rollup.Summary, bool) {
				return rollup.Summary{RunID: "run-9", Trigger: rollup.TriggerSchedule}, true
			},
		})

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rollups/last", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var summary rollup.Summary
		require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
		assert.Equal(t, "run-9", summary.RunID)
	})
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&mockRunner{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rollups", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(&mockRunner{})

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// Generate one labelled request before scraping
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/rollups/last", nil))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orgrollup_http_requests_total")
	assert.Contains(t, w.Body.String(), `path="/api/v1/rollups/last"`)
}

func TestReadiness_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	srv := NewServer(Options{
		Runner: &mockRunner{},
		Health: observability.NewHealthChecker(client, "test"),
	})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecoveryFromHandlerPanic(t *testing.T) {
	runner := &mockRunner{
		triggerFunc: func(ctx context.Context, trigger string) (rollup.Summary, error) {
			panic(errors.New("driver exploded"))
		},
	}
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rollups", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
