package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestRegisterShutdownFunc_IgnoresNil(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	sm.RegisterShutdownFunc(nil)
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })
	assert.Len(t, sm.shutdownFuncs, 1)
}

func TestShutdown_RunsFunctionsInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sm.RegisterShutdownFunc(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	ran := false
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("scheduler stop failed") })
	sm.RegisterShutdownFunc(func(context.Context) error { ran = true; return nil })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler stop failed")
	assert.True(t, ran)
}

func TestShutdown_StopsHTTPServer(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(NopLogger(), ts.Config, time.Second)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(ts.URL)
	assert.Error(t, err)
}

func TestWaitForShutdown_ContextDone(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	called := make(chan struct{}, 1)
	sm.RegisterShutdownFunc(func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-called:
	default:
		t.Fatal("shutdown function was not called")
	}
}
