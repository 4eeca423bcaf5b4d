package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		name     string
		attempts int
		err      error
		want     bool
	}{
		{name: "no error", attempts: 1, err: nil, want: false},
		{name: "transport error", attempts: 1, err: &UpstreamError{Op: OpGetOrganization, Err: errors.New("reset")}, want: true},
		{name: "throttled", attempts: 1, err: &UpstreamError{StatusCode: 429}, want: true},
		{name: "server error", attempts: 2, err: &UpstreamError{StatusCode: 503}, want: true},
		{name: "client error", attempts: 1, err: &UpstreamError{StatusCode: 400}, want: false},
		{name: "attempts exhausted", attempts: 3, err: &UpstreamError{StatusCode: 503}, want: false},
		{name: "foreign error", attempts: 1, err: errors.New("other"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.attempts, tt.err))
		})
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, time.Second, policy.NextRetryDelay(0))
	assert.Equal(t, time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(3))
	assert.Equal(t, 5*time.Second, policy.NextRetryDelay(4))
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, 3, policy.MaxAttempts())
	assert.Equal(t, 500*time.Millisecond, policy.NextRetryDelay(1))
	assert.Equal(t, time.Second, policy.NextRetryDelay(2))
}

func TestRetryPolicy_Wait(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	var slept []time.Duration
	policy.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	assert.NoError(t, policy.Wait(context.Background(), 1))
	assert.NoError(t, policy.Wait(context.Background(), 2))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
