package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterThresholdAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: 100 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func() error { return errBoom })
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errBoom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	_ = cb.Execute(ctx, func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestExponentialBackoffIsMonotonicUntilCap(t *testing.T) {
	b := DefaultBackoff()

	prev := time.Duration(0)
	capped := false
	for attempt := 0; attempt < 12; attempt++ {
		d := b.InitialDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must never decrease")
		assert.LessOrEqual(t, d, b.Max)
		if d == b.Max {
			capped = true
		}
		prev = d
	}
	assert.True(t, capped, "delays must eventually reach the cap")
	assert.Equal(t, b.Max, b.InitialDelay(30))
}

func TestLinearAndFixedBackoff(t *testing.T) {
	lin := BackoffStrategy{Kind: BackoffLinear, Initial: 100 * time.Millisecond, Increment: 50 * time.Millisecond, Max: 220 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, lin.InitialDelay(0))
	assert.Equal(t, 150*time.Millisecond, lin.InitialDelay(1))
	assert.Equal(t, 200*time.Millisecond, lin.InitialDelay(2))
	assert.Equal(t, 220*time.Millisecond, lin.InitialDelay(3))

	fixed := BackoffStrategy{Kind: BackoffFixed, Fixed: 42 * time.Millisecond}
	for attempt := 0; attempt < 4; attempt++ {
		assert.Equal(t, 42*time.Millisecond, fixed.InitialDelay(attempt))
	}
}

func TestRetryStopsAfterMaxRetries(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries: 2,
		Backoff:    BackoffStrategy{Kind: BackoffFixed, Fixed: time.Millisecond},
	}
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return errBoom
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "initial call plus two retries")
}

func TestRetryReturnsNilOnEventualSuccess(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries: 3,
		Backoff:    BackoffStrategy{Kind: BackoffFixed, Fixed: time.Millisecond},
	}
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestQuickFailureDetectorRateThreshold(t *testing.T) {
	var unhealthy []string
	d := NewQuickFailureDetector(func(agentID string, consecutive int, perMinute float64) {
		unhealthy = append(unhealthy, agentID)
	})

	d.RecordFailure("a1")
	assert.False(t, d.IsUnhealthy("a1"), "one failure is below both thresholds")

	d.RecordFailure("a1")
	assert.True(t, d.IsUnhealthy("a1"), "two failures within a minute crosses the rate threshold")
	assert.NotEmpty(t, unhealthy)

	d.MarkHealthy("a1")
	assert.False(t, d.IsUnhealthy("a1"))
}

func TestQuickFailureDetectorSuccessResetsConsecutive(t *testing.T) {
	d := NewQuickFailureDetector(nil)
	d.RecordFailure("a1")
	d.RecordSuccess("a1")
	d.RecordFailure("a1")

	// The per-minute window still holds both failures, so the agent stays
	// unhealthy by rate even though the consecutive counter was reset.
	assert.True(t, d.IsUnhealthy("a1"))

	d.MarkHealthy("a1")
	d.RecordFailure("a1")
	d.RecordSuccess("a1")
	assert.False(t, d.IsUnhealthy("a1"))
}
