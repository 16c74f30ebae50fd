package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffKind tags the delay curve a BackoffStrategy computes.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
)

// BackoffStrategy computes the delay before the (attempt+1)th retry,
// attempt being 0-indexed from the first retry after the initial call.
type BackoffStrategy struct {
	Kind       BackoffKind
	Fixed      time.Duration // BackoffFixed
	Initial    time.Duration // BackoffExponential, BackoffLinear
	Multiplier float64       // BackoffExponential
	Increment  time.Duration // BackoffLinear
	Max        time.Duration // BackoffExponential, BackoffLinear
}

// InitialDelay returns the delay for the given 0-indexed attempt, a pure
// function of attempt: monotonic non-decreasing until Max, then constant.
func (b BackoffStrategy) InitialDelay(attempt int) time.Duration {
	switch b.Kind {
	case BackoffFixed:
		return b.Fixed
	case BackoffLinear:
		d := b.Initial + time.Duration(attempt)*b.Increment
		return clampMax(d, b.Max)
	case BackoffExponential:
		fallthrough
	default:
		d := float64(b.Initial)
		for i := 0; i < attempt; i++ {
			d *= b.Multiplier
			if b.Max > 0 && time.Duration(d) >= b.Max {
				return b.Max
			}
		}
		return clampMax(time.Duration(d), b.Max)
	}
}

func clampMax(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// DefaultBackoff is exponential: 1s initial, doubling, capped at 30s.
func DefaultBackoff() BackoffStrategy {
	return BackoffStrategy{
		Kind:       BackoffExponential,
		Initial:    1000 * time.Millisecond,
		Multiplier: 2.0,
		Max:        30 * time.Second,
	}
}

// RetryPolicy is a component's full retry configuration.
type RetryPolicy struct {
	MaxRetries              int
	Backoff                 BackoffStrategy
	FallbackAgents          []string
	QuickFailureDetection   bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultRetryPolicy is 3 retries under DefaultBackoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:              3,
		Backoff:                 DefaultBackoff(),
		QuickFailureDetection:   true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// strategyBackOff adapts a BackoffStrategy to cenkalti/backoff.BackOff so the
// policy's delay curve can drive backoff.Retry's context-aware retry loop.
type strategyBackOff struct {
	strategy BackoffStrategy
	attempt  int
	max      int
}

func (s *strategyBackOff) NextBackOff() time.Duration {
	if s.attempt >= s.max {
		return backoff.Stop
	}
	d := s.strategy.InitialDelay(s.attempt)
	s.attempt++
	return d
}

func (s *strategyBackOff) Reset() { s.attempt = 0 }

// Permanent marks err as non-retryable: Retry stops immediately and
// surfaces the wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry executes fn, retrying up to policy.MaxRetries additional times using
// policy.Backoff as the delay curve, honoring ctx cancellation between
// attempts via cenkalti/backoff's context-aware retry loop.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	bo := backoff.WithContext(&strategyBackOff{strategy: policy.Backoff, max: maxRetries}, ctx)
	return backoff.Retry(fn, bo)
}
