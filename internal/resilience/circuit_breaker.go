// Package resilience provides fault-tolerance primitives for the attack
// engine: a circuit breaker backed by github.com/sony/gobreaker/v2, a retry
// policy backed by github.com/cenkalti/backoff/v4, and a quick-failure
// agent-health detector.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's three-state machine.
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

// ErrCircuitOpen is returned by Execute while the breaker refuses calls,
// both fully open and when the single half-open probe slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures one per-component breaker.
type CircuitBreakerConfig struct {
	MaxFailures int           // consecutive countable failures before opening
	Timeout     time.Duration // time spent open before trying half-open
}

// DefaultCircuitBreakerConfig is the engine-wide default: 5 consecutive
// failures open the breaker, which retries after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker behind the
// Execute(ctx, fn) signature used throughout the orchestrator. Half-open
// admits exactly one probe call.
type CircuitBreaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker builds a breaker from cfg, filling in defaults for
// zero-valued fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	maxFailures := uint32(cfg.MaxFailures)
	return &CircuitBreaker{gb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	return State(cb.gb.State())
}

// CanExecute reports whether a call would currently be let through; it does
// not itself count as an attempt.
func (cb *CircuitBreaker) CanExecute() bool {
	return cb.State() != StateOpen
}

// Execute runs fn under circuit-breaker protection.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := cb.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
