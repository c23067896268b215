package llmprovider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a breaker rejects a call outright.
var ErrCircuitOpen = errors.New("llmprovider: circuit breaker is open")

// Breaker wraps gobreaker around a provider call, ported from
// internal/llm/circuit_breaker.go, generalized so the pipeline can hold one
// instance per provider kind (generation vs embedding) instead of a single
// shared breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker trips after maxFailures consecutive failures, stays open for
// timeout, then allows halfOpenMax trial requests before closing again.
func NewBreaker(name string, maxFailures uint32, timeout time.Duration, halfOpenMax uint32) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenMax,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker, translating gobreaker's open-state
// error into ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns "closed", "open", or "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
