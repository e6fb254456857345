// Package circuitbreaker wraps gobreaker to back the circuit-breaker-open
// infrastructure error case in the failure model: once a dependency (Neo4j,
// Redis, Postgres) trips past its failure threshold, calls fail fast with
// CodeCircuitOpen instead of queuing up against a dependency that is down.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iacgraph/depgraph/internal/errors"
)

// Breaker wraps one gobreaker.CircuitBreaker for one named dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Config tunes when the breaker trips and how long it stays open.
type Config struct {
	Name             string
	MaxRequests      uint32        // requests allowed through while half-open
	Interval         time.Duration // cyclic reset window for closed-state counters
	Timeout          time.Duration // how long the breaker stays open before probing
	FailureThreshold uint32        // consecutive failures before tripping
}

// New constructs a Breaker for one dependency name.
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. If the breaker is open, fn is not
// called and a *errors.Error{Code: CodeCircuitOpen} is returned immediately.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.Newf(errors.CodeCircuitOpen, "%s circuit breaker is open: %v", b.cb.Name(), err)
	}
	return result, err
}

// State reports the breaker's current state string ("closed", "half-open",
// "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
