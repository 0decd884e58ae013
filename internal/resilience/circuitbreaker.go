// Package resilience guards calls to the engine's external boundaries
// (the media tool and the analysis providers) against a backend that
// is failing or degraded, so a burst of task attempts doesn't keep
// hammering it.
package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker opens once the calls recorded since it last closed (or
// was created) cross a failure rate, and probes a limited number of calls in half-open state before
// deciding whether to close again.
type CircuitBreaker struct {
	mu sync.Mutex

	name              string
	minSamples        int
	failureRateOpen   float64
	halfOpenAfter     time.Duration
	maxHalfOpenProbes int

	state          breakerState
	openedAt       time.Time
	halfOpenProbes int
	successes      int
	failures       int
}

// NewCircuitBreaker constructs a breaker: it won't evaluate the failure
// rate until minSamples calls have been recorded, opens once the
// failure rate reaches failureRateOpen, and after halfOpenAfter admits
// up to maxHalfOpenProbes trial calls before deciding to close or
// re-open.
func NewCircuitBreaker(name string, minSamples int, failureRateOpen float64, halfOpenAfter time.Duration, maxHalfOpenProbes int) *CircuitBreaker {
	if maxHalfOpenProbes <= 0 {
		maxHalfOpenProbes = 1
	}
	return &CircuitBreaker{
		name:              name,
		minSamples:        minSamples,
		failureRateOpen:   failureRateOpen,
		halfOpenAfter:     halfOpenAfter,
		maxHalfOpenProbes: maxHalfOpenProbes,
		state:             stateClosed,
	}
}

// ErrOpen is returned by Call when the breaker is open.
type ErrOpen struct{ Name string }

func (e *ErrOpen) Error() string { return "circuit breaker " + e.Name + " is open" }

// Call runs fn only if the breaker currently admits calls, and records
// the outcome against the breaker's window.
func (b *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if !b.allow() {
		return &ErrOpen{Name: b.name}
	}
	err := fn()
	b.recordResult(err == nil)
	return err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.halfOpenAfter {
			return false
		}
		b.state = stateHalfOpen
		b.halfOpenProbes = 1 // this call is the first trial call
	case stateHalfOpen:
		if b.halfOpenProbes >= b.maxHalfOpenProbes {
			return false
		}
		b.halfOpenProbes++
	}
	return true
}

func (b *CircuitBreaker) recordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.successes++
	} else {
		b.failures++
	}

	switch b.state {
	case stateClosed:
		total := b.successes + b.failures
		if total >= b.minSamples && float64(b.failures)/float64(total) >= b.failureRateOpen {
			b.trip()
		}
	case stateHalfOpen:
		if !success {
			b.trip()
		} else if b.halfOpenProbes >= b.maxHalfOpenProbes {
			b.close()
		}
	}
}

func (b *CircuitBreaker) trip() {
	b.state = stateOpen
	b.openedAt = time.Now()
	b.successes, b.failures = 0, 0
	meter := otel.GetMeterProvider().Meter("mediaworker-resilience")
	counter, _ := meter.Int64Counter("mediaworker_circuit_breaker_open_total")
	counter.Add(context.Background(), 1)
}

func (b *CircuitBreaker) close() {
	b.state = stateClosed
	b.successes, b.failures = 0, 0
}
