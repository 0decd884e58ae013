package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// ErrRateLimited is returned by a guarded boundary call denied a token.
type ErrRateLimited struct{ Name string }

func (e *ErrRateLimited) Error() string { return "rate limiter " + e.Name + " denied the call" }

// RateLimiter is a token bucket bounding how often this engine calls
// an external boundary (e.g. an analysis-provider quota).
type RateLimiter struct {
	mu         sync.Mutex
	name       string
	capacity   float64
	fillRate   float64 // tokens per second
	available  float64
	lastRefill time.Time
}

// NewRateLimiter constructs a token bucket of the given capacity,
// refilling at fillRate tokens/second.
func NewRateLimiter(name string, capacity int, fillRate float64) *RateLimiter {
	return &RateLimiter{
		name:       name,
		capacity:   float64(capacity),
		fillRate:   fillRate,
		available:  float64(capacity),
		lastRefill: time.Now(),
	}
}

// Allow reports whether a single call may proceed now, consuming a
// token if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(r.lastRefill).Seconds(); elapsed > 0 {
		r.available = min(r.capacity, r.available+elapsed*r.fillRate)
		r.lastRefill = now
	}

	if r.available < 1 {
		meter := otel.GetMeterProvider().Meter("mediaworker-resilience")
		counter, _ := meter.Int64Counter("mediaworker_rate_limiter_denied_total")
		counter.Add(context.Background(), 1)
		return false
	}
	r.available--
	return true
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
