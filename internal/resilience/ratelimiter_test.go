package resilience

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	r := NewRateLimiter("test", 3, 1.0)
	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("expected call %d within capacity to be allowed", i)
		}
	}
	if r.Allow() {
		t.Fatalf("expected call beyond capacity to be denied")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	r := NewRateLimiter("test", 1, 1.0)
	if !r.Allow() {
		t.Fatalf("expected first call to be allowed")
	}
	if r.Allow() {
		t.Fatalf("expected second immediate call to be denied")
	}

	r.mu.Lock()
	r.lastRefill = time.Now().Add(-2 * time.Second)
	r.mu.Unlock()

	if !r.Allow() {
		t.Fatalf("expected call to be allowed after refill window elapses")
	}
}
