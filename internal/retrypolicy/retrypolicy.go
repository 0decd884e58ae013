// Package retrypolicy is the retry and backoff policy: classify an
// error as retryable or terminal, and compute an exponential delay
// with jitter and a ceiling. The curve's parameters are held in a
// github.com/cenkalti/backoff/v4 ExponentialBackOff; the doubling and
// the jitter are computed here from the attempt count.
package retrypolicy

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/errs"
)

// Decision is the output of consulting the policy for one attempt.
type Decision struct {
	Retry   bool
	DelayMs int64
	Reason  string
}

// Classify reports whether err should be retried at all, independent
// of attempt counting. An error is retryable unless the caller
// explicitly marked it terminal or cancelled. Cancellation is terminal
// for the current attempt — only re-queuing the whole task may retry
// it — so a bare context.Canceled counts as cancelled even without an
// errs wrapper. A deadline exceeded (step timeout) stays retryable and
// consumes one attempt.
func Classify(err error) (retryable bool, reason string) {
	switch errs.ClassOf(err) {
	case errs.ClassTerminal:
		return false, "terminal"
	case errs.ClassCancelled:
		return false, "cancelled"
	default:
		if errors.Is(err, context.Canceled) {
			return false, "cancelled"
		}
		return true, "retryable"
	}
}

// Compute decides whether to retry and, if so, the delay before the
// next attempt. attemptsMade counts completed attempts so far
// (1-indexed: after the first failure, attemptsMade == 1).
func Compute(err error, attemptsMade int, cfg config.RetryConfig) Decision {
	if retryable, reason := Classify(err); !retryable {
		return Decision{Retry: false, Reason: reason}
	}

	if attemptsMade >= cfg.MaxAttempts {
		return Decision{Retry: false, Reason: "max attempts exhausted"}
	}

	delay := computeDelay(attemptsMade, cfg)
	return Decision{Retry: true, DelayMs: delay.Milliseconds(), Reason: "retryable"}
}

// computeDelay computes min(maxDelay, base*2^(attemptsMade-1)), then
// applies a uniform jitter factor in [1-jitter, 1+jitter]. The
// backoff.ExponentialBackOff only carries the interval, multiplier and
// ceiling; NextBackOff is not called.
func computeDelay(attemptsMade int, cfg config.RetryConfig) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2.0
	eb.MaxInterval = maxDelay
	eb.RandomizationFactor = 0 // jitter applied explicitly below
	eb.MaxElapsedTime = 0      // never expire based on elapsed wall time; attempts are counted by the caller

	// Advance the curve to attemptsMade-1 doublings without invoking
	// NextBackOff's internal randomization (already disabled above).
	interval := eb.InitialInterval
	for i := 1; i < attemptsMade; i++ {
		interval = time.Duration(float64(interval) * eb.Multiplier)
		if interval > eb.MaxInterval {
			interval = eb.MaxInterval
			break
		}
	}
	if interval > maxDelay {
		interval = maxDelay
	}

	jitter := cfg.JitterFactor
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	factor := 1 - jitter + rand.Float64()*2*jitter
	return time.Duration(float64(interval) * factor)
}
