package worker

import (
	"context"
	"math/rand"
	"time"
)

// nextDelay computes the next retry delay with exponential backoff and
// up-to-10%-jitter, grounded on the teacher's
// internal/core/resilience/retry.go calculateNextDelay. This upgrades
// the source's fixed 30s linear retry interval, per spec.md's explicit
// REDESIGN FLAGS allowance.
func nextDelay(current, maxDelay time.Duration) time.Duration {
	const multiplier = 2.0

	next := time.Duration(float64(current) * multiplier)
	if next > maxDelay {
		next = maxDelay
	}

	jitter := time.Duration(float64(next) * 0.1 * rand.Float64())
	return next + jitter
}

// waitWithContext pauses for delay or until ctx is cancelled, returning
// false in the latter case so callers can abandon the retry.
func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
