package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientRateLimiter is a per-client_id token bucket approximating the
// sliding window counter described in spec.md §4.5, grounded on the
// teacher's internal/api/middleware/rate_limit.go.
type clientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientRateLimiter(requestsPerWindow, windowSeconds int) *clientRateLimiter {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	perSecond := float64(requestsPerWindow) / float64(windowSeconds)
	return &clientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    requestsPerWindow,
	}
}

func (rl *clientRateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[clientID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// cleanup periodically drops limiters for clients that have been idle
// long enough to refill their bucket, bounding memory growth.
func (rl *clientRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for id, limiter := range rl.limiters {
		if limiter.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, id)
		}
	}
}

func (rl *clientRateLimiter) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}
