// Package ratelimit throttles requests to the model provider across all workers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRetryAfter is the pause applied when a 429 carries no Retry-After.
const DefaultRetryAfter = 20 * time.Second

// Limiter is a token bucket with an additional pause after the provider
// reports a rate limit. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// New creates a limiter allowing requestsPerSecond sustained with the given burst.
func New(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Wait blocks until a request may be sent, honoring any pause set by Backoff.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// Backoff pauses all callers for retryAfter (DefaultRetryAfter when <= 0).
// An earlier pause is never shortened.
func (l *Limiter) Backoff(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if until := time.Now().Add(retryAfter); until.After(l.retryAt) {
		l.retryAt = until
	}
}
