package dynauth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is per-source admission control with a refill policy. The
// middleware consumes one token per request; an injected implementation can
// swap the default for anything else.
type RateLimiter interface {
	Allow(source string) bool
}

// TokenBucketLimiter keeps one token bucket per source identifier (typically
// the caller IP). Capacity tokens replenish per window. State is
// process-local: limits are per-instance, not global across replicas.
type TokenBucketLimiter struct {
	limiters sync.Map // source -> *rate.Limiter
	limit    rate.Limit
	burst    int
}

const (
	// DefaultRateCapacity tokens per DefaultRateWindow, per source.
	DefaultRateCapacity = 10
	DefaultRateWindow   = time.Second
)

// NewTokenBucketLimiter allows capacity requests per window for each source.
// A capacity of 0 rejects every request.
func NewTokenBucketLimiter(capacity int, window time.Duration) *TokenBucketLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	var limit rate.Limit
	if capacity > 0 {
		limit = rate.Limit(float64(capacity) / window.Seconds())
	}
	return &TokenBucketLimiter{limit: limit, burst: capacity}
}

func (l *TokenBucketLimiter) Allow(source string) bool {
	limiter, ok := l.limiters.Load(source)
	if !ok {
		limiter, _ = l.limiters.LoadOrStore(source, rate.NewLimiter(l.limit, l.burst))
	}
	return limiter.(*rate.Limiter).Allow()
}
