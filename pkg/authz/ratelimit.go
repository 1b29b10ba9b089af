package authz

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiters is the process-wide, per-identity token-bucket rate limiter
// set of spec §4.7.3. Bucket state is process-wide and keyed by identity
// name; a short critical section protects the map (spec §5).
type RateLimiters struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// NewRateLimiters constructs an empty set.
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{buckets: make(map[string]*rate.Limiter)}
}

// Allow admits one request for identity at its declared requests-per-minute
// quota; 0 disables the limit entirely (spec §4.7.3).
func (r *RateLimiters) Allow(identity string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	limiter := r.limiterFor(identity, perMinute)
	return limiter.Allow()
}

func (r *RateLimiters) limiterFor(identity string, perMinute int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.buckets[identity]
	if !ok {
		// A requests-per-minute quota maps to a token bucket refilling at
		// perMinute/60 tokens per second, with a burst equal to one
		// minute's worth so a client can use its full quota in a burst.
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		r.buckets[identity] = l
	}
	return l
}
