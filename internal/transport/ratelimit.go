package transport

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a sliding-window limiter keyed by user ID. Keying by user
// rather than session stops clients from bypassing throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter allows limit requests per window. Idle keys are removed by Sweep,
// which the caller schedules.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Window returns the limiter's window, which is also a sensible sweep interval.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

// Allow records a request for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := fresh(r.requests[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Sweep drops expired timestamps and forgets idle keys. It returns the number of keys
// removed.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	removed := 0
	for key, times := range r.requests {
		recent := fresh(times, cutoff)
		if len(recent) == 0 {
			delete(r.requests, key)
			removed++
			continue
		}
		r.requests[key] = recent
	}
	return removed
}

// SweepFunc adapts Sweep to the background worker signature.
func (r *RateLimiter) SweepFunc(context.Context) {
	r.Sweep()
}

func (r *RateLimiter) keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
