// Package resilience holds the generic dispatch-smoothing and
// model-health primitives shared across the orchestrator's worker
// pool. None of these types know about tasks or swarms; they operate
// on plain counts and durations so they can be unit tested in
// isolation and reused wherever a run needs backpressure.
package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RateLimiter is a token bucket used to enforce dispatchStaggerMs:
// the worker pool calls Allow before every dispatch and waits out
// ReserveAfter when denied, so bursts of ready tasks don't all hit the
// model endpoints in the same instant.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	fillRate   float64 // tokens per second
	available  float64
	lastRefill time.Time

	allowed metric.Int64Counter
	denied  metric.Int64Counter
}

// NewRateLimiter builds a token bucket with the given burst capacity
// and refill rate (tokens/second). meter may be nil in tests.
func NewRateLimiter(capacity int, fillRate float64, meter metric.Meter) *RateLimiter {
	rl := &RateLimiter{
		capacity:   float64(capacity),
		fillRate:   fillRate,
		available:  float64(capacity),
		lastRefill: time.Now(),
	}
	if meter != nil {
		rl.allowed, _ = meter.Int64Counter("swarm_dispatch_ratelimit_allowed_total")
		rl.denied, _ = meter.Int64Counter("swarm_dispatch_ratelimit_denied_total")
	}
	return rl
}

// Allow reports whether a token is available right now, consuming it
// if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillLocked(time.Now())

	if r.available >= 1.0 {
		r.available -= 1.0
		r.count(r.allowed)
		return true
	}
	r.count(r.denied)
	return false
}

// ReserveAfter returns how long the caller must wait before a token
// will be available.
func (r *RateLimiter) ReserveAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refillLocked(now)

	if r.available >= 1.0 {
		return 0
	}
	if r.fillRate <= 0 {
		return time.Hour
	}
	shortfall := 1.0 - r.available
	return time.Duration(shortfall / r.fillRate * float64(time.Second))
}

func (r *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.available = minF(r.capacity, r.available+elapsed*r.fillRate)
	r.lastRefill = now
}

func (r *RateLimiter) count(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
