package resilience

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ModelHealth tracks consecutive dispatch timeouts per model name and
// opens a per-model breaker once consecutiveTimeoutLimit is exceeded.
// The state machine shape — mutex-guarded counters, RecordTimeout/
// RecordSuccess/IsOpen methods, otel counters on state transition —
// mirrors a classic rolling-
// window circuit breaker, but the trip condition here is literal
// consecutive timeouts for this model, not a failure-rate window: a
// rate-based breaker answers "is this endpoint currently unhealthy
// overall", which is a different question from "is this specific model
// currently unusable", so the two are intentionally not unified.
type ModelHealth struct {
	mu                      sync.Mutex
	consecutiveTimeoutLimit int
	counts                  map[string]int
	open                    map[string]bool

	opened metric.Int64Counter
	closed metric.Int64Counter
}

// NewModelHealth builds a tracker that opens a model's breaker once it
// has more than limit consecutive timeouts. meter may be nil in tests.
func NewModelHealth(limit int, meter metric.Meter) *ModelHealth {
	mh := &ModelHealth{
		consecutiveTimeoutLimit: limit,
		counts:                  make(map[string]int),
		open:                    make(map[string]bool),
	}
	if meter != nil {
		mh.opened, _ = meter.Int64Counter("swarm_model_health_opened_total")
		mh.closed, _ = meter.Int64Counter("swarm_model_health_reset_total")
	}
	return mh
}

// RecordTimeout increments the consecutive-timeout counter for model
// and reports whether the breaker just tripped open.
func (mh *ModelHealth) RecordTimeout(model string) (trippedOpen bool) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	mh.counts[model]++
	if mh.counts[model] > mh.consecutiveTimeoutLimit && !mh.open[model] {
		mh.open[model] = true
		if mh.opened != nil {
			mh.opened.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", model)))
		}
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-timeout counter and closes the
// breaker for model, since any non-timeout completion is evidence the
// model endpoint is reachable again.
func (mh *ModelHealth) RecordSuccess(model string) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	wasOpen := mh.open[model]
	mh.counts[model] = 0
	mh.open[model] = false
	if wasOpen && mh.closed != nil {
		mh.closed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", model)))
	}
}

// IsOpen reports whether model's breaker is currently open (i.e. it
// should not be selected as a failover target).
func (mh *ModelHealth) IsOpen(model string) bool {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	return mh.open[model]
}
