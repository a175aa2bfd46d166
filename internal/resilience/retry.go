package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Retry executes fn with exponential backoff and full jitter, up to
// attempts times. It is used by the worker pool to wrap the SpawnAgent
// call for transient transport errors (rate limits, 5xx) that are
// retryable within a single dispatch, distinct from the orchestrator's
// own task-level attempt counter.
func Retry[T any](ctx context.Context, attempts int, baseDelay time.Duration, meter metric.Meter, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}

	var attemptCounter, successCounter, failCounter metric.Int64Counter
	if meter != nil {
		attemptCounter, _ = meter.Int64Counter("swarm_resilience_retry_attempts_total")
		successCounter, _ = meter.Int64Counter("swarm_resilience_retry_success_total")
		failCounter, _ = meter.Int64Counter("swarm_resilience_retry_fail_total")
	}

	cur := baseDelay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if attemptCounter != nil {
			attemptCounter.Add(ctx, 1)
		}
		if err == nil {
			if successCounter != nil {
				successCounter.Add(ctx, 1)
			}
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			if failCounter != nil {
				failCounter.Add(ctx, 1)
			}
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	if failCounter != nil {
		failCounter.Add(ctx, 1)
	}
	return zero, lastErr
}
