package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(3, 1000, nil) // fast refill so the test stays quick
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("expected allow %d", i)
		}
	}
	// with zero refill, spent capacity never comes back
	rl2 := NewRateLimiter(2, 0, nil)
	if !rl2.Allow() || !rl2.Allow() {
		t.Fatalf("expected both initial tokens to be available")
	}
	if rl2.Allow() {
		t.Fatalf("expected deny once capacity with zero refill is exhausted")
	}
	if d := rl2.ReserveAfter(); d != time.Hour {
		t.Fatalf("expected ReserveAfter to signal an effectively unbounded wait, got %v", d)
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), 3, time.Millisecond, nil, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhausts(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), 2, time.Millisecond, nil, func() (int, error) {
		attempts++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestModelHealthTripsAfterConsecutiveTimeouts(t *testing.T) {
	mh := NewModelHealth(2, nil)
	if mh.RecordTimeout("gpt-x") {
		t.Fatalf("should not trip on first timeout")
	}
	if mh.RecordTimeout("gpt-x") {
		t.Fatalf("should not trip on second timeout (limit is exceeded, not met)")
	}
	if !mh.RecordTimeout("gpt-x") {
		t.Fatalf("should trip on third consecutive timeout")
	}
	if !mh.IsOpen("gpt-x") {
		t.Fatalf("expected breaker open")
	}
	mh.RecordSuccess("gpt-x")
	if mh.IsOpen("gpt-x") {
		t.Fatalf("expected breaker closed after a success")
	}
}
