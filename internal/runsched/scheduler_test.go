package runsched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFiresOnCadence(t *testing.T) {
	var count int32
	run := func(ctx context.Context, goal string) error {
		atomic.AddInt32(&count, 1)
		return nil
	}

	s := New(run, nil, nil)
	if _, err := s.Add(context.Background(), Entry{Goal: "nightly sweep", CronExpr: "* * * * * *", Enabled: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	time.Sleep(2200 * time.Millisecond)
	if atomic.LoadInt32(&count) < 1 {
		t.Fatalf("expected at least one trigger, got %d", count)
	}
}

func TestSchedulerSkipsDisabledEntries(t *testing.T) {
	var count int32
	run := func(ctx context.Context, goal string) error {
		atomic.AddInt32(&count, 1)
		return nil
	}

	s := New(run, nil, nil)
	id, err := s.Add(context.Background(), Entry{Goal: "skip me", CronExpr: "* * * * * *", Enabled: false})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected zero-value EntryID for a disabled entry")
	}
}
