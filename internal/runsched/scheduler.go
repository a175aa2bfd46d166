// Package runsched layers a cron-driven recurring trigger outside the
// per-run orchestrator core, for operators who want a goal re-run on a
// fixed cadence (a nightly consistency sweep, a periodic backlog
// drain) rather than driven by an interactive caller. Adapted from the
// teacher's scheduler.go, trimmed to the single concern this module
// needs: firing a goal on a cron expression.
package runsched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
)

// RunFunc launches one swarm run for a goal. The scheduler does not
// know anything about the orchestrator's internals beyond this
// callback signature.
type RunFunc func(ctx context.Context, goal string) error

// Entry is one scheduled recurring goal.
type Entry struct {
	Goal     string
	CronExpr string
	Enabled  bool
}

// Scheduler triggers RunFunc on a cron cadence for each enabled entry.
type Scheduler struct {
	cron   *cron.Cron
	run    RunFunc
	logger *slog.Logger

	mu      sync.Mutex
	running int

	triggered metric.Int64Counter
	failed    metric.Int64Counter
}

// New constructs a Scheduler with second-precision cron parsing.
func New(run RunFunc, logger *slog.Logger, meter metric.Meter) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		run:    run,
		logger: logger,
	}
	if meter != nil {
		s.triggered, _ = meter.Int64Counter("swarm_schedule_triggers_total")
		s.failed, _ = meter.Int64Counter("swarm_schedule_failures_total")
	}
	return s
}

// Add registers an entry, returning the cron EntryID for later removal.
func (s *Scheduler) Add(ctx context.Context, e Entry) (cron.EntryID, error) {
	if !e.Enabled {
		return 0, nil
	}
	return s.cron.AddFunc(e.CronExpr, func() {
		s.fire(ctx, e.Goal)
	})
}

func (s *Scheduler) fire(ctx context.Context, goal string) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	if s.triggered != nil {
		s.triggered.Add(ctx, 1)
	}
	if err := s.run(ctx, goal); err != nil {
		if s.failed != nil {
			s.failed.Add(ctx, 1)
		}
		if s.logger != nil {
			s.logger.Error("scheduled run failed", "goal", goal, "error", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Info("scheduled run completed", "goal", goal)
	}
}

// Remove cancels a previously added entry.
func (s *Scheduler) Remove(id cron.EntryID) { s.cron.Remove(id) }

// Start begins firing scheduled entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron loop and waits for any in-flight jobs it started
// to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runsched stop: %w", ctx.Err())
	}
}

// RunningCount reports how many scheduled runs are currently in flight.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
