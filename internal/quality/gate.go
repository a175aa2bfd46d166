// Package quality implements the quality gate and its protective
// circuit breaker (C5): an optional judged acceptance check that
// trips itself off rather than let judge flakiness stall a run.
package quality

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// Verdict is what an external judge returns for a completion.
type Verdict struct {
	Pass  bool
	Score int
}

// Judge is the external LLM-backed acceptance collaborator, declared
// locally to keep this package free of any dependency on the concrete
// collaborator implementations.
type Judge interface {
	Judge(ctx context.Context, task taskqueue.Task, output, criteria string) (Verdict, error)
}

// Outcome is the result of running a completion through the gate.
type Outcome int

const (
	// OutcomeBypassed means the gate is disabled or was never consulted
	// (gates off entirely) — the completion is accepted as-is.
	OutcomeBypassed Outcome = iota
	OutcomePass
	OutcomeFail
)

// Config configures a new gate.
type Config struct {
	Enabled   bool
	Threshold int // consecutive rejections before tripping; default 8
	Judge     Judge
	Meter     metric.Meter
}

// Gate is one wave-scoped quality gate instance, holding the circuit
// breaker state for consecutive-rejection tripping.
type Gate struct {
	mu sync.Mutex

	enabled   bool
	threshold int
	judge     Judge

	consecutiveRejections int
	disabled              bool

	passes  metric.Int64Counter
	fails   metric.Int64Counter
	tripped metric.Int64Counter
}

// New constructs a Gate, defaulting Threshold to 8.
func New(cfg Config) *Gate {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 8
	}
	g := &Gate{enabled: cfg.Enabled, threshold: threshold, judge: cfg.Judge}
	if cfg.Meter != nil {
		g.passes, _ = cfg.Meter.Int64Counter("swarm_quality_passes_total")
		g.fails, _ = cfg.Meter.Int64Counter("swarm_quality_fails_total")
		g.tripped, _ = cfg.Meter.Int64Counter("swarm_quality_breaker_tripped_total")
	}
	return g
}

// Evaluate runs a non-hollow completion through the pre-check, judge,
// and breaker bookkeeping. If the gate is disabled (never enabled, or
// tripped open) it returns OutcomeBypassed without consulting the judge.
func (g *Gate) Evaluate(ctx context.Context, task taskqueue.Task, result taskqueue.TaskResult) (Outcome, Verdict, error) {
	if !g.enabled {
		return OutcomeBypassed, Verdict{}, nil
	}

	g.mu.Lock()
	disabled := g.disabled
	g.mu.Unlock()
	if disabled {
		return OutcomeBypassed, Verdict{}, nil
	}

	// Pre-check: empty/budget-excuse findings plus an explicit failure
	// admission auto-fails without consulting the judge.
	if result.ClosureReport.AdmitsFailure() {
		g.recordRejection()
		return OutcomeFail, Verdict{Pass: false}, nil
	}

	verdict, err := g.judge.Judge(ctx, task, result.Output, task.AcceptanceCriteria)
	if err != nil {
		return OutcomeFail, Verdict{}, err
	}

	if verdict.Pass {
		g.recordPass()
		return OutcomePass, verdict, nil
	}
	g.recordRejection()
	return OutcomeFail, verdict, nil
}

// recordPass resets the rejection counter but leaves a tripped breaker
// disabled — only the wave boundary clears the disabled flag.
func (g *Gate) recordPass() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveRejections = 0
	if g.passes != nil {
		g.passes.Add(context.Background(), 1)
	}
}

func (g *Gate) recordRejection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveRejections++
	if g.fails != nil {
		g.fails.Add(context.Background(), 1)
	}
	if !g.disabled && g.consecutiveRejections >= g.threshold {
		g.disabled = true
		if g.tripped != nil {
			g.tripped.Add(context.Background(), 1)
		}
	}
}

// ResetForWave clears both the counter and the disabled flag — the
// wave-boundary reset, the only trigger that re-enables a tripped gate.
func (g *Gate) ResetForWave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveRejections = 0
	g.disabled = false
}

// IsDisabled reports whether the breaker has tripped open.
func (g *Gate) IsDisabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}

// ConsecutiveRejections exposes the current counter for observability.
func (g *Gate) ConsecutiveRejections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveRejections
}
