// Package budget bounds the total resources a run may consume and
// rations them fairly across workers (component C1). It mirrors the
// teacher's ResultCache pattern of a mutex-guarded pool with otel
// counters on every state-changing operation, but the resource being
// pooled here is tokens and dollars rather than cached results.
package budget

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Allocation is the ephemeral handle a dispatched worker receives from
// reserve(). It is returned to the pool via release(), possibly with a
// different actual usage than was reserved.
type Allocation struct {
	TaskID      string
	TokenBudget int
	CostBudget  float64
}

// complexityFactor maps a 1-10 complexity rating onto the multiplier
// applied to the base per-worker token budget.
func complexityFactor(complexity int) float64 {
	switch {
	case complexity <= 2:
		return 0.5
	case complexity <= 5:
		return 1.0
	case complexity <= 8:
		return 1.5
	default:
		return 2.0
	}
}

// retryMultiplier and iterationMultiplier implement the attempt-indexed
// budget schedule. attempt is 1-based.
func retryMultiplier(attempt int) float64 {
	switch {
	case attempt <= 1:
		return 1.0
	case attempt == 2:
		return 1.3
	case attempt == 3:
		return 1.6
	default:
		return 2.0
	}
}

// IterationMultiplier exposes the companion iteration-cap multiplier
// from the same schedule, for callers (the worker pool) that need to
// scale a tool-call budget alongside the token budget.
func IterationMultiplier(attempt int) float64 {
	switch {
	case attempt <= 2:
		return 1.0
	default:
		return 1.5
	}
}

// Config configures a new pool from the run's resolved configuration.
type Config struct {
	TotalTokens             int
	TotalCost               float64
	OrchestratorReserveRatio float64 // 0..1, default 0.15
	MaxPerWorker            int
	BaseTokens              int // per-complexity-unit base before multipliers
	Meter                   metric.Meter
}

// Pool is the process-wide singleton for one run's budget.
type Pool struct {
	mu sync.Mutex

	totalTokens int
	totalCost   float64
	tokensUsed  int
	costUsed    float64

	orchestratorReserve int
	maxPerWorker        int
	baseTokens          int

	reserved metric.Float64Counter
	released metric.Float64Counter
	denied   metric.Int64Counter
}

// New constructs a Pool from Config, defaulting OrchestratorReserveRatio
// to 0.15 when unset.
func New(cfg Config) *Pool {
	ratio := cfg.OrchestratorReserveRatio
	if ratio <= 0 {
		ratio = 0.15
	}
	base := cfg.BaseTokens
	if base <= 0 {
		base = 2000
	}

	p := &Pool{
		totalTokens:         cfg.TotalTokens,
		totalCost:           cfg.TotalCost,
		orchestratorReserve: int(float64(cfg.TotalTokens) * ratio),
		maxPerWorker:        cfg.MaxPerWorker,
		baseTokens:          base,
	}
	if cfg.Meter != nil {
		p.reserved, _ = cfg.Meter.Float64Counter("swarm_budget_tokens_reserved_total")
		p.released, _ = cfg.Meter.Float64Counter("swarm_budget_tokens_released_total")
		p.denied, _ = cfg.Meter.Int64Counter("swarm_budget_reservations_denied_total")
	}
	return p
}

// HasCapacity reports whether the pool can still fund work, respecting
// both the token reserve and the dollar cap.
func (p *Pool) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasCapacityLocked()
}

func (p *Pool) hasCapacityLocked() bool {
	return p.tokensUsed < p.totalTokens-p.orchestratorReserve && p.costUsed < p.totalCost
}

// Reserve computes the token/cost budget for a dispatch and deducts it
// from the pool, or returns ok=false if the pool lacks capacity. The
// orchestrator reserve is never included in what a worker can draw.
func (p *Pool) Reserve(taskID string, complexity, attempt int) (Allocation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasCapacityLocked() {
		p.count(p.denied)
		return Allocation{}, false
	}

	tokenBudget := int(float64(p.baseTokens) * complexityFactor(complexity))
	if p.maxPerWorker > 0 && tokenBudget > p.maxPerWorker {
		tokenBudget = p.maxPerWorker
	}
	tokenBudget = int(float64(tokenBudget) * retryMultiplier(attempt))

	available := p.totalTokens - p.orchestratorReserve - p.tokensUsed
	if tokenBudget > available {
		tokenBudget = available
	}
	if tokenBudget <= 0 {
		p.count(p.denied)
		return Allocation{}, false
	}

	costBudget := p.totalCost - p.costUsed
	if costBudget <= 0 {
		p.count(p.denied)
		return Allocation{}, false
	}

	p.tokensUsed += tokenBudget
	alloc := Allocation{TaskID: taskID, TokenBudget: tokenBudget, CostBudget: costBudget}
	p.countF(p.reserved, float64(tokenBudget))
	return alloc, true
}

// Release credits back the unused portion of an allocation and charges
// the pool for whatever the worker actually consumed. actualTokens can
// exceed the original reservation (a worker that overran its budget is
// still charged the full amount, going negative on slack rather than
// silently under-reporting usage).
func (p *Pool) Release(alloc Allocation, actualTokens int, actualCost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokensUsed += actualTokens - alloc.TokenBudget
	if p.tokensUsed < 0 {
		p.tokensUsed = 0
	}
	p.costUsed += actualCost
	p.countF(p.released, float64(alloc.TokenBudget-actualTokens))
}

// Remaining reports the tokens and dollars left before the pool denies
// further reservations (excluding the orchestrator reserve), for
// status reporting and events.
func (p *Pool) Remaining() (tokens int, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.totalTokens - p.orchestratorReserve - p.tokensUsed
	if remaining < 0 {
		remaining = 0
	}
	costRemaining := p.totalCost - p.costUsed
	if costRemaining < 0 {
		costRemaining = 0
	}
	return remaining, costRemaining
}

func (p *Pool) count(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}

func (p *Pool) countF(c metric.Float64Counter, v float64) {
	if c != nil && v != 0 {
		c.Add(context.Background(), v)
	}
}
