// Package worker implements the worker pool (C3): stateless dispatch
// of a ready task to an external spawn collaborator, with per-task-type
// timeout racing and ephemeral role selection.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/swarmctl/internal/collaborators"
	"github.com/swarmguard/swarmctl/internal/resilience"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// Role describes one configured worker role.
type Role struct {
	Name         string
	Model        string
	Capabilities []taskqueue.TaskType
	AllowedTools []string
}

// defaultTaskTypeTimeouts: research and analysis get the longest
// leash, merge is shorter, everything else falls back to 120s.
var defaultTaskTypeTimeouts = map[taskqueue.TaskType]time.Duration{
	taskqueue.TaskResearch: 300 * time.Second,
	taskqueue.TaskAnalyze:  300 * time.Second,
	taskqueue.TaskMerge:    180 * time.Second,
}

const defaultTimeout = 120 * time.Second

// defaultSpawnRetries and defaultSpawnRetryBaseDelay bound the
// transport-level retry wrapped around a single spawn call — transient
// rate limits and 5xx responses, not the task-level attempt counter
// the orchestrator already tracks.
const (
	defaultSpawnRetries        = 2
	defaultSpawnRetryBaseDelay = 500 * time.Millisecond
)

// Config configures a new Pool.
type Config struct {
	Roles               []Role
	Spawner             collaborators.Spawner
	TaskTypeTimeouts    map[taskqueue.TaskType]time.Duration
	RateLimiter         *resilience.RateLimiter
	ModelHealth         *resilience.ModelHealth
	SpawnRetries        int
	SpawnRetryBaseDelay time.Duration
	Meter               metric.Meter
}

// Pool is stateless across dispatches except for rate limiting and
// model-health bookkeeping.
type Pool struct {
	roles       []Role
	spawner     collaborators.Spawner
	timeouts    map[taskqueue.TaskType]time.Duration
	rateLimiter *resilience.RateLimiter
	modelHealth *resilience.ModelHealth

	spawnRetries        int
	spawnRetryBaseDelay time.Duration
	meter               metric.Meter

	dispatches metric.Int64Counter
	timeoutsM  metric.Int64Counter
}

// New constructs a Pool.
func New(cfg Config) *Pool {
	spawnRetries := cfg.SpawnRetries
	if spawnRetries <= 0 {
		spawnRetries = defaultSpawnRetries
	}
	spawnRetryBaseDelay := cfg.SpawnRetryBaseDelay
	if spawnRetryBaseDelay <= 0 {
		spawnRetryBaseDelay = defaultSpawnRetryBaseDelay
	}

	p := &Pool{
		roles:               cfg.Roles,
		spawner:             cfg.Spawner,
		timeouts:            cfg.TaskTypeTimeouts,
		rateLimiter:         cfg.RateLimiter,
		modelHealth:         cfg.ModelHealth,
		spawnRetries:        spawnRetries,
		spawnRetryBaseDelay: spawnRetryBaseDelay,
		meter:               cfg.Meter,
	}
	if cfg.Meter != nil {
		p.dispatches, _ = cfg.Meter.Int64Counter("swarm_worker_dispatches_total")
		p.timeoutsM, _ = cfg.Meter.Int64Counter("swarm_worker_timeouts_total")
	}
	return p
}

// SelectRole picks a worker role whose capabilities contain the task's
// type, or the first configured role if none match. Returns the zero
// Role if none are configured at all.
func (p *Pool) SelectRole(taskType taskqueue.TaskType) Role {
	for _, r := range p.roles {
		for _, cap := range r.Capabilities {
			if cap == taskType {
				return r
			}
		}
	}
	if len(p.roles) > 0 {
		return p.roles[0]
	}
	return Role{}
}

// taskTypeTimeout resolves the configured or default timeout for a
// task type.
func (p *Pool) taskTypeTimeout(taskType taskqueue.TaskType) time.Duration {
	if d, ok := p.timeouts[taskType]; ok {
		return d
	}
	if d, ok := defaultTaskTypeTimeouts[taskType]; ok {
		return d
	}
	return defaultTimeout
}

// Dispatch races a spawn against the task's type-specific timeout and
// returns a TaskResult either way. A timeout yields a synthetic failed
// result with Metrics.ToolCalls = -1. It never returns an error: a
// spawn failure is encoded into the result's Success field so callers
// can route it through the normal resilience decision tree uniformly.
func (p *Pool) Dispatch(ctx context.Context, task taskqueue.Task, prompt string) taskqueue.TaskResult {
	role := p.SelectRole(task.Type)

	if p.rateLimiter != nil {
		for !p.rateLimiter.Allow() {
			select {
			case <-time.After(p.rateLimiter.ReserveAfter()):
			case <-ctx.Done():
				return timeoutResult(role.Model)
			}
		}
	}

	if p.modelHealth != nil && p.modelHealth.IsOpen(role.Model) {
		return taskqueue.TaskResult{
			Success: false,
			Output:  fmt.Sprintf("model %s circuit open: skipping dispatch", role.Model),
			Model:   role.Model,
			Metrics: taskqueue.ResultMetrics{ToolCalls: 0},
		}
	}

	timeout := p.taskTypeTimeout(task.Type)
	spawnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.count(p.dispatches, task.Type, role.Model)

	type spawnOutcome struct {
		res collaborators.SpawnResult
		err error
	}
	done := make(chan spawnOutcome, 1)
	go func() {
		res, err := resilience.Retry(spawnCtx, p.spawnRetries, p.spawnRetryBaseDelay, p.meter, func() (collaborators.SpawnResult, error) {
			return p.spawner.SpawnAgent(spawnCtx, role.Name, prompt)
		})
		done <- spawnOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if p.modelHealth != nil {
			if out.err == nil && out.res.Success {
				p.modelHealth.RecordSuccess(role.Model)
			}
		}
		if out.err != nil {
			return taskqueue.TaskResult{
				Success: false,
				Output:  out.err.Error(),
				Model:   role.Model,
				Metrics: taskqueue.ResultMetrics{ToolCalls: 0},
			}
		}
		return taskqueue.TaskResult{
			Success:       out.res.Success,
			Output:        out.res.Output,
			TokensUsed:    out.res.TokensUsed,
			DurationMs:    out.res.DurationMs,
			Model:         role.Model,
			FilesModified: out.res.FilesModified,
			ClosureReport: out.res.ClosureReport,
			Metrics:       taskqueue.ResultMetrics{ToolCalls: out.res.ToolCalls},
		}
	case <-spawnCtx.Done():
		if p.timeoutsM != nil {
			p.timeoutsM.Add(context.Background(), 1)
		}
		return timeoutResult(role.Model)
	}
}

func timeoutResult(model string) taskqueue.TaskResult {
	return taskqueue.TaskResult{
		Success: false,
		Output:  "dispatch timed out",
		Model:   model,
		Metrics: taskqueue.ResultMetrics{ToolCalls: -1},
	}
}

func (p *Pool) count(c metric.Int64Counter, taskType taskqueue.TaskType, model string) {
	if c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("task_type", string(taskType)),
			attribute.String("model", model),
		))
	}
}
