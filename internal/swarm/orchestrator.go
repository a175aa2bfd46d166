// Package swarm implements the controlling loop: wave-based dispatch
// up to a concurrency cap, routing every completion through the
// hollow detector, quality gate, and three-tier resilience recovery
// before deciding what happens to the task and its dependents.
// Circuit-breaker and model-health state is scoped per Orchestrator
// instance rather than process-global, so concurrent runs never share
// breaker state.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/swarmctl/internal/budget"
	"github.com/swarmguard/swarmctl/internal/collaborators"
	"github.com/swarmguard/swarmctl/internal/events"
	"github.com/swarmguard/swarmctl/internal/hollow"
	"github.com/swarmguard/swarmctl/internal/quality"
	"github.com/swarmguard/swarmctl/internal/resilience"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
	"github.com/swarmguard/swarmctl/internal/worker"
)

// Config is the run's resolved configuration.
type Config struct {
	TotalBudget              int
	MaxCost                  float64
	OrchestratorReserveRatio float64
	MaxTokensPerWorker       int
	MaxConcurrency           int
	WorkerRetries            int // maxRetries
	MaxDispatchesPerTask     int // default 3
	ConsecutiveTimeoutLimit  int
	QualityGateThreshold     int
	QualityGates             bool
	DispatchStaggerMs        int
	Workers                  []worker.Role
	TaskTypeTimeouts         map[taskqueue.TaskType]time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxDispatchesPerTask <= 0 {
		c.MaxDispatchesPerTask = 3
	}
	if c.ConsecutiveTimeoutLimit <= 0 {
		c.ConsecutiveTimeoutLimit = 3
	}
	return c
}

// Deps bundles the external collaborators and ambient instruments an
// Orchestrator needs.
type Deps struct {
	Decomposer collaborators.Decomposer
	Spawner    collaborators.Spawner
	Judge      quality.Judge
	Artifacts  collaborators.ArtifactCheck
	Logger     *slog.Logger
	Meter      metric.Meter
	Tracer     trace.Tracer
}

// Orchestrator runs exactly one goal to completion. Every piece of
// state here — queue, budget pool, model health, quality gate — is
// scoped to this instance, never a package-level global, so two runs
// never interfere.
type Orchestrator struct {
	runID  string
	cfg    Config
	logger *slog.Logger

	queue       *taskqueue.TaskQueue
	pool        *budget.Pool
	workers     *worker.Pool
	gate        *quality.Gate
	modelHealth *resilience.ModelHealth
	decomposer  collaborators.Decomposer
	artifacts   collaborators.ArtifactCheck
	tracer      trace.Tracer

	bus *events.Bus

	cancelled int32
	mu        sync.Mutex
}

// New constructs an Orchestrator for one run.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()

	modelHealth := resilience.NewModelHealth(cfg.ConsecutiveTimeoutLimit, deps.Meter)

	var rateLimiter *resilience.RateLimiter
	if cfg.DispatchStaggerMs > 0 {
		rateLimiter = resilience.NewRateLimiter(1, 1000.0/float64(cfg.DispatchStaggerMs), deps.Meter)
	}

	pool := budget.New(budget.Config{
		TotalTokens:              cfg.TotalBudget,
		TotalCost:                cfg.MaxCost,
		OrchestratorReserveRatio: cfg.OrchestratorReserveRatio,
		MaxPerWorker:             cfg.MaxTokensPerWorker,
		Meter:                    deps.Meter,
	})

	queue := taskqueue.New(taskqueue.Config{
		MaxRetries: cfg.WorkerRetries,
		Artifacts:  artifactAdapter{deps.Artifacts},
		Meter:      deps.Meter,
	})

	workers := worker.New(worker.Config{
		Roles:            cfg.Workers,
		Spawner:          deps.Spawner,
		TaskTypeTimeouts: cfg.TaskTypeTimeouts,
		RateLimiter:      rateLimiter,
		ModelHealth:      modelHealth,
		Meter:            deps.Meter,
	})

	gate := quality.New(quality.Config{
		Enabled:   cfg.QualityGates,
		Threshold: cfg.QualityGateThreshold,
		Judge:     judgeAdapter{deps.Judge},
		Meter:     deps.Meter,
	})

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("swarm-orchestrator")
	}

	return &Orchestrator{
		runID:       uuid.NewString(),
		cfg:         cfg,
		logger:      logger,
		queue:       queue,
		pool:        pool,
		workers:     workers,
		gate:        gate,
		modelHealth: modelHealth,
		decomposer:  deps.Decomposer,
		artifacts:   deps.Artifacts,
		tracer:      tracer,
		bus:         events.NewBus(64),
	}
}

// artifactAdapter adapts collaborators.ArtifactCheck (ctx, task) bool
// onto taskqueue.ArtifactChecker's identical shape, keeping the queue
// package free of a direct import on collaborators.
type artifactAdapter struct{ c collaborators.ArtifactCheck }

func (a artifactAdapter) HasArtifacts(ctx context.Context, t taskqueue.Task) bool {
	if a.c == nil {
		return false
	}
	return a.c.HasArtifacts(ctx, t)
}

type judgeAdapter struct{ j quality.Judge }

func (a judgeAdapter) Judge(ctx context.Context, task taskqueue.Task, output, criteria string) (quality.Verdict, error) {
	if a.j == nil {
		return quality.Verdict{Pass: true}, nil
	}
	return a.j.Judge(ctx, task, output, criteria)
}

// Events returns a subscription to this run's event stream. Must be
// called before Run.
func (o *Orchestrator) Events(buffer int) <-chan events.Event {
	return o.bus.Subscribe(buffer)
}

// RunID returns the generated identifier for this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Snapshot returns the current state of every task in the run, for
// callers that need to inspect outcomes after Run returns (e.g.
// recording terminally failed tasks to a dead-letter store).
func (o *Orchestrator) Snapshot() []taskqueue.Task { return o.queue.Snapshot() }

// Cancel requests cooperative shutdown. Its effect is visible only at
// the next loop turn; in-flight workers are left to complete.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelled = 1
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled == 1
}

type completionMsg struct {
	task   taskqueue.Task
	alloc  budget.Allocation
	result taskqueue.TaskResult
}

// Run decomposes goal, loads the resulting graph, and drives it to
// completion, returning the final run statistics.
func (o *Orchestrator) Run(ctx context.Context, goal string) (events.RunStats, error) {
	ctx, span := o.tracer.Start(ctx, "swarm.run", trace.WithAttributes(
		attribute.String("runId", o.runID),
		attribute.String("goal", goal),
	))
	defer span.End()

	busCtx, cancelBus := context.WithCancel(ctx)
	defer cancelBus()
	go o.bus.Run(busCtx)
	defer o.bus.Close()

	decomp, err := o.decomposer.Decompose(ctx, goal, nil)
	if err != nil {
		return events.RunStats{}, fmt.Errorf("decompose goal: %w", err)
	}

	specs := make([]taskqueue.TaskSpec, 0, len(decomp.Subtasks))
	for _, s := range decomp.Subtasks {
		specs = append(specs, taskqueue.TaskSpec{
			ID:           s.ID,
			Description:  s.Description,
			Type:         s.Type,
			Complexity:   s.Complexity,
			Dependencies: s.Dependencies,
		})
	}
	if err := o.queue.LoadFromDecomposition(specs); err != nil {
		return events.RunStats{}, fmt.Errorf("load decomposition: %w", err)
	}

	o.bus.Emit(events.NewStart(len(specs), o.queue.MaxWave()+1))
	o.bus.Emit(events.NewPhaseProgress("executing"))

	results := make(chan completionMsg, o.cfg.MaxConcurrency)
	inflight := 0
	dispatchCounts := map[string]int{}

	for !o.queue.AllTerminal() && !o.isCancelled() {
		ready := o.filterToCurrentWave(o.queue.GetReady())
		dispatchedThisRound := 0

		for len(ready) > 0 && inflight < o.cfg.MaxConcurrency {
			task := ready[0]
			ready = ready[1:]

			alloc, ok := o.pool.Reserve(task.ID, task.Complexity, task.Attempts+1)
			if !ok {
				break
			}

			dispatched, err := o.queue.MarkDispatched(task.ID, o.workers.SelectRole(task.Type).Model)
			if err != nil {
				o.pool.Release(alloc, 0, 0)
				continue
			}
			dispatchCounts[task.ID]++
			o.bus.Emit(events.NewTaskDispatched(dispatched.ID, dispatched.Model, o.workers.SelectRole(dispatched.Type).Name, dispatched.Attempts))

			inflight++
			dispatchedThisRound++
			go func(t taskqueue.Task, alloc budget.Allocation) {
				taskCtx, taskSpan := o.tracer.Start(ctx, "swarm.dispatch_task", trace.WithAttributes(
					attribute.String("taskId", t.ID),
					attribute.Int("attempt", t.Attempts),
				))
				defer taskSpan.End()

				prompt := buildPrompt(t)
				taskCtx = collaborators.WithTaskID(taskCtx, t.ID)
				result := o.workers.Dispatch(taskCtx, t, prompt)
				select {
				case results <- completionMsg{task: t, alloc: alloc, result: result}:
				case <-ctx.Done():
				}
			}(dispatched, alloc)
		}

		if inflight == 0 && dispatchedThisRound == 0 {
			if o.advanceIfWaveComplete(ctx) {
				continue
			}
			break // no ready work, nothing in flight, wave not complete: stuck
		}

		select {
		case msg := <-results:
			inflight--
			o.handleCompletion(ctx, msg, dispatchCounts[msg.task.ID])
			o.advanceIfWaveComplete(ctx)
		case <-ctx.Done():
			o.Cancel()
		}
	}

	stats := o.buildStats()
	success := !o.isCancelled() && stats.Failed == 0
	o.bus.Emit(events.NewComplete(success, stats))
	return stats, nil
}

func (o *Orchestrator) filterToCurrentWave(ready []taskqueue.Task) []taskqueue.Task {
	wave := o.queue.CurrentWave()
	out := make([]taskqueue.Task, 0, len(ready))
	for _, t := range ready {
		if t.Wave == wave {
			out = append(out, t)
		}
	}
	return out
}

// advanceIfWaveComplete runs the post-wave rescue scan and advances
// the wave pointer, resetting the quality gate's circuit breaker on
// the boundary. Returns true if the wave advanced. The rescue scan asks
// the artifact checker about each skipped task itself; the artifacts of
// its failed upstream dependency are not checked.
func (o *Orchestrator) advanceIfWaveComplete(ctx context.Context) bool {
	if !o.queue.IsCurrentWaveComplete() {
		return false
	}

	for _, skipped := range o.queue.GetSkippedTasks() {
		if o.artifacts != nil && o.artifacts.HasArtifacts(ctx, skipped) {
			reason := "artifact check found evidence of progress for this task"
			if err := o.queue.RescueTask(skipped.ID, reason); err == nil {
				o.bus.Emit(events.NewTaskRescued(skipped.ID, reason))
			}
		}
	}

	if o.queue.AdvanceWave() {
		o.gate.ResetForWave()
		o.bus.Emit(events.NewWaveAdvanced(o.queue.CurrentWave()))
		return true
	}
	return false
}

func buildPrompt(t taskqueue.Task) string {
	prompt := t.Description
	if t.DependencyContext != "" {
		prompt += "\n\nDependency context:\n" + t.DependencyContext
	}
	if t.RescueContext != "" {
		prompt += "\n\nRescue context: " + t.RescueContext
	}
	return prompt
}

func (o *Orchestrator) buildStats() events.RunStats {
	snapshot := o.queue.Snapshot()
	stats := events.RunStats{TotalTasks: len(snapshot), Statuses: make(map[string]taskqueue.TaskStatus, len(snapshot))}
	for _, t := range snapshot {
		stats.Statuses[t.ID] = t.Status
		switch t.Status {
		case taskqueue.StatusCompleted, taskqueue.StatusDecomposed:
			stats.Completed++
		case taskqueue.StatusFailed:
			stats.Failed++
		case taskqueue.StatusSkipped:
			stats.Skipped++
		}
		if t.Degraded {
			stats.Degraded++
		}
		if t.Result != nil {
			stats.TokensUsed += t.Result.TokensUsed
			stats.CostUsed += t.Result.CostUsed
		}
	}
	return stats
}
