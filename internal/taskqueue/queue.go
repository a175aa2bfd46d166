package taskqueue

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TaskSpec is the shape a decomposer hands the queue: enough to
// materialize a Task, but without any lifecycle state.
type TaskSpec struct {
	ID           string
	Description  string
	Type         TaskType
	Complexity   int
	Dependencies []string
	TargetFiles  []string
	Criteria     string
}

// ArtifactChecker inspects the working directory for evidence that a
// task (or a failed upstream dependency) left usable output. It backs
// both degraded acceptance and cascade-skip/rescue decisions.
type ArtifactChecker interface {
	HasArtifacts(ctx context.Context, task Task) bool
}

// noArtifacts is the default checker for queues constructed without
// one — it never claims progress exists, matching the conservative
// "nothing to rescue" baseline.
type noArtifacts struct{}

func (noArtifacts) HasArtifacts(context.Context, Task) bool { return false }

// Metrics are the otel instruments the queue emits on state
// transitions, mirroring the swarm_*_total / swarm_*_ms naming the
// teacher's dag_engine.go and persistence.go use throughout.
type Metrics struct {
	transitions  metric.Int64Counter
	cascadeSkips metric.Int64Counter
	rescues      metric.Int64Counter
	readyGauge   metric.Int64Gauge
}

func newMetrics(meter metric.Meter) Metrics {
	if meter == nil {
		return Metrics{}
	}
	m := Metrics{}
	m.transitions, _ = meter.Int64Counter("swarm_queue_transitions_total")
	m.cascadeSkips, _ = meter.Int64Counter("swarm_queue_cascade_skips_total")
	m.rescues, _ = meter.Int64Counter("swarm_queue_rescues_total")
	m.readyGauge, _ = meter.Int64Gauge("swarm_queue_ready_tasks")
	return m
}

// TaskQueue is the single source of truth for graph state (C2).
type TaskQueue struct {
	mu           sync.Mutex
	tasks        map[string]*Task
	maxRetries   int
	currentWave  int
	maxWave      int
	artifacts    ArtifactChecker
	metrics      Metrics
	nextSubtask  int // monotonically increasing suffix for micro-decomposition ids
}

// Config configures a new queue.
type Config struct {
	MaxRetries int
	Artifacts  ArtifactChecker
	Meter      metric.Meter
}

// New constructs an empty queue. Call LoadFromDecomposition to
// populate it.
func New(cfg Config) *TaskQueue {
	if cfg.Artifacts == nil {
		cfg.Artifacts = noArtifacts{}
	}
	return &TaskQueue{
		tasks:      make(map[string]*Task),
		maxRetries: cfg.MaxRetries,
		artifacts:  cfg.Artifacts,
		metrics:    newMetrics(cfg.Meter),
	}
}

// LoadFromDecomposition materializes the graph from a flat list of
// specs, assigns waves by longest-dependency-path, and sets each
// task's initial status to ready (no deps) or pending. It rejects
// cyclic graphs.
func (q *TaskQueue) LoadFromDecomposition(specs []TaskSpec) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	waves, err := assignWaves(specs)
	if err != nil {
		return err
	}

	for _, s := range specs {
		status := StatusPending
		if len(s.Dependencies) == 0 {
			status = StatusReady
		}
		q.tasks[s.ID] = &Task{
			ID:                 s.ID,
			Description:        s.Description,
			Type:               s.Type,
			Complexity:         s.Complexity,
			Wave:               waves[s.ID],
			Dependencies:       append([]string(nil), s.Dependencies...),
			Status:             status,
			TargetFiles:        append([]string(nil), s.TargetFiles...),
			AcceptanceCriteria: s.Criteria,
		}
		if waves[s.ID] > q.maxWave {
			q.maxWave = waves[s.ID]
		}
	}

	q.recordTransition("load")
	return nil
}

// CurrentWave returns the wave pointer the orchestrator should filter
// dispatch candidates to.
func (q *TaskQueue) CurrentWave() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentWave
}

// MaxWave returns the highest wave index present in the graph.
func (q *TaskQueue) MaxWave() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxWave
}

// GetReady returns all ready tasks, ordered wave ascending then id
// ascending. The orchestrator is responsible for filtering this down
// to the current wave before dispatching.
func (q *TaskQueue) GetReady() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []Task
	for _, t := range q.tasks {
		if t.Status == StatusReady {
			ready = append(ready, t.Clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Wave != ready[j].Wave {
			return ready[i].Wave < ready[j].Wave
		}
		return ready[i].ID < ready[j].ID
	})
	if q.metrics.readyGauge != nil {
		q.metrics.readyGauge.Record(context.Background(), int64(len(ready)))
	}
	return ready
}

// Get returns a snapshot of a single task.
func (q *TaskQueue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// MarkDispatched transitions ready -> dispatched, incrementing
// attempts before dispatch so every event after this point reports the
// attempt it belongs to.
func (q *TaskQueue) MarkDispatched(id, model string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusReady {
		return Task{}, &ErrInvalidTransition{ID: id, From: t.Status, To: StatusDispatched}
	}

	t.Attempts++
	t.Status = StatusDispatched
	t.Model = model
	q.recordTransition("dispatched")
	return t.Clone(), nil
}

// MarkCompleted transitions dispatched -> completed, stores the
// result, and propagates readiness to dependents.
func (q *TaskQueue) MarkCompleted(id string, result TaskResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusDispatched {
		return &ErrInvalidTransition{ID: id, From: t.Status, To: StatusCompleted}
	}

	resultCopy := result
	t.Status = StatusCompleted
	t.Result = &resultCopy
	if result.Degraded {
		t.Degraded = true
	}
	q.recordTransition("completed")
	q.updateReadyStatusLocked()
	return nil
}

// MarkFailed transitions dispatched -> failed if attempts have
// exceeded maxRetries, else dispatched -> ready for another attempt.
// A terminal failure triggers cascadeSkip.
func (q *TaskQueue) MarkFailed(ctx context.Context, id string) (terminal bool, err error) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return false, &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusDispatched {
		q.mu.Unlock()
		return false, &ErrInvalidTransition{ID: id, From: t.Status, To: StatusFailed}
	}

	if t.Attempts > q.maxRetries {
		t.Status = StatusFailed
		q.recordTransition("failed")
		q.mu.Unlock()
		q.cascadeSkip(ctx, id)
		return true, nil
	}

	t.Status = StatusReady
	q.recordTransition("retry")
	q.mu.Unlock()
	return false, nil
}

// Retry transitions a dispatched task back to ready without touching
// attempts or triggering cascade skip, for callers that have already
// decided — independent of the queue's own maxRetries bookkeeping —
// that this attempt should be retried rather than routed through
// resilience recovery.
func (q *TaskQueue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusDispatched {
		return &ErrInvalidTransition{ID: id, From: t.Status, To: StatusReady}
	}
	t.Status = StatusReady
	q.recordTransition("retry")
	return nil
}

// ForceFail transitions a dispatched task straight to failed
// regardless of attempts — used by tier 3 (cascade skip) of resilience
// recovery, which forces attempts past maxRetries so the task can never
// be picked up for another retry.
func (q *TaskQueue) ForceFail(ctx context.Context, id string) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusDispatched {
		q.mu.Unlock()
		return &ErrInvalidTransition{ID: id, From: t.Status, To: StatusFailed}
	}
	if t.Attempts <= q.maxRetries {
		t.Attempts = q.maxRetries + 1
	}
	t.Status = StatusFailed
	q.recordTransition("failed")
	q.mu.Unlock()
	q.cascadeSkip(ctx, id)
	return nil
}

// CompleteDegraded accepts a result under tier-1 degraded acceptance:
// dispatched -> completed with degraded=true, qualityScore forced to 2.
func (q *TaskQueue) CompleteDegraded(id string, result TaskResult) error {
	result.Degraded = true
	result.QualityScore = 2
	return q.MarkCompleted(id, result)
}

// ReplaceWithSubtasks transitions dispatched -> decomposed (tier 2 of
// resilience recovery). Subtasks inherit the parent's dependencies,
// and every task depending on the parent has that dependency rewritten
// to reference every subtask id. Calling this twice on the same id is
// a no-op on the second call: a decomposed task is never dispatched
// again, so its status check alone makes the operation idempotent.
func (q *TaskQueue) ReplaceWithSubtasks(id string, subtasks []TaskSpec) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	parent, ok := q.tasks[id]
	if !ok {
		return &ErrUnknownTask{ID: id}
	}
	if parent.Status == StatusDecomposed {
		return nil // idempotent: already decomposed
	}
	if parent.Status != StatusDispatched {
		return &ErrInvalidTransition{ID: id, From: parent.Status, To: StatusDecomposed}
	}

	subtaskIDs := make([]string, 0, len(subtasks))
	for _, s := range subtasks {
		status := StatusPending
		if len(parent.Dependencies) == 0 {
			status = StatusReady
		}
		q.tasks[s.ID] = &Task{
			ID:                 s.ID,
			Description:        s.Description,
			Type:               s.Type,
			Complexity:         s.Complexity,
			Wave:               parent.Wave,
			Dependencies:       append([]string(nil), parent.Dependencies...),
			Status:             status,
			ParentTaskID:       parent.ID,
			TargetFiles:        append([]string(nil), s.TargetFiles...),
			AcceptanceCriteria: s.Criteria,
		}
		subtaskIDs = append(subtaskIDs, s.ID)
	}

	parent.Status = StatusDecomposed
	parent.SubtaskIDs = subtaskIDs

	// Rewrite every dependent's dependency list: id -> every subtask id.
	for _, t := range q.tasks {
		if t.ID == parent.ID {
			continue
		}
		rewritten := make([]string, 0, len(t.Dependencies))
		changed := false
		for _, dep := range t.Dependencies {
			if dep == parent.ID {
				rewritten = append(rewritten, subtaskIDs...)
				changed = true
			} else {
				rewritten = append(rewritten, dep)
			}
		}
		if changed {
			t.Dependencies = rewritten
		}
	}

	q.recordTransition("decomposed")
	q.updateReadyStatusLocked()
	return nil
}

// RescueTask transitions skipped -> ready, recording reason as the
// task's rescue context and rebuilding its dependency context. It does
// not consult the artifact checker; the caller decides which skipped
// tasks to rescue.
func (q *TaskQueue) RescueTask(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return &ErrUnknownTask{ID: id}
	}
	if t.Status != StatusSkipped {
		return &ErrInvalidTransition{ID: id, From: t.Status, To: StatusReady}
	}

	t.Status = StatusReady
	t.RescueContext = reason
	t.DependencyContext = q.buildDependencyContext(t)
	if q.metrics.rescues != nil {
		q.metrics.rescues.Add(context.Background(), 1)
	}
	q.recordTransition("rescued")
	return nil
}

// GetSkippedTasks returns all tasks currently in skipped status, used
// by the orchestrator's post-wave rescue scan.
func (q *TaskQueue) GetSkippedTasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []Task
	for _, t := range q.tasks {
		if t.Status == StatusSkipped {
			skipped = append(skipped, t.Clone())
		}
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].ID < skipped[j].ID })
	return skipped
}

// cascadeSkip performs a BFS over reverse edges from rootID, skipping
// every reachable non-terminal descendant — except where the artifact
// checker reports progress already exists, in which case the
// descendant is left at its current status so a later rescue scan can
// re-enable it.
func (q *TaskQueue) cascadeSkip(ctx context.Context, rootID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	children := make(map[string][]string)
	for _, t := range q.tasks {
		for _, dep := range t.Dependencies {
			children[dep] = append(children[dep], t.ID)
		}
	}

	visited := map[string]bool{rootID: true}
	queue := append([]string(nil), children[rootID]...)
	skippedAny := false

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		t, ok := q.tasks[id]
		if !ok || t.Status.terminal() || t.Status == StatusSkipped {
			queue = append(queue, children[id]...)
			continue
		}

		if q.artifacts != nil && q.artifacts.HasArtifacts(ctx, t.Clone()) {
			// Leave status untouched so rescue can re-enable it; do
			// not recurse further down this branch since we can't yet
			// tell whether its own dependents should be skipped.
			continue
		}

		t.Status = StatusSkipped
		skippedAny = true
		queue = append(queue, children[id]...)
	}

	if skippedAny && q.metrics.cascadeSkips != nil {
		q.metrics.cascadeSkips.Add(ctx, 1)
	}
}

// AdvanceWave moves the wave pointer forward if every task in the
// current wave is terminal, and resets the ready status of any
// newly-eligible pending tasks.
func (q *TaskQueue) AdvanceWave() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isCurrentWaveCompleteLocked() {
		return false
	}
	if q.currentWave >= q.maxWave {
		return false
	}
	q.currentWave++
	q.updateReadyStatusLocked()
	return true
}

// IsCurrentWaveComplete reports whether every task in the current wave
// is in a terminal state (completed, failed, skipped, or decomposed).
func (q *TaskQueue) IsCurrentWaveComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isCurrentWaveCompleteLocked()
}

func (q *TaskQueue) isCurrentWaveCompleteLocked() bool {
	for _, t := range q.tasks {
		if t.Wave != q.currentWave {
			continue
		}
		if t.Status.terminal() || t.Status == StatusSkipped {
			continue
		}
		return false
	}
	return true
}

// AllTerminal reports whether every task in the graph has reached a
// terminal or skipped state — the orchestrator's main loop exit
// condition.
func (q *TaskQueue) AllTerminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if !t.Status.terminal() && t.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Snapshot returns every task in the graph, for final reporting.
func (q *TaskQueue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// updateReadyStatusLocked transitions pending -> ready for any task
// whose dependencies are all in a terminal-good state, and rebuilds
// dependencyContext for each newly-ready task. Must be called with
// q.mu held.
func (q *TaskQueue) updateReadyStatusLocked() {
	for _, t := range q.tasks {
		if t.Status != StatusPending {
			continue
		}
		if q.dependenciesSatisfiedLocked(t) {
			t.Status = StatusReady
			t.DependencyContext = q.buildDependencyContext(t)
		}
	}
}

func (q *TaskQueue) dependenciesSatisfiedLocked(t *Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := q.tasks[depID]
		if !ok || !dep.Status.terminalGood() {
			return false
		}
	}
	return true
}

func (q *TaskQueue) recordTransition(kind string) {
	if q.metrics.transitions != nil {
		q.metrics.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("transition", kind)))
	}
}
