package collaborators

import (
	"context"
	"sync"

	"github.com/swarmguard/swarmctl/internal/quality"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// StaticDecomposer returns a fixed DecompositionResult regardless of
// goal, keyed by call count — useful for scenario tests that need the
// initial decomposition to differ from a later micro-decomposition.
type StaticDecomposer struct {
	Results []DecompositionResult
	calls   int
}

// Decompose returns the next queued result, or the last one repeated
// if more calls arrive than results were queued.
func (d *StaticDecomposer) Decompose(context.Context, string, map[string]string) (DecompositionResult, error) {
	idx := d.calls
	if idx >= len(d.Results) {
		idx = len(d.Results) - 1
	}
	d.calls++
	if idx < 0 {
		return DecompositionResult{}, nil
	}
	return d.Results[idx], nil
}

// Calls reports how many times Decompose has been invoked.
func (d *StaticDecomposer) Calls() int { return d.calls }

// ScriptedSpawner returns a queued SpawnResult per call, keyed by task
// id so a scenario test can script each task's attempt sequence
// independently. Calls beyond the queued results repeat the last one.
type ScriptedSpawner struct {
	mu      sync.Mutex
	Results map[string][]SpawnResult
	calls   map[string]int
}

// NewScriptedSpawner constructs a ScriptedSpawner from a per-task-id
// script of responses.
func NewScriptedSpawner(results map[string][]SpawnResult) *ScriptedSpawner {
	return &ScriptedSpawner{Results: results, calls: make(map[string]int)}
}

// SpawnAgent ignores roleName and prompt, keying its scripted response
// off the task id a caller attaches to ctx via WithTaskID. Callers
// that never tag the context fall back to the "default" script.
func (s *ScriptedSpawner) SpawnAgent(ctx context.Context, roleName, prompt string) (SpawnResult, error) {
	taskID := taskIDFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	script := s.Results[taskID]
	if script == nil {
		script = s.Results["default"]
	}
	idx := s.calls[taskID]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	s.calls[taskID]++
	if idx < 0 || len(script) == 0 {
		return SpawnResult{Success: true}, nil
	}
	return script[idx], nil
}

type contextKey string

const taskIDContextKey contextKey = "swarmctl-task-id"

// WithTaskID tags a context with a task id so ScriptedSpawner can key
// its per-task script without parsing prompts.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDContextKey, taskID)
}

func taskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDContextKey).(string)
	return v
}

// NoopJudge always passes with a fixed score — for tests exercising
// paths where the judge's verdict is not the thing under test.
type NoopJudge struct {
	Score int
}

func (j NoopJudge) Judge(context.Context, taskqueue.Task, string, string) (quality.Verdict, error) {
	score := j.Score
	if score == 0 {
		score = 4
	}
	return quality.Verdict{Pass: true, Score: score}, nil
}

// ScriptedJudge returns verdicts from a fixed queue, one per call, for
// tests that need to drive the circuit breaker or a retry-then-pass
// sequence deterministically.
type ScriptedJudge struct {
	Verdicts []quality.Verdict
	calls    int
}

func (j *ScriptedJudge) Judge(context.Context, taskqueue.Task, string, string) (quality.Verdict, error) {
	idx := j.calls
	if idx >= len(j.Verdicts) {
		idx = len(j.Verdicts) - 1
	}
	j.calls++
	if idx < 0 {
		return quality.Verdict{Pass: true}, nil
	}
	return j.Verdicts[idx], nil
}
