package taskqueue

import (
	"context"
	"testing"
)

func linearSpecs() []TaskSpec {
	return []TaskSpec{
		{ID: "a", Type: TaskImplement},
		{ID: "b", Type: TaskTest, Dependencies: []string{"a"}},
		{ID: "c", Type: TaskMerge, Dependencies: []string{"b"}},
	}
}

func TestLoadFromDecompositionAssignsWavesAndReady(t *testing.T) {
	q := New(Config{MaxRetries: 2})
	if err := q.LoadFromDecomposition(linearSpecs()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := q.GetReady()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("expected only a ready, got %+v", ready)
	}

	a, _ := q.Get("a")
	if a.Wave != 0 {
		t.Fatalf("expected wave 0 for a, got %d", a.Wave)
	}
	c, _ := q.Get("c")
	if c.Wave != 2 {
		t.Fatalf("expected wave 2 for c, got %d", c.Wave)
	}
}

func TestLoadFromDecompositionRejectsCycle(t *testing.T) {
	q := New(Config{})
	specs := []TaskSpec{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	err := q.LoadFromDecomposition(specs)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if _, ok := err.(*ErrCycle); !ok {
		t.Fatalf("expected ErrCycle, got %T", err)
	}
}

func TestDispatchCompleteUnlocksDependent(t *testing.T) {
	q := New(Config{MaxRetries: 2})
	_ = q.LoadFromDecomposition(linearSpecs())

	if _, err := q.MarkDispatched("a", "gpt-x"); err != nil {
		t.Fatalf("dispatch a: %v", err)
	}
	if err := q.MarkCompleted("a", TaskResult{Success: true, Output: "done"}); err != nil {
		t.Fatalf("complete a: %v", err)
	}

	b, _ := q.Get("b")
	if b.Status != StatusReady {
		t.Fatalf("expected b ready after a completes, got %s", b.Status)
	}
	if b.DependencyContext == "" {
		t.Fatalf("expected dependency context to be populated for b")
	}
}

func TestMarkFailedRetriesThenTerminatesAndCascades(t *testing.T) {
	q := New(Config{MaxRetries: 1})
	_ = q.LoadFromDecomposition(linearSpecs())

	if _, err := q.MarkDispatched("a", "gpt-x"); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	terminal, err := q.MarkFailed(context.Background(), "a")
	if err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	if terminal {
		t.Fatalf("expected retry, not terminal failure, on first failure")
	}

	a, _ := q.Get("a")
	if a.Status != StatusReady {
		t.Fatalf("expected a back to ready for retry, got %s", a.Status)
	}

	if _, err := q.MarkDispatched("a", "gpt-x"); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	terminal, err = q.MarkFailed(context.Background(), "a")
	if err != nil {
		t.Fatalf("fail 2: %v", err)
	}
	if !terminal {
		t.Fatalf("expected terminal failure after exceeding maxRetries")
	}

	b, _ := q.Get("b")
	if b.Status != StatusSkipped {
		t.Fatalf("expected b cascaded to skipped, got %s", b.Status)
	}
	c, _ := q.Get("c")
	if c.Status != StatusSkipped && c.Status != StatusPending {
		t.Fatalf("expected c skipped or still pending, got %s", c.Status)
	}
}

func TestRescueReEnablesSkippedTask(t *testing.T) {
	q := New(Config{MaxRetries: 0})
	_ = q.LoadFromDecomposition(linearSpecs())

	_, _ = q.MarkDispatched("a", "gpt-x")
	_, _ = q.MarkFailed(context.Background(), "a")

	b, _ := q.Get("b")
	if b.Status != StatusSkipped {
		t.Fatalf("expected b skipped, got %s", b.Status)
	}

	if err := q.RescueTask("b", "partial artifacts found for a"); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	b, _ = q.Get("b")
	if b.Status != StatusReady {
		t.Fatalf("expected b ready after rescue, got %s", b.Status)
	}
	if b.RescueContext == "" {
		t.Fatalf("expected rescue context to be recorded")
	}
}

func TestCascadeSkipSuppressedByArtifactChecker(t *testing.T) {
	q := New(Config{MaxRetries: 0, Artifacts: alwaysArtifacts{}})
	_ = q.LoadFromDecomposition(linearSpecs())

	_, _ = q.MarkDispatched("a", "gpt-x")
	_, _ = q.MarkFailed(context.Background(), "a")

	b, _ := q.Get("b")
	if b.Status == StatusSkipped {
		t.Fatalf("expected b left untouched when artifacts exist, got skipped")
	}
}

type alwaysArtifacts struct{}

func (alwaysArtifacts) HasArtifacts(context.Context, Task) bool { return true }

func TestReplaceWithSubtasksIsIdempotent(t *testing.T) {
	q := New(Config{MaxRetries: 2})
	_ = q.LoadFromDecomposition(linearSpecs())

	_, _ = q.MarkDispatched("a", "gpt-x")

	subtasks := []TaskSpec{
		{ID: "a.1", Type: TaskImplement},
		{ID: "a.2", Type: TaskImplement},
	}
	if err := q.ReplaceWithSubtasks("a", subtasks); err != nil {
		t.Fatalf("first decompose: %v", err)
	}

	a, _ := q.Get("a")
	if a.Status != StatusDecomposed {
		t.Fatalf("expected a decomposed, got %s", a.Status)
	}
	if len(a.SubtaskIDs) != 2 {
		t.Fatalf("expected 2 subtask ids, got %v", a.SubtaskIDs)
	}

	b, _ := q.Get("b")
	want := map[string]bool{"a.1": true, "a.2": true}
	if len(b.Dependencies) != 2 {
		t.Fatalf("expected b's dependency on a rewritten to both subtasks, got %v", b.Dependencies)
	}
	for _, d := range b.Dependencies {
		if !want[d] {
			t.Fatalf("unexpected dependency %s in b", d)
		}
	}

	// Second call is a no-op, not an error — decompose is idempotent.
	if err := q.ReplaceWithSubtasks("a", subtasks); err != nil {
		t.Fatalf("second decompose should be a no-op, got error: %v", err)
	}
}

func TestAdvanceWaveRequiresCurrentWaveTerminal(t *testing.T) {
	q := New(Config{MaxRetries: 2})
	_ = q.LoadFromDecomposition(linearSpecs())

	if q.AdvanceWave() {
		t.Fatalf("should not advance while wave 0 task a is still pending/ready")
	}

	_, _ = q.MarkDispatched("a", "gpt-x")
	_ = q.MarkCompleted("a", TaskResult{Success: true})

	if !q.AdvanceWave() {
		t.Fatalf("expected wave to advance once wave 0 is terminal")
	}
	if q.CurrentWave() != 1 {
		t.Fatalf("expected current wave 1, got %d", q.CurrentWave())
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	q := New(Config{MaxRetries: 2})
	_ = q.LoadFromDecomposition(linearSpecs())

	if err := q.MarkCompleted("a", TaskResult{Success: true}); err == nil {
		t.Fatalf("expected error completing a task that was never dispatched")
	} else if _, ok := err.(*ErrInvalidTransition); !ok {
		t.Fatalf("expected ErrInvalidTransition, got %T", err)
	}
}

func TestIsHollowWarningRequiresBothConditions(t *testing.T) {
	hollow := &TaskResult{
		Output: "done",
		ClosureReport: &ClosureReport{
			ExitReason: "budget_exhausted",
		},
	}
	if !isHollowWarning(hollow) {
		t.Fatalf("expected hollow warning for empty findings + failure admission")
	}

	genuine := &TaskResult{
		Output: "short but real",
		ClosureReport: &ClosureReport{
			Findings:   []string{"implemented X"},
			ExitReason: "budget_exhausted",
		},
	}
	if isHollowWarning(genuine) {
		t.Fatalf("real findings should suppress the hollow warning even with a failure admission")
	}
}
