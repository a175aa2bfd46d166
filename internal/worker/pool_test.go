package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/swarmctl/internal/collaborators"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

type stubSpawner struct {
	delay  time.Duration
	result collaborators.SpawnResult
	err    error
}

func (s stubSpawner) SpawnAgent(ctx context.Context, roleName, prompt string) (collaborators.SpawnResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return collaborators.SpawnResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestSelectRoleMatchesCapability(t *testing.T) {
	p := New(Config{Roles: []Role{
		{Name: "researcher", Capabilities: []taskqueue.TaskType{taskqueue.TaskResearch}},
		{Name: "coder", Capabilities: []taskqueue.TaskType{taskqueue.TaskImplement}},
	}})
	role := p.SelectRole(taskqueue.TaskImplement)
	if role.Name != "coder" {
		t.Fatalf("expected coder, got %s", role.Name)
	}
}

func TestSelectRoleFallsBackToFirst(t *testing.T) {
	p := New(Config{Roles: []Role{
		{Name: "generalist", Capabilities: []taskqueue.TaskType{taskqueue.TaskResearch}},
	}})
	role := p.SelectRole(taskqueue.TaskMerge)
	if role.Name != "generalist" {
		t.Fatalf("expected fallback to first role, got %s", role.Name)
	}
}

func TestDispatchReturnsResultOnSuccess(t *testing.T) {
	spawner := stubSpawner{result: collaborators.SpawnResult{Success: true, Output: "done", ToolCalls: 2}}
	p := New(Config{Roles: []Role{{Name: "coder", Model: "gpt-x"}}, Spawner: spawner})

	result := p.Dispatch(context.Background(), taskqueue.Task{Type: taskqueue.TaskImplement}, "do it")
	if !result.Success || result.Output != "done" || result.Metrics.ToolCalls != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDispatchTimesOutWithSentinel(t *testing.T) {
	spawner := stubSpawner{delay: 50 * time.Millisecond, result: collaborators.SpawnResult{Success: true}}
	p := New(Config{
		Roles:            []Role{{Name: "coder", Model: "gpt-x"}},
		Spawner:          spawner,
		TaskTypeTimeouts: map[taskqueue.TaskType]time.Duration{taskqueue.TaskImplement: 5 * time.Millisecond},
	})

	result := p.Dispatch(context.Background(), taskqueue.Task{Type: taskqueue.TaskImplement}, "do it")
	if result.Success {
		t.Fatalf("expected timeout to produce a failed result")
	}
	if !result.Metrics.TimedOut() {
		t.Fatalf("expected ToolCalls=-1 sentinel, got %d", result.Metrics.ToolCalls)
	}
}

func TestDispatchEncodesSpawnErrorAsFailure(t *testing.T) {
	spawner := stubSpawner{err: errors.New("boom")}
	p := New(Config{Roles: []Role{{Name: "coder", Model: "gpt-x"}}, Spawner: spawner})

	result := p.Dispatch(context.Background(), taskqueue.Task{Type: taskqueue.TaskImplement}, "do it")
	if result.Success {
		t.Fatalf("expected failure result on spawn error")
	}
	if result.Metrics.TimedOut() {
		t.Fatalf("a spawn error is not a timeout")
	}
}
