// Package collaborators declares the external interfaces the
// orchestrator depends on but does not implement: agent spawning,
// decomposition, quality judging, and artifact inspection. Besides the
// contracts it carries a filesystem-backed artifact checker, HTTP
// clients for the external spawn, decompose and judge services
// (httpclient.go, httpjudge.go), and deterministic test doubles
// (testdoubles.go).
package collaborators

import (
	"context"
	"os"
	"path/filepath"

	"github.com/swarmguard/swarmctl/internal/quality"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// SpawnResult is what an agent spawn returns.
type SpawnResult struct {
	Success       bool
	Output        string
	TokensUsed    int
	DurationMs    int64
	ToolCalls     int // -1 sentinels a timeout
	FilesModified []string
	ClosureReport *taskqueue.ClosureReport
}

// Spawner dispatches one worker invocation for a role and prompt.
type Spawner interface {
	SpawnAgent(ctx context.Context, roleName, prompt string) (SpawnResult, error)
}

// SubtaskSpec is one entry of a DecompositionResult.
type SubtaskSpec struct {
	ID             string             `json:"id"`
	Description    string             `json:"description"`
	Type           taskqueue.TaskType `json:"type"`
	Complexity     int                `json:"complexity"`
	Dependencies   []string           `json:"dependencies,omitempty"`
	Parallelizable bool               `json:"parallelizable"`
}

// DecompositionResult is returned by a Decomposer.
type DecompositionResult struct {
	Strategy string
	Subtasks []SubtaskSpec
}

// Decomposer turns a high-level goal into a dependency graph of
// subtasks. Implementations must return acyclic results; the caller
// (taskqueue.LoadFromDecomposition) rejects cyclic graphs regardless.
type Decomposer interface {
	Decompose(ctx context.Context, goal string, decompContext map[string]string) (DecompositionResult, error)
}

// QualityJudge evaluates a completed task's output against its
// acceptance criteria. It satisfies quality.Judge; kept as a distinct
// named interface here so callers wiring collaborators never need to
// import the quality package directly just to declare a dependency.
type QualityJudge interface {
	Judge(ctx context.Context, task taskqueue.Task, output, criteria string) (quality.Verdict, error)
}

// ArtifactCheck inspects the working directory for evidence that a
// task's target files exist. It is consulted by both degraded
// acceptance (tier 1) and rescue.
type ArtifactCheck interface {
	HasArtifacts(ctx context.Context, task taskqueue.Task) bool
}

// FilesystemArtifactCheck is a concrete ArtifactCheck that stats the
// task's declared TargetFiles under a root directory. When a task
// declares no target files it falls back to reporting no evidence —
// the conservative default the resilience tiers expect when nothing
// concrete was promised.
type FilesystemArtifactCheck struct {
	Root string
}

// HasArtifacts reports true if any of the task's target files exist
// and are non-empty under Root.
func (c FilesystemArtifactCheck) HasArtifacts(_ context.Context, task taskqueue.Task) bool {
	if len(task.TargetFiles) == 0 {
		return false
	}
	for _, rel := range task.TargetFiles {
		path := rel
		if c.Root != "" {
			path = filepath.Join(c.Root, rel)
		}
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			return true
		}
	}
	return false
}
