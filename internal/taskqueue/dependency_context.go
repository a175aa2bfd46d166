package taskqueue

import "fmt"

// outputTruncateLen bounds how much of a dependency's output is
// echoed into a dependent's prompt context, keeping prompts bounded
// regardless of how verbose a worker's output was.
const outputTruncateLen = 800

// buildDependencyContext rebuilds a task's dependencyContext snapshot
// from its dependencies' current results. This must be called every
// time a task transitions to ready (including after rescue) — callers
// never cache this across transitions.
func (q *TaskQueue) buildDependencyContext(t *Task) string {
	if len(t.Dependencies) == 0 {
		return ""
	}

	ctx := ""
	for _, depID := range t.Dependencies {
		dep, ok := q.tasks[depID]
		if !ok || dep.Result == nil {
			continue
		}

		prefix := ""
		if dep.Degraded {
			prefix = "DEGRADED — "
		} else if isHollowWarning(dep.Result) {
			prefix = "WARNING (hollow) — "
		}

		output := dep.Result.Output
		if len(output) > outputTruncateLen {
			output = output[:outputTruncateLen] + "... [truncated]"
		}

		block := fmt.Sprintf("%s[%s] %s\nOutput: %s\n", prefix, dep.ID, dep.Description, output)
		if len(dep.Result.FilesModified) > 0 {
			block += fmt.Sprintf("Files modified: %v\n", dep.Result.FilesModified)
		}
		ctx += block + "\n"
	}
	return ctx
}

// isHollowWarning reports whether a completed dependency's output
// should be flagged as trivial to its dependents. The heuristic
// requires an explicit failure admission in the closure report — a
// short-but-genuine completion never triggers this, only one that
// self-reports as empty-handed.
func isHollowWarning(r *TaskResult) bool {
	if r == nil {
		return false
	}
	return r.ClosureReport.AdmitsFailure()
}
