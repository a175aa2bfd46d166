package swarm

import (
	"context"

	"github.com/swarmguard/swarmctl/internal/events"
	"github.com/swarmguard/swarmctl/internal/hollow"
	"github.com/swarmguard/swarmctl/internal/quality"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// handleCompletion implements the resilience decision tree for one
// returned (task, alloc, result) triple. dispatchCount is this task's
// total dispatch count so far, used for the independent dispatch-cap
// check.
func (o *Orchestrator) handleCompletion(ctx context.Context, msg completionMsg, dispatchCount int) {
	task, alloc, result := msg.task, msg.alloc, msg.result
	o.pool.Release(alloc, result.TokensUsed, result.CostUsed)

	if dispatchCount >= o.cfg.MaxDispatchesPerTask {
		// Dispatch-cap reached: funnel into recovery regardless of the
		// result's shape — critically this never short-circuits to a
		// plain failed, so tool-call evidence can still be degraded-accepted.
		o.recover(ctx, task, result, "dispatch-cap")
		return
	}

	if hollow.IsHollow(result) {
		o.bus.Emit(events.NewTaskHollow(task.ID))
		// Hollow is a distinct failure signal from a dispatch timeout;
		// it does not feed the consecutive-timeout circuit breaker, which
		// tracks a narrower condition.
		o.retryOrRecover(ctx, task, result, "hollow")
		return
	}

	if !result.Success {
		if result.Metrics.TimedOut() {
			tripped := o.modelHealth.RecordTimeout(result.Model)
			if tripped && !o.hasFailoverModel(result.Model) {
				o.recover(ctx, task, result, "timeout")
				return
			}
			o.retryOrRecover(ctx, task, result, "timeout")
			return
		}
		o.retryOrRecover(ctx, task, result, "failed")
		return
	}

	outcome, verdict, err := o.gate.Evaluate(ctx, task, result)
	if err != nil {
		o.retryOrRecover(ctx, task, result, "quality-error")
		return
	}

	switch outcome {
	case quality.OutcomeBypassed:
		o.completeTask(task.ID, result)
	case quality.OutcomePass:
		result.QualityScore = verdict.Score
		o.completeTask(task.ID, result)
	case quality.OutcomeFail:
		o.retryOrRecover(ctx, task, result, "quality")
	}
}

func (o *Orchestrator) completeTask(taskID string, result taskqueue.TaskResult) {
	if err := o.queue.MarkCompleted(taskID, result); err != nil {
		o.logger.Error("mark completed failed", "taskId", taskID, "error", err)
		return
	}
	o.bus.Emit(events.NewTaskCompleted(taskID, result.QualityScore, result.Degraded))
}

// hasFailoverModel reports whether any configured worker role offers a
// different model than the one that just timed out, whose own breaker
// is not open. The check is capability-blind: it only answers whether
// a failover model remains at all, not whether one remains for this
// task's specific type.
func (o *Orchestrator) hasFailoverModel(timedOutModel string) bool {
	for _, r := range o.cfg.Workers {
		if r.Model != "" && r.Model != timedOutModel && !o.modelHealth.IsOpen(r.Model) {
			return true
		}
	}
	return false
}

// retryOrRecover is the attempts-vs-maxRetries gate shared by every
// failure path (hollow, plain failure, timeout-with-failover, and
// quality rejection): retry while attempts remain, otherwise enter the
// three-tier resilience recovery.
func (o *Orchestrator) retryOrRecover(ctx context.Context, task taskqueue.Task, result taskqueue.TaskResult, reason string) {
	if task.Attempts <= o.cfg.WorkerRetries {
		if err := o.queue.Retry(task.ID); err != nil {
			o.logger.Error("retry transition failed", "taskId", task.ID, "error", err)
		}
		return
	}
	o.recover(ctx, task, result, reason)
}

// recover runs the three resilience tiers in order, first applicable
// wins.
func (o *Orchestrator) recover(ctx context.Context, task taskqueue.Task, result taskqueue.TaskResult, reason string) {
	if o.tryDegradedAcceptance(ctx, task, result) {
		return
	}
	if o.tryMicroDecomposition(ctx, task) {
		return
	}
	o.cascadeSkip(ctx, task, reason)
}

// tryDegradedAcceptance is tier 1: accept the result as-is if the
// worker produced any tool calls, or the artifact checker reports
// files written for the task's target paths.
func (o *Orchestrator) tryDegradedAcceptance(ctx context.Context, task taskqueue.Task, result taskqueue.TaskResult) bool {
	artifactsExist := o.artifacts != nil && o.artifacts.HasArtifacts(ctx, task)
	if result.Metrics.ToolCalls <= 0 && !artifactsExist {
		return false
	}
	if err := o.queue.CompleteDegraded(task.ID, result); err != nil {
		return false
	}
	o.bus.Emit(events.NewTaskCompleted(task.ID, 2, true))
	return true
}

// tryMicroDecomposition is tier 2: split a sufficiently complex,
// repeatedly-attempted task into smaller subtasks via the external
// decomposer instead of giving up on it outright.
func (o *Orchestrator) tryMicroDecomposition(ctx context.Context, task taskqueue.Task) bool {
	if task.Complexity < 6 || task.Attempts < 2 || o.decomposer == nil {
		return false
	}

	decomp, err := o.decomposer.Decompose(ctx, task.Description, map[string]string{"parentTaskId": task.ID})
	if err != nil || len(decomp.Subtasks) < 2 || len(decomp.Subtasks) > 4 {
		return false
	}

	specs := make([]taskqueue.TaskSpec, 0, len(decomp.Subtasks))
	ids := make([]string, 0, len(decomp.Subtasks))
	for _, s := range decomp.Subtasks {
		specs = append(specs, taskqueue.TaskSpec{
			ID:          s.ID,
			Description: s.Description,
			Type:        s.Type,
			Complexity:  s.Complexity,
		})
		ids = append(ids, s.ID)
	}

	if err := o.queue.ReplaceWithSubtasks(task.ID, specs); err != nil {
		return false
	}
	o.bus.Emit(events.NewTaskDecomposed(task.ID, ids))
	return true
}

// cascadeSkip is tier 3, the unconditional fallback: force the task
// terminally failed, which fires cascadeSkip on its dependents inside
// the queue.
func (o *Orchestrator) cascadeSkip(ctx context.Context, task taskqueue.Task, reason string) {
	if err := o.queue.ForceFail(ctx, task.ID); err != nil {
		o.logger.Error("force fail failed", "taskId", task.ID, "error", err)
		return
	}
	o.bus.Emit(events.NewTaskFailed(task.ID, reason))
}
