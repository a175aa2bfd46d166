// Package logbus sinks the orchestrator's event stream to structured
// logs via slog.
package logbus

import (
	"context"
	"log/slog"

	"github.com/swarmguard/swarmctl/internal/events"
)

// Sink drains a subscriber channel and logs each event at the
// appropriate level until the channel closes or ctx is cancelled.
func Sink(ctx context.Context, logger *slog.Logger, ch <-chan events.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			log(logger, e)
		case <-ctx.Done():
			return
		}
	}
}

func log(logger *slog.Logger, e events.Event) {
	switch e.Kind {
	case events.KindStart:
		logger.Info("run started", "taskCount", e.Start.TaskCount, "waveCount", e.Start.WaveCount)
	case events.KindPhaseProgress:
		logger.Info("phase progress", "phase", e.PhaseProgress.Phase)
	case events.KindTaskDispatched:
		logger.Info("task dispatched", "taskId", e.TaskDispatched.TaskID, "model", e.TaskDispatched.Model,
			"worker", e.TaskDispatched.WorkerName, "attempts", e.TaskDispatched.Attempts)
	case events.KindTaskHollow:
		logger.Warn("hollow completion", "taskId", e.TaskHollow.TaskID)
	case events.KindTaskCompleted:
		logger.Info("task completed", "taskId", e.TaskCompleted.TaskID,
			"qualityScore", e.TaskCompleted.QualityScore, "degraded", e.TaskCompleted.Degraded)
	case events.KindTaskFailed:
		logger.Error("task failed", "taskId", e.TaskFailed.TaskID, "reason", e.TaskFailed.Reason)
	case events.KindTaskDecomposed:
		logger.Info("task decomposed", "taskId", e.TaskDecomposed.TaskID, "subtasks", e.TaskDecomposed.SubtaskIDs)
	case events.KindTaskRescued:
		logger.Info("task rescued", "taskId", e.TaskRescued.TaskID, "reason", e.TaskRescued.Reason)
	case events.KindWaveAdvanced:
		logger.Info("wave advanced", "wave", e.WaveAdvanced.Wave)
	case events.KindConsensusReached:
		logger.Info("consensus reached", "taskId", e.ConsensusReached.TaskID, "summary", e.ConsensusReached.Summary)
	case events.KindComplete:
		logger.Info("run complete", "success", e.Complete.Success,
			"completed", e.Complete.Stats.Completed, "failed", e.Complete.Stats.Failed,
			"skipped", e.Complete.Stats.Skipped, "tokensUsed", e.Complete.Stats.TokensUsed,
			"costUsed", e.Complete.Stats.CostUsed)
	default:
		logger.Warn("unknown event kind", "kind", e.Kind)
	}
}
