// Package events defines the orchestrator's typed event stream: a
// single-writer channel of a closed Event sum type, rather than ad hoc
// callback emission.
package events

import "github.com/swarmguard/swarmctl/internal/taskqueue"

// Kind discriminates the Event variant.
type Kind string

const (
	KindStart            Kind = "swarm.start"
	KindPhaseProgress    Kind = "swarm.phase.progress"
	KindTaskDispatched   Kind = "swarm.task.dispatched"
	KindTaskHollow       Kind = "swarm.task.hollow"
	KindTaskCompleted    Kind = "swarm.task.completed"
	KindTaskFailed       Kind = "swarm.task.failed"
	KindTaskDecomposed   Kind = "swarm.task.decomposed"
	KindTaskRescued      Kind = "swarm.task.rescued"
	KindWaveAdvanced     Kind = "swarm.wave.advanced"
	KindConsensusReached Kind = "swarm.consensus.reached"
	KindComplete         Kind = "swarm.complete"
)

// Event is the closed sum type for everything the orchestrator emits.
// Exactly one of the typed fields is populated, matching Kind — Go has
// no native sum types, so this struct-of-optionals plus a discriminator
// is the idiomatic stand-in.
type Event struct {
	Kind Kind

	Start            *StartPayload
	PhaseProgress    *PhaseProgressPayload
	TaskDispatched   *TaskDispatchedPayload
	TaskHollow       *TaskHollowPayload
	TaskCompleted    *TaskCompletedPayload
	TaskFailed       *TaskFailedPayload
	TaskDecomposed   *TaskDecomposedPayload
	TaskRescued      *TaskRescuedPayload
	WaveAdvanced     *WaveAdvancedPayload
	ConsensusReached *ConsensusReachedPayload
	Complete         *CompletePayload
}

type StartPayload struct {
	TaskCount int
	WaveCount int
}

type PhaseProgressPayload struct {
	Phase string
}

// TaskDispatchedPayload carries Attempts so subscribers can tell a
// retry from the original dispatch.
type TaskDispatchedPayload struct {
	TaskID     string
	Model      string
	WorkerName string
	Attempts   int
}

type TaskHollowPayload struct {
	TaskID string
}

type TaskCompletedPayload struct {
	TaskID       string
	QualityScore int
	Degraded     bool
}

type TaskFailedPayload struct {
	TaskID string
	Reason string
}

type TaskDecomposedPayload struct {
	TaskID     string
	SubtaskIDs []string
}

type TaskRescuedPayload struct {
	TaskID string
	Reason string
}

type WaveAdvancedPayload struct {
	Wave int
}

type ConsensusReachedPayload struct {
	TaskID  string
	Summary string
}

type CompletePayload struct {
	Success bool
	Stats   RunStats
}

// RunStats summarizes a finished run for the swarm.complete event.
type RunStats struct {
	TotalTasks int
	Completed  int
	Failed     int
	Skipped    int
	Degraded   int
	TokensUsed int
	CostUsed   float64
	Statuses   map[string]taskqueue.TaskStatus
}

func start(p StartPayload) Event         { return Event{Kind: KindStart, Start: &p} }
func phase(p PhaseProgressPayload) Event { return Event{Kind: KindPhaseProgress, PhaseProgress: &p} }

// NewStart builds a swarm.start event.
func NewStart(taskCount, waveCount int) Event {
	return start(StartPayload{TaskCount: taskCount, WaveCount: waveCount})
}

// NewPhaseProgress builds a swarm.phase.progress event.
func NewPhaseProgress(phaseName string) Event {
	return phase(PhaseProgressPayload{Phase: phaseName})
}

// NewTaskDispatched builds a swarm.task.dispatched event.
func NewTaskDispatched(taskID, model, workerName string, attempts int) Event {
	return Event{Kind: KindTaskDispatched, TaskDispatched: &TaskDispatchedPayload{
		TaskID: taskID, Model: model, WorkerName: workerName, Attempts: attempts,
	}}
}

// NewTaskHollow builds a swarm.task.hollow event.
func NewTaskHollow(taskID string) Event {
	return Event{Kind: KindTaskHollow, TaskHollow: &TaskHollowPayload{TaskID: taskID}}
}

// NewTaskCompleted builds a swarm.task.completed event.
func NewTaskCompleted(taskID string, qualityScore int, degraded bool) Event {
	return Event{Kind: KindTaskCompleted, TaskCompleted: &TaskCompletedPayload{
		TaskID: taskID, QualityScore: qualityScore, Degraded: degraded,
	}}
}

// NewTaskFailed builds a swarm.task.failed event.
func NewTaskFailed(taskID, reason string) Event {
	return Event{Kind: KindTaskFailed, TaskFailed: &TaskFailedPayload{TaskID: taskID, Reason: reason}}
}

// NewTaskDecomposed builds a swarm.task.decomposed event.
func NewTaskDecomposed(taskID string, subtaskIDs []string) Event {
	return Event{Kind: KindTaskDecomposed, TaskDecomposed: &TaskDecomposedPayload{TaskID: taskID, SubtaskIDs: subtaskIDs}}
}

// NewTaskRescued builds a swarm.task.rescued event.
func NewTaskRescued(taskID, reason string) Event {
	return Event{Kind: KindTaskRescued, TaskRescued: &TaskRescuedPayload{TaskID: taskID, Reason: reason}}
}

// NewWaveAdvanced builds a swarm.wave.advanced event.
func NewWaveAdvanced(wave int) Event {
	return Event{Kind: KindWaveAdvanced, WaveAdvanced: &WaveAdvancedPayload{Wave: wave}}
}

// NewComplete builds a swarm.complete event.
func NewComplete(success bool, stats RunStats) Event {
	return Event{Kind: KindComplete, Complete: &CompletePayload{Success: success, Stats: stats}}
}
