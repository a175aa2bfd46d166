package hollow

import (
	"testing"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

func TestIsHollowTimeoutIsNeverHollow(t *testing.T) {
	r := taskqueue.TaskResult{Output: "", Metrics: taskqueue.ResultMetrics{ToolCalls: -1}}
	if IsHollow(r) {
		t.Fatalf("a timeout must never be classified as hollow")
	}
}

func TestIsHollowZeroCallsAndTrivialOutput(t *testing.T) {
	r := taskqueue.TaskResult{Output: "  ", Metrics: taskqueue.ResultMetrics{ToolCalls: 0}}
	if !IsHollow(r) {
		t.Fatalf("expected hollow for zero tool calls and trivial output")
	}
}

func TestIsHollowZeroCallsButSubstantiveOutput(t *testing.T) {
	longOutput := "this is a sufficiently long explanation of what was accomplished during the attempt"
	r := taskqueue.TaskResult{Output: longOutput, Metrics: taskqueue.ResultMetrics{ToolCalls: 0}}
	if IsHollow(r) {
		t.Fatalf("substantive output with zero tool calls should not be hollow")
	}
}

func TestIsHollowWithToolCallsIsNeverHollow(t *testing.T) {
	r := taskqueue.TaskResult{Output: "", Metrics: taskqueue.ResultMetrics{ToolCalls: 3}}
	if IsHollow(r) {
		t.Fatalf("nonzero tool calls should never be hollow even with empty output")
	}
}
