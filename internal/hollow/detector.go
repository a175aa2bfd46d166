// Package hollow implements the hollow-completion detector (C4): a
// pure predicate distinguishing a worker that genuinely did nothing
// from one that timed out or produced real, if terse, work.
package hollow

import "github.com/swarmguard/swarmctl/internal/taskqueue"

// minOutputLen is the substantive-output floor below which a result is
// considered trivially short.
const minOutputLen = 50

// IsHollow reports whether a worker result represents a hollow
// completion: zero tool calls and trivially short output. A timeout
// (ToolCalls == -1) is never hollow — it is a genuine failure of a
// different kind and must not be conflated with "did nothing".
func IsHollow(result taskqueue.TaskResult) bool {
	if result.Metrics.TimedOut() {
		return false
	}
	return result.Metrics.ToolCalls == 0 && len(trimSpace(result.Output)) < minOutputLen
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
