package trace

import (
	"time"
)

// FailureKind classifies why a run failed.
type FailureKind string

const (
	FailureTurnLimit        FailureKind = "turn_limit_exceeded"
	FailureProviderTerminal FailureKind = "provider_terminal"
	FailureTransport        FailureKind = "provider_transport"
	FailureToolCall         FailureKind = "tool_call"
	FailureServerStart      FailureKind = "server_start"
	FailureCancelled        FailureKind = "cancelled"
)

// Failure carries the classified error of a failed run plus a
// human-readable diagnostic sufficient for a test assertion message.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AgentResult is the immutable terminal artifact of one engine run. It holds
// the turns produced by this invocation (excluding any inherited session
// prefix), aggregate usage, wall-clock duration, and on failure the
// classified error plus whatever partial turns completed first.
type AgentResult struct {
	turns    []Turn
	usage    Usage
	duration time.Duration
	failure  *Failure
}

// NewResult builds a successful result.
func NewResult(turns []Turn, usage Usage, duration time.Duration) *AgentResult {
	return &AgentResult{
		turns:    CloneTurns(turns),
		usage:    usage,
		duration: duration,
	}
}

// NewFailedResult builds a failed result carrying partial progress.
func NewFailedResult(failure *Failure, turns []Turn, usage Usage, duration time.Duration) *AgentResult {
	return &AgentResult{
		turns:    CloneTurns(turns),
		usage:    usage,
		duration: duration,
		failure:  failure,
	}
}

// Success reports whether the conversation reached a final answer.
func (r *AgentResult) Success() bool {
	return r.failure == nil
}

// Failure returns the classified failure, or nil on success.
func (r *AgentResult) Failure() *Failure {
	return r.failure
}

// Turns returns a deep copy of the turns recorded by this invocation.
func (r *AgentResult) Turns() []Turn {
	return CloneTurns(r.turns)
}

// Usage returns the aggregate token/cost counters.
func (r *AgentResult) Usage() Usage {
	return r.usage
}

// Duration returns the wall-clock duration of the run.
func (r *AgentResult) Duration() time.Duration {
	return r.duration
}

// FinalText returns the content of the last model turn, the final answer on
// a successful run.
func (r *AgentResult) FinalText() string {
	for i := len(r.turns) - 1; i >= 0; i-- {
		if r.turns[i].Role == RoleModel {
			return r.turns[i].Content
		}
	}
	return ""
}

// ToolWasCalled reports whether any recorded model turn requested the named
// tool.
func (r *AgentResult) ToolWasCalled(name string) bool {
	return len(r.CallsOf(name)) > 0
}

// CallsOf returns every recorded call of the named tool, in request order.
func (r *AgentResult) CallsOf(name string) []ToolCall {
	var calls []ToolCall
	for _, t := range r.turns {
		for _, tc := range t.ToolCalls {
			if tc.Name == name {
				calls = append(calls, tc.clone())
			}
		}
	}
	return calls
}

// OutcomeOf returns the recorded outcome for a tool call id.
func (r *AgentResult) OutcomeOf(callID string) (ToolOutcome, bool) {
	for _, t := range r.turns {
		if t.Outcome != nil && t.Outcome.CallID == callID {
			return *t.Outcome, true
		}
	}
	return ToolOutcome{}, false
}
