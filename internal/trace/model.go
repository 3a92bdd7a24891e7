package trace

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolSchema describes a single tool exposed by a tool server.
// Immutable once discovered; Parameters is a JSON-Schema-shaped map.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any

	// Turn is the index of the model turn that requested this call.
	Turn int
}

// OutcomeStatus is the terminal status of a single tool call.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// ToolOutcome is the recorded result of exactly one ToolCall.
type ToolOutcome struct {
	CallID  string
	Status  OutcomeStatus
	Payload any
	Elapsed time.Duration
}

// PayloadText renders the outcome payload as conversation content for the
// model. Strings pass through unchanged; anything else is JSON-encoded.
func (o ToolOutcome) PayloadText() string {
	switch v := o.Payload.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Turn is one recorded step of a conversation: a user prompt, a model
// message (optionally carrying tool calls), or a single tool result.
// Turns are never mutated after creation.
type Turn struct {
	Index   int
	Role    Role
	Content string

	// Model turns only.
	ToolCalls []ToolCall

	// Tool turns only: the tool that ran and its outcome.
	ToolName string
	Outcome  *ToolOutcome
}

// Clone returns a deep copy of the turn. Shared maps and slices are copied
// so a clone can outlive mutation of the conversation that produced it.
func (t Turn) Clone() Turn {
	out := t
	if t.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			out.ToolCalls[i] = tc.clone()
		}
	}
	if t.Outcome != nil {
		oc := *t.Outcome
		out.Outcome = &oc
	}
	return out
}

func (tc ToolCall) clone() ToolCall {
	out := tc
	if tc.Args != nil {
		out.Args = make(map[string]any, len(tc.Args))
		for k, v := range tc.Args {
			out.Args[k] = v
		}
	}
	return out
}

// CloneTurns deep-copies a turn sequence.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// Usage aggregates token and cost accounting across a run.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.EstimatedCost += other.EstimatedCost
}
