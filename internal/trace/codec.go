package trace

import (
	"encoding/json"
)

// Wire form of a finished run, for consumers that want the whole trace
// rather than the accessor surface.

type resultDTO struct {
	Status     string      `json:"status"`
	Failure    *failureDTO `json:"failure,omitempty"`
	Turns      []turnDTO   `json:"turns"`
	Usage      usageDTO    `json:"usage"`
	DurationMs int64       `json:"duration_ms"`
	FinalText  string      `json:"final_text,omitempty"`
}

type failureDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type turnDTO struct {
	Index     int           `json:"index"`
	Role      string        `json:"role"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []toolCallDTO `json:"tool_calls,omitempty"`
	ToolName  string        `json:"tool_name,omitempty"`
	Outcome   *outcomeDTO   `json:"outcome,omitempty"`
}

type toolCallDTO struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	Turn int            `json:"turn"`
}

type outcomeDTO struct {
	CallID    string `json:"call_id"`
	Status    string `json:"status"`
	Payload   any    `json:"payload,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type usageDTO struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
}

// MarshalJSON serializes the full result: status, classified failure,
// every turn, aggregate usage, and duration.
func (r *AgentResult) MarshalJSON() ([]byte, error) {
	dto := resultDTO{
		Status: "success",
		Turns:  make([]turnDTO, 0, len(r.turns)),
		Usage: usageDTO{
			PromptTokens:     r.usage.PromptTokens,
			CompletionTokens: r.usage.CompletionTokens,
			TotalTokens:      r.usage.TotalTokens,
			EstimatedCost:    r.usage.EstimatedCost,
		},
		DurationMs: r.duration.Milliseconds(),
		FinalText:  r.FinalText(),
	}
	if r.failure != nil {
		dto.Status = "failure"
		dto.Failure = &failureDTO{
			Kind:    string(r.failure.Kind),
			Message: r.failure.Message,
		}
	}
	for _, t := range r.turns {
		td := turnDTO{
			Index:    t.Index,
			Role:     string(t.Role),
			Content:  t.Content,
			ToolName: t.ToolName,
		}
		for _, tc := range t.ToolCalls {
			td.ToolCalls = append(td.ToolCalls, toolCallDTO{
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
				Turn: tc.Turn,
			})
		}
		if t.Outcome != nil {
			td.Outcome = &outcomeDTO{
				CallID:    t.Outcome.CallID,
				Status:    string(t.Outcome.Status),
				Payload:   t.Outcome.Payload,
				ElapsedMs: t.Outcome.Elapsed.Milliseconds(),
			}
		}
		dto.Turns = append(dto.Turns, td)
	}
	return json.Marshal(dto)
}
