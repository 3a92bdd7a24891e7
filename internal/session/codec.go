package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Cyclone1070/agentrig/internal/trace"
)

// Wire format for portable sessions. Round-tripping must preserve role,
// content, and tool call/outcome linkage bit-for-bit.

type sessionDTO struct {
	ID    string    `json:"id"`
	Flow  string    `json:"flow"`
	Turns []turnDTO `json:"turns"`
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
	CallID    string          `json:"call_id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// MarshalJSON serializes the session to its portable form.
func (s *Session) MarshalJSON() ([]byte, error) {
	dto := sessionDTO{
		ID:    s.id,
		Flow:  s.flow,
		Turns: make([]turnDTO, 0, len(s.turns)),
	}
	for _, t := range s.turns {
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
			payload, err := json.Marshal(t.Outcome.Payload)
			if err != nil {
				return nil, fmt.Errorf("encode outcome payload for call %s: %w", t.Outcome.CallID, err)
			}
			td.Outcome = &outcomeDTO{
				CallID:    t.Outcome.CallID,
				Status:    string(t.Outcome.Status),
				Payload:   payload,
				ElapsedMs: t.Outcome.Elapsed.Milliseconds(),
			}
		}
		dto.Turns = append(dto.Turns, td)
	}
	return json.Marshal(dto)
}

// UnmarshalJSON restores a session from its portable form.
func (s *Session) UnmarshalJSON(data []byte) error {
	var dto sessionDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	s.id = dto.ID
	s.flow = dto.Flow
	s.turns = make([]trace.Turn, 0, len(dto.Turns))
	for _, td := range dto.Turns {
		t := trace.Turn{
			Index:    td.Index,
			Role:     trace.Role(td.Role),
			Content:  td.Content,
			ToolName: td.ToolName,
		}
		for _, tc := range td.ToolCalls {
			t.ToolCalls = append(t.ToolCalls, trace.ToolCall{
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
				Turn: tc.Turn,
			})
		}
		if td.Outcome != nil {
			var payload any
			if len(td.Outcome.Payload) > 0 {
				if err := json.Unmarshal(td.Outcome.Payload, &payload); err != nil {
					return fmt.Errorf("decode outcome payload for call %s: %w", td.Outcome.CallID, err)
				}
			}
			t.Outcome = &trace.ToolOutcome{
				CallID:  td.Outcome.CallID,
				Status:  trace.OutcomeStatus(td.Outcome.Status),
				Payload: payload,
				Elapsed: time.Duration(td.Outcome.ElapsedMs) * time.Millisecond,
			}
		}
		s.turns = append(s.turns, t)
	}
	return nil
}
