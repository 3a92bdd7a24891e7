package models

import (
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// GenerateRequest encapsulates all parameters for a generation request.
type GenerateRequest struct {
	// System carries system-level instructions, if any.
	System string

	// History is the full turn sequence so far, inherited prefix included.
	History []trace.Turn

	// Tools is the union of tool schemas from every attached tool server.
	Tools []trace.ToolSchema

	// Config contains optional generation parameters.
	Config *GenerateConfig
}

// GenerateConfig contains optional generation parameters.
// All fields are pointers to distinguish between "not set" and "zero value".
type GenerateConfig struct {
	Temperature   *float32
	TopP          *float32
	MaxTokens     *int
	StopSequences []string
}

// GenerateResponse contains the model's response and metadata.
type GenerateResponse struct {
	Content  ResponseContent
	Metadata ResponseMetadata
}

// ResponseContent is a union type representing different response types.
type ResponseContent struct {
	// Type indicates what the model produced.
	Type ResponseType

	// For Type = ResponseTypeText.
	Text string

	// For Type = ResponseTypeToolCall. Text may still carry accompanying
	// commentary from the model.
	ToolCalls []trace.ToolCall

	// For Type = ResponseTypeRefusal (safety block, policy violation).
	RefusalReason string
}

// ResponseType indicates the type of response from the model.
type ResponseType string

const (
	ResponseTypeText     ResponseType = "text"
	ResponseTypeToolCall ResponseType = "tool_call"
	ResponseTypeRefusal  ResponseType = "refusal"
)

// ResponseMetadata contains information about the generation.
type ResponseMetadata struct {
	Usage     trace.Usage
	ModelUsed string
	LatencyMs int64
}
