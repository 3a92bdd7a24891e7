package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// toMessageParams converts the request to Anthropic Messages API format.
func toMessageParams(req *models.GenerateRequest, modelName string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  toMessages(req.History),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	if config := req.Config; config != nil {
		if config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*config.Temperature))
		}
		if config.TopP != nil {
			params.TopP = anthropic.Float(float64(*config.TopP))
		}
		if config.MaxTokens != nil {
			params.MaxTokens = int64(*config.MaxTokens)
		}
		if len(config.StopSequences) > 0 {
			params.StopSequences = config.StopSequences
		}
	}

	return params
}

// toMessages converts the turn history to Anthropic message format.
func toMessages(history []trace.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case trace.RoleUser:
			if turn.Content == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Content),
			))

		case trace.RoleModel:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.ToolCalls)+1)
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: call.Args,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

		case trace.RoleTool:
			if turn.Outcome == nil {
				continue
			}
			block := &anthropic.ToolResultBlockParam{
				ToolUseID: turn.Outcome.CallID,
				Content: []anthropic.ToolResultBlockParamContentUnion{
					{OfText: &anthropic.TextBlockParam{Text: turn.Outcome.PayloadText()}},
				},
			}
			if turn.Outcome.Status == trace.OutcomeError {
				block.IsError = anthropic.Bool(true)
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.ContentBlockParamUnion{OfToolResult: block},
			))
		}
	}
	return messages
}

// toTools converts tool schemas to Anthropic tool definitions.
func toTools(tools []trace.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := &anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: toInputSchema(tool.Parameters),
		}
		if tool.Description != "" {
			param.Description = anthropic.String(tool.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: param})
	}
	return out
}

// toInputSchema converts a JSON-Schema-shaped map to the tool input schema.
func toInputSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if params == nil {
		return schema
	}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if required, ok := params["required"].([]any); ok {
		for _, v := range required {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// fromMessage converts an Anthropic message to internal format.
func fromMessage(msg *anthropic.Message, modelUsed string) (*models.GenerateResponse, error) {
	metadata := models.ResponseMetadata{
		ModelUsed: modelUsed,
		Usage: trace.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	if msg.StopReason == anthropic.StopReasonRefusal {
		return &models.GenerateResponse{
			Content: models.ResponseContent{
				Type:          models.ResponseTypeRefusal,
				RefusalReason: "model declined to respond",
			},
			Metadata: metadata,
		}, nil
	}

	var text string
	var toolCalls []trace.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, &models.ProviderError{
						Code:       models.ErrorCodeInvalidRequest,
						Message:    fmt.Sprintf("malformed tool call input for %s", b.Name),
						Underlying: err,
					}
				}
			}
			toolCalls = append(toolCalls, trace.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			})
		}
	}

	content := models.ResponseContent{Type: models.ResponseTypeText, Text: text}
	if len(toolCalls) > 0 {
		content.Type = models.ResponseTypeToolCall
		content.ToolCalls = toolCalls
	}

	return &models.GenerateResponse{Content: content, Metadata: metadata}, nil
}

// mapAnthropicError maps Anthropic API errors to provider errors.
func mapAnthropicError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &models.ProviderError{
				Code:       models.ErrorCodeAuth,
				Message:    "authentication failed",
				Underlying: err,
				Retryable:  false,
			}
		case apiErr.StatusCode == 429:
			return &models.ProviderError{
				Code:       models.ErrorCodeRateLimit,
				Message:    "rate limit exceeded",
				Underlying: err,
				Retryable:  true,
			}
		case apiErr.StatusCode == 400:
			return &models.ProviderError{
				Code:       models.ErrorCodeInvalidRequest,
				Message:    "invalid request",
				Underlying: err,
				Retryable:  false,
			}
		case apiErr.StatusCode >= 500:
			return &models.ProviderError{
				Code:       models.ErrorCodeUnavailable,
				Message:    "service unavailable",
				Underlying: err,
				Retryable:  true,
			}
		default:
			return &models.ProviderError{
				Code:       models.ErrorCodeNetwork,
				Message:    "API error",
				Underlying: err,
				Retryable:  true,
			}
		}
	}

	return &models.ProviderError{
		Code:       models.ErrorCodeNetwork,
		Message:    "network error",
		Underlying: err,
		Retryable:  true,
	}
}
