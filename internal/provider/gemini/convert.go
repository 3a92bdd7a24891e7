package gemini

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// toGeminiContents converts the turn history to Gemini Content format.
func toGeminiContents(history []trace.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		if content := turnToGeminiContent(turn); content != nil {
			contents = append(contents, content)
		}
	}
	return contents
}

// turnToGeminiContent converts a single turn to Gemini Content format.
func turnToGeminiContent(turn trace.Turn) *genai.Content {
	switch turn.Role {
	case trace.RoleUser:
		if turn.Content == "" {
			return nil
		}
		return &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{genai.NewPartFromText(turn.Content)},
		}

	case trace.RoleModel:
		parts := make([]*genai.Part, 0, len(turn.ToolCalls)+1)
		if turn.Content != "" {
			parts = append(parts, genai.NewPartFromText(turn.Content))
		}
		for _, call := range turn.ToolCalls {
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: call.Name,
					Args: call.Args,
				},
			})
		}
		if len(parts) == 0 {
			return nil
		}
		return &genai.Content{Role: "model", Parts: parts}

	case trace.RoleTool:
		if turn.Outcome == nil {
			return nil
		}
		content := turn.Outcome.PayloadText()
		if turn.Outcome.Status == trace.OutcomeError {
			content = fmt.Sprintf("Error: %s", content)
		}
		return &genai.Content{
			Role: "user",
			Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					Name: turn.ToolName,
					Response: map[string]any{
						"content": content,
					},
				},
			}},
		}

	default:
		return nil
	}
}

// toGeminiConfig converts the request to Gemini generation config.
func toGeminiConfig(req *models.GenerateRequest) *genai.GenerateContentConfig {
	geminiConfig := &genai.GenerateContentConfig{}

	if req.System != "" {
		geminiConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	if len(req.Tools) > 0 {
		geminiConfig.Tools = toGeminiTools(req.Tools)
	}

	if config := req.Config; config != nil {
		if config.Temperature != nil {
			geminiConfig.Temperature = config.Temperature
		}
		if config.TopP != nil {
			geminiConfig.TopP = config.TopP
		}
		if config.MaxTokens != nil {
			geminiConfig.MaxOutputTokens = int32(*config.MaxTokens)
		}
		if len(config.StopSequences) > 0 {
			geminiConfig.StopSequences = config.StopSequences
		}
	}

	return geminiConfig
}

// toGeminiTools converts tool schemas to Gemini tools.
func toGeminiTools(tools []trace.ToolSchema) []*genai.Tool {
	functionDeclarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if tool.Parameters != nil {
			fd.Parameters = toGeminiSchema(tool.Parameters)
		}
		functionDeclarations = append(functionDeclarations, fd)
	}
	return []*genai.Tool{
		{FunctionDeclarations: functionDeclarations},
	}
}

// toGeminiSchema converts a JSON-Schema-shaped map to a Gemini Schema.
func toGeminiSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}

	if typeStr, ok := params["type"].(string); ok {
		schema.Type = toGeminiType(typeStr)
	}
	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(prop)
			}
		}
	}
	if items, ok := params["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	if enum, ok := params["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
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

// toGeminiType converts string type to Gemini Type.
func toGeminiType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// fromGeminiResponse converts Gemini response to internal format.
func fromGeminiResponse(resp *genai.GenerateContentResponse, modelUsed string) (*models.GenerateResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, &models.ProviderError{
			Code:    models.ErrorCodeInvalidRequest,
			Message: "no candidates in response",
		}
	}

	candidate := resp.Candidates[0]

	if candidate.FinishReason == genai.FinishReasonSafety {
		return &models.GenerateResponse{
			Content: models.ResponseContent{
				Type:          models.ResponseTypeRefusal,
				RefusalReason: "content blocked by safety filters",
			},
			Metadata: buildMetadata(resp.UsageMetadata, modelUsed),
		}, nil
	}

	var text string
	var toolCalls []trace.ToolCall
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text += part.Text
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, trace.ToolCall{
					// Gemini doesn't provide ids; the engine assigns them.
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	content := models.ResponseContent{Type: models.ResponseTypeText, Text: text}
	if len(toolCalls) > 0 {
		content.Type = models.ResponseTypeToolCall
		content.ToolCalls = toolCalls
	}

	return &models.GenerateResponse{
		Content:  content,
		Metadata: buildMetadata(resp.UsageMetadata, modelUsed),
	}, nil
}

// buildMetadata builds response metadata from usage data.
func buildMetadata(usage *genai.GenerateContentResponseUsageMetadata, modelUsed string) models.ResponseMetadata {
	metadata := models.ResponseMetadata{
		ModelUsed: modelUsed,
	}
	if usage != nil {
		metadata.Usage = trace.Usage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return metadata
}

// mapGeminiError maps Gemini API errors to provider errors.
func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*genai.APIError); ok {
		switch apiErr.Code {
		case 401, 403:
			return &models.ProviderError{
				Code:       models.ErrorCodeAuth,
				Message:    "authentication failed",
				Underlying: err,
				Retryable:  false,
			}
		case 429:
			return &models.ProviderError{
				Code:       models.ErrorCodeRateLimit,
				Message:    "rate limit exceeded",
				Underlying: err,
				Retryable:  true,
			}
		case 400:
			return &models.ProviderError{
				Code:       models.ErrorCodeInvalidRequest,
				Message:    fmt.Sprintf("invalid request: %s", apiErr.Message),
				Underlying: err,
				Retryable:  false,
			}
		case 500, 502, 503, 504:
			return &models.ProviderError{
				Code:       models.ErrorCodeUnavailable,
				Message:    "service unavailable",
				Underlying: err,
				Retryable:  true,
			}
		default:
			return &models.ProviderError{
				Code:       models.ErrorCodeNetwork,
				Message:    fmt.Sprintf("API error: %s", apiErr.Message),
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
