package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// toChatRequest converts the request to OpenAI chat completion format.
func toChatRequest(req *models.GenerateRequest, modelName string) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toChatMessages(req),
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
	}

	if config := req.Config; config != nil {
		if config.Temperature != nil {
			chatReq.Temperature = *config.Temperature
		}
		if config.TopP != nil {
			chatReq.TopP = *config.TopP
		}
		if config.MaxTokens != nil {
			chatReq.MaxTokens = *config.MaxTokens
		}
		if len(config.StopSequences) > 0 {
			chatReq.Stop = config.StopSequences
		}
	}

	return chatReq
}

// toChatMessages converts the turn history to OpenAI message format.
func toChatMessages(req *models.GenerateRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, turn := range req.History {
		switch turn.Role {
		case trace.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})

		case trace.RoleModel:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			for _, call := range turn.ToolCalls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, msg)

		case trace.RoleTool:
			if turn.Outcome == nil {
				continue
			}
			content := turn.Outcome.PayloadText()
			if turn.Outcome.Status == trace.OutcomeError {
				content = fmt.Sprintf("Error: %s", content)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: turn.Outcome.CallID,
			})
		}
	}

	return messages
}

// toChatTools converts tool schemas to OpenAI tool definitions.
func toChatTools(tools []trace.ToolSchema) []openai.Tool {
	chatTools := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		chatTools = append(chatTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return chatTools
}

// fromChatResponse converts an OpenAI response to internal format.
func fromChatResponse(resp *openai.ChatCompletionResponse, modelUsed string) (*models.GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &models.ProviderError{
			Code:    models.ErrorCodeInvalidRequest,
			Message: "no choices in response",
		}
	}

	choice := resp.Choices[0]
	metadata := models.ResponseMetadata{
		ModelUsed: modelUsed,
		Usage: trace.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if choice.FinishReason == openai.FinishReasonContentFilter {
		return &models.GenerateResponse{
			Content: models.ResponseContent{
				Type:          models.ResponseTypeRefusal,
				RefusalReason: "content blocked by content filter",
			},
			Metadata: metadata,
		}, nil
	}

	content := models.ResponseContent{
		Type: models.ResponseTypeText,
		Text: choice.Message.Content,
	}

	if len(choice.Message.ToolCalls) > 0 {
		content.Type = models.ResponseTypeToolCall
		for _, call := range choice.Message.ToolCalls {
			args := map[string]any{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					return nil, &models.ProviderError{
						Code:       models.ErrorCodeInvalidRequest,
						Message:    fmt.Sprintf("malformed tool call arguments for %s", call.Function.Name),
						Underlying: err,
					}
				}
			}
			content.ToolCalls = append(content.ToolCalls, trace.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: args,
			})
		}
	}

	return &models.GenerateResponse{Content: content, Metadata: metadata}, nil
}

// mapOpenAIError maps OpenAI API errors to provider errors.
func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return mapStatusCode(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return mapStatusCode(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return &models.ProviderError{
		Code:       models.ErrorCodeNetwork,
		Message:    "network error",
		Underlying: err,
		Retryable:  true,
	}
}

func mapStatusCode(status int, message string, err error) error {
	switch {
	case status == 401 || status == 403:
		return &models.ProviderError{
			Code:       models.ErrorCodeAuth,
			Message:    "authentication failed",
			Underlying: err,
			Retryable:  false,
		}
	case status == 429:
		return &models.ProviderError{
			Code:       models.ErrorCodeRateLimit,
			Message:    "rate limit exceeded",
			Underlying: err,
			Retryable:  true,
		}
	case status == 400:
		return &models.ProviderError{
			Code:       models.ErrorCodeInvalidRequest,
			Message:    fmt.Sprintf("invalid request: %s", message),
			Underlying: err,
			Retryable:  false,
		}
	case status >= 500:
		return &models.ProviderError{
			Code:       models.ErrorCodeUnavailable,
			Message:    "service unavailable",
			Underlying: err,
			Retryable:  true,
		}
	default:
		return &models.ProviderError{
			Code:       models.ErrorCodeNetwork,
			Message:    fmt.Sprintf("API error: %s", message),
			Underlying: err,
			Retryable:  true,
		}
	}
}
