package openai

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// ChatClient abstracts the OpenAI SDK client for testing.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider implements the Provider interface backed by the OpenAI
// chat completions API.
type OpenAIProvider struct {
	client    ChatClient
	modelName string
}

// NewOpenAIProvider creates a provider for the given model.
func NewOpenAIProvider(apiKey, modelName string) *OpenAIProvider {
	return &OpenAIProvider{
		client:    openai.NewClient(apiKey),
		modelName: modelName,
	}
}

// NewOpenAIProviderWithClient creates a provider with a custom client.
func NewOpenAIProviderWithClient(client ChatClient, modelName string) *OpenAIProvider {
	return &OpenAIProvider{client: client, modelName: modelName}
}

// Generate sends the request to the OpenAI API.
func (p *OpenAIProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	chatReq := toChatRequest(req, p.modelName)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	result, err := fromChatResponse(&resp, p.modelName)
	if err != nil {
		return nil, err
	}
	result.Metadata.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.modelName
}
