package anthropic

import (
	"context"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// defaultMaxTokens applies when the request does not set a token cap. The
// Messages API requires an explicit limit.
const defaultMaxTokens = 4096

// MessagesClient abstracts the Anthropic SDK client for testing.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicProvider implements the Provider interface backed by the
// Anthropic Messages API.
type AnthropicProvider struct {
	client    MessagesClient
	modelName string
}

// NewAnthropicProvider creates a provider for the given model.
func NewAnthropicProvider(apiKey, modelName string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:    &client.Messages,
		modelName: modelName,
	}
}

// NewAnthropicProviderWithClient creates a provider with a custom client.
func NewAnthropicProviderWithClient(client MessagesClient, modelName string) *AnthropicProvider {
	return &AnthropicProvider{client: client, modelName: modelName}
}

// Generate sends the request to the Anthropic API.
func (p *AnthropicProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	params := toMessageParams(req, p.modelName)

	start := time.Now()
	msg, err := p.client.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	result, err := fromMessage(msg, p.modelName)
	if err != nil {
		return nil, err
	}
	result.Metadata.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// Model returns the configured model name.
func (p *AnthropicProvider) Model() string {
	return p.modelName
}
