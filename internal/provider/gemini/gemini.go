// Package gemini implements the provider interface for Google Gemini.
package gemini

import (
	"context"
	"time"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client    GeminiClient
	modelName string
}

// New creates a new GeminiProvider with the specified client and model.
func New(client GeminiClient, modelName string) *GeminiProvider {
	return &GeminiProvider{
		client:    client,
		modelName: modelName,
	}
}

// Generate sends a request to the Gemini API and returns the response.
func (p *GeminiProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	contents := toGeminiContents(req.History)
	config := toGeminiConfig(req)

	start := time.Now()
	resp, err := p.client.GenerateContent(ctx, p.modelName, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	out, err := fromGeminiResponse(resp, p.modelName)
	if out != nil {
		out.Metadata.LatencyMs = time.Since(start).Milliseconds()
	}
	return out, err
}

// Model returns the active model name.
func (p *GeminiProvider) Model() string {
	return p.modelName
}
