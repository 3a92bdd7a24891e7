// Package provider defines the interface to the language model backends the
// engine drives. Concrete implementations live in subpackages; each maps its
// SDK's failures into the classified ProviderError the retry controller
// understands.
package provider

import (
	"context"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// Provider is the interface to an LLM backend.
type Provider interface {
	// Generate sends the conversation to the model and returns its next
	// message. Errors are *models.ProviderError carrying the
	// retryable/terminal classification.
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)

	// Model returns the active model identifier.
	Model() string
}
