// Package scripted implements a deterministic provider that replays a fixed
// sequence of responses and errors. It is the backbone for asserting on
// engine behavior: with a scripted model and scripted tool outcomes, a
// conversation's turn sequence is fully reproducible.
package scripted

import (
	"context"
	"sync"
	"time"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// Step is one scripted model invocation: either a response or an error.
type Step struct {
	Response *models.GenerateResponse
	Err      error
}

// Provider replays its steps in order and records every request it saw.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	pos      int
	requests []models.GenerateRequest
	model    string
}

// New creates a scripted provider.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps, model: "scripted"}
}

// Generate pops the next step. Running past the script is a terminal error:
// it means the test's expectations and the engine's behavior diverged.
func (p *Provider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, *req)
	if p.pos >= len(p.steps) {
		return nil, &models.ProviderError{
			Code:    models.ErrorCodeInvalidRequest,
			Message: "script exhausted",
		}
	}
	step := p.steps[p.pos]
	p.pos++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Model returns the scripted model identifier.
func (p *Provider) Model() string { return p.model }

// Requests returns every request received so far.
func (p *Provider) Requests() []models.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.GenerateRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many times Generate ran.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Text scripts a plain final-answer response.
func Text(text string) Step {
	return Step{Response: &models.GenerateResponse{
		Content: models.ResponseContent{
			Type: models.ResponseTypeText,
			Text: text,
		},
	}}
}

// ToolCalls scripts a response requesting the given tool calls.
func ToolCalls(calls ...trace.ToolCall) Step {
	return Step{Response: &models.GenerateResponse{
		Content: models.ResponseContent{
			Type:      models.ResponseTypeToolCall,
			ToolCalls: calls,
		},
	}}
}

// Refusal scripts a safety refusal.
func Refusal(reason string) Step {
	return Step{Response: &models.GenerateResponse{
		Content: models.ResponseContent{
			Type:          models.ResponseTypeRefusal,
			RefusalReason: reason,
		},
	}}
}

// Fail scripts a provider error.
func Fail(err error) Step {
	return Step{Err: err}
}

// RateLimited scripts a retryable rate-limit error.
func RateLimited() Step {
	return Fail(&models.ProviderError{
		Code:      models.ErrorCodeRateLimit,
		Message:   "rate limit exceeded",
		Retryable: true,
	})
}

// RateLimitedAfter scripts a retryable rate-limit error carrying a
// server-suggested delay.
func RateLimitedAfter(d time.Duration) Step {
	return Fail(&models.ProviderError{
		Code:       models.ErrorCodeRateLimit,
		Message:    "rate limit exceeded",
		Retryable:  true,
		RetryAfter: &d,
	})
}

// WithUsage attaches usage metadata to a scripted response.
func WithUsage(step Step, usage trace.Usage) Step {
	if step.Response != nil {
		step.Response.Metadata.Usage = usage
	}
	return step
}
