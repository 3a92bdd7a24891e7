package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

func TestGenerate_TextResponse(t *testing.T) {
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "gemini-mock", model)
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content:      &genai.Content{Parts: []*genai.Part{{Text: "Hello there!"}}},
					FinishReason: genai.FinishReasonStop,
				}},
				UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
					PromptTokenCount:     10,
					CandidatesTokenCount: 5,
					TotalTokenCount:      15,
				},
			}, nil
		},
	}

	p := New(mockClient, "gemini-mock")

	resp, err := p.Generate(context.Background(), &models.GenerateRequest{
		History: []trace.Turn{{Role: trace.RoleUser, Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, models.ResponseTypeText, resp.Content.Type)
	assert.Equal(t, "Hello there!", resp.Content.Text)
	assert.Equal(t, 15, resp.Metadata.Usage.TotalTokens)
	assert.Equal(t, "gemini-mock", resp.Metadata.ModelUsed)
}

func TestGenerate_ForwardsHistoryAndTools(t *testing.T) {
	var gotContents []*genai.Content
	var gotConfig *genai.GenerateContentConfig
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotContents = contents
			gotConfig = config
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "ok"}}},
				}},
			}, nil
		},
	}

	p := New(mockClient, "gemini-mock")

	_, err := p.Generate(context.Background(), &models.GenerateRequest{
		System: "Be brief.",
		History: []trace.Turn{
			{Role: trace.RoleUser, Content: "What is my balance?"},
			{Role: trace.RoleModel, ToolCalls: []trace.ToolCall{{ID: "c1", Name: "get_balance", Args: map[string]any{"account": "checking"}}}},
			{Role: trace.RoleTool, ToolName: "get_balance", Outcome: &trace.ToolOutcome{CallID: "c1", Status: trace.OutcomeSuccess, Payload: "1500.00"}},
		},
		Tools: []trace.ToolSchema{{Name: "get_balance", Description: "Look up a balance"}},
	})

	require.NoError(t, err)
	require.Len(t, gotContents, 3)
	assert.Equal(t, "user", gotContents[0].Role)
	assert.Equal(t, "model", gotContents[1].Role)
	require.NotNil(t, gotContents[2].Parts[0].FunctionResponse)
	require.NotNil(t, gotConfig.SystemInstruction)
	require.Len(t, gotConfig.Tools, 1)
	assert.Equal(t, "get_balance", gotConfig.Tools[0].FunctionDeclarations[0].Name)
}

func TestGenerate_APIErrorMapped(t *testing.T) {
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, &genai.APIError{Code: 429, Message: "quota"}
		},
	}

	p := New(mockClient, "gemini-mock")

	resp, err := p.Generate(context.Background(), &models.GenerateRequest{})

	assert.Nil(t, resp)
	var providerErr *models.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, models.ErrorCodeRateLimit, providerErr.Code)
	assert.True(t, models.IsRetryable(err))
}

func TestModel(t *testing.T) {
	p := New(&MockGeminiClient{}, "gemini-2.5-flash")
	assert.Equal(t, "gemini-2.5-flash", p.Model())
}
