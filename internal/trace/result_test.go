package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTurns() []Turn {
	return []Turn{
		{Index: 0, Role: RoleUser, Content: "what is my balance?"},
		{Index: 1, Role: RoleModel, ToolCalls: []ToolCall{
			{ID: "call-1", Name: "get_balance", Args: map[string]any{"account": "checking"}, Turn: 1},
		}},
		{Index: 2, Role: RoleTool, ToolName: "get_balance", Outcome: &ToolOutcome{
			CallID: "call-1", Status: OutcomeSuccess, Payload: "1500.0",
		}},
		{Index: 3, Role: RoleModel, Content: "Your balance is $1500."},
	}
}

func TestResult_Success_ExposesFinalText(t *testing.T) {
	result := NewResult(sampleTurns(), Usage{TotalTokens: 42}, time.Second)

	assert.True(t, result.Success())
	assert.Nil(t, result.Failure())
	assert.Equal(t, "Your balance is $1500.", result.FinalText())
	assert.Equal(t, 42, result.Usage().TotalTokens)
	assert.Equal(t, time.Second, result.Duration())
}

func TestResult_FailedRun_CarriesPartialTurns(t *testing.T) {
	failure := &Failure{Kind: FailureTurnLimit, Message: "no final answer after 3 model invocations"}
	result := NewFailedResult(failure, sampleTurns()[:3], Usage{}, time.Second)

	assert.False(t, result.Success())
	require.NotNil(t, result.Failure())
	assert.Equal(t, FailureTurnLimit, result.Failure().Kind)
	assert.Len(t, result.Turns(), 3)
}

func TestResult_ToolWasCalled(t *testing.T) {
	result := NewResult(sampleTurns(), Usage{}, 0)

	assert.True(t, result.ToolWasCalled("get_balance"))
	assert.False(t, result.ToolWasCalled("transfer_funds"))
}

func TestResult_CallsOf_ReturnsRequestOrder(t *testing.T) {
	turns := []Turn{
		{Role: RoleModel, ToolCalls: []ToolCall{
			{ID: "a", Name: "lookup", Args: map[string]any{"q": "first"}},
			{ID: "b", Name: "lookup", Args: map[string]any{"q": "second"}},
		}},
	}
	result := NewResult(turns, Usage{}, 0)

	calls := result.CallsOf("lookup")
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)
}

func TestResult_OutcomeOf(t *testing.T) {
	result := NewResult(sampleTurns(), Usage{}, 0)

	outcome, ok := result.OutcomeOf("call-1")
	require.True(t, ok)
	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "1500.0", outcome.PayloadText())

	_, ok = result.OutcomeOf("missing")
	assert.False(t, ok)
}

func TestResult_Immutable_CallerMutationDoesNotLeakIn(t *testing.T) {
	turns := sampleTurns()
	result := NewResult(turns, Usage{}, 0)

	// Mutating the input after construction must not change the result.
	turns[3].Content = "corrupted"
	turns[1].ToolCalls[0].Args["account"] = "savings"

	assert.Equal(t, "Your balance is $1500.", result.FinalText())
	calls := result.CallsOf("get_balance")
	require.Len(t, calls, 1)
	assert.Equal(t, "checking", calls[0].Args["account"])
}

func TestResult_Immutable_AccessorCopiesAreIndependent(t *testing.T) {
	result := NewResult(sampleTurns(), Usage{}, 0)

	got := result.Turns()
	got[3].Content = "corrupted"
	got[1].ToolCalls[0].Args["account"] = "savings"

	assert.Equal(t, "Your balance is $1500.", result.FinalText())
	assert.Equal(t, "checking", result.CallsOf("get_balance")[0].Args["account"])
}

func TestPayloadText_RendersByType(t *testing.T) {
	assert.Equal(t, "plain", ToolOutcome{Payload: "plain"}.PayloadText())
	assert.Equal(t, "", ToolOutcome{}.PayloadText())
	assert.JSONEq(t, `{"balance":1500}`, ToolOutcome{Payload: map[string]any{"balance": 1500}}.PayloadText())
}

func TestUsage_Add(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, EstimatedCost: 0.5})

	assert.Equal(t, 11, u.PromptTokens)
	assert.Equal(t, 7, u.CompletionTokens)
	assert.Equal(t, 18, u.TotalTokens)
	assert.Equal(t, 0.5, u.EstimatedCost)
}
