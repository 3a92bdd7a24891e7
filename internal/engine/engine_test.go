package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/provider/scripted"
	"github.com/Cyclone1070/agentrig/internal/retry"
	"github.com/Cyclone1070/agentrig/internal/toolserver"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// fakeServer is an in-memory tool server driven by function fields.
type fakeServer struct {
	name     string
	tools    []trace.ToolSchema
	callFn   func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error)
	startErr error
	starts   atomic.Int32
}

func (s *fakeServer) Name() string { return s.name }

func (s *fakeServer) Start(ctx context.Context) error {
	s.starts.Add(1)
	return s.startErr
}

func (s *fakeServer) Stop(ctx context.Context) error { return nil }

func (s *fakeServer) Tools(ctx context.Context) ([]trace.ToolSchema, error) {
	return s.tools, nil
}

func (s *fakeServer) Call(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
	return s.callFn(ctx, name, args)
}

func balanceServer() *fakeServer {
	return &fakeServer{
		name: "bank",
		tools: []trace.ToolSchema{
			{Name: "get_balance", Description: "Look up an account balance"},
		},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			if args["account"] == "checking" {
				return trace.ToolOutcome{Status: trace.OutcomeSuccess, Payload: "1500.0"}, nil
			}
			return trace.ToolOutcome{Status: trace.OutcomeError, Payload: "unknown account"}, nil
		},
	}
}

func newTestRunner(p *scripted.Provider) *Runner {
	controller := retry.New(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, zerolog.Nop())
	return New(p, controller, Options{Logger: zerolog.Nop()})
}

func TestRun_DirectTextAnswer(t *testing.T) {
	p := scripted.New(scripted.Text("hello"))
	runner := newTestRunner(p)

	result, sess := runner.Run(context.Background(), Request{Prompt: "hi", Flow: "greeting"})

	require.True(t, result.Success())
	assert.Equal(t, "hello", result.FinalText())
	assert.Equal(t, 1, p.Calls())

	turns := result.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, trace.RoleUser, turns[0].Role)
	assert.Equal(t, trace.RoleModel, turns[1].Role)

	require.NotNil(t, sess)
	assert.Equal(t, "greeting", sess.Flow())
	assert.Equal(t, 2, sess.Len())
}

func TestRun_BalanceLookup(t *testing.T) {
	p := scripted.New(
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
		scripted.Text("Your balance is $1500."),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "what is my balance?",
		Servers: []toolserver.Server{balanceServer()},
	})

	require.True(t, result.Success())
	assert.Equal(t, "Your balance is $1500.", result.FinalText())
	assert.True(t, result.ToolWasCalled("get_balance"))

	calls := result.CallsOf("get_balance")
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID, "engine assigns call ids")

	outcome, ok := result.OutcomeOf(calls[0].ID)
	require.True(t, ok)
	assert.Equal(t, trace.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "1500.0", outcome.PayloadText())

	// user, model(tool_call), tool, model
	turns := result.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, trace.RoleTool, turns[2].Role)
	assert.Equal(t, "get_balance", turns[2].ToolName)

	// The second model invocation saw the tool result in its history.
	reqs := p.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].History[len(reqs[1].History)-1]
	assert.Equal(t, trace.RoleTool, last.Role)
	assert.Equal(t, "1500.0", last.Outcome.PayloadText())
}

func TestRun_ToolErrorOutcome_ConversationContinues(t *testing.T) {
	p := scripted.New(
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "nonexistent"}}),
		scripted.Text("That account does not exist."),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "balance of account nonexistent?",
		Servers: []toolserver.Server{balanceServer()},
	})

	require.True(t, result.Success(), "tool-reported errors are content, not failures")
	assert.Equal(t, "That account does not exist.", result.FinalText())

	calls := result.CallsOf("get_balance")
	outcome, ok := result.OutcomeOf(calls[0].ID)
	require.True(t, ok)
	assert.Equal(t, trace.OutcomeError, outcome.Status)
	assert.Equal(t, "unknown account", outcome.PayloadText())
}

func TestRun_TurnLimit_ExactCount(t *testing.T) {
	p := scripted.New(
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
		scripted.Text("never reached"),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:   "loop forever",
		Servers:  []toolserver.Server{balanceServer()},
		MaxTurns: 3,
	})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureTurnLimit, result.Failure().Kind)
	assert.Equal(t, 3, p.Calls(), "the limit bounds model invocations exactly")

	// Partial progress is preserved: 1 user + 3x(model+tool) turns.
	assert.Len(t, result.Turns(), 7)
}

func TestRun_RequestedOrder_SlowFirstTool(t *testing.T) {
	server := &fakeServer{
		name: "bank",
		tools: []trace.ToolSchema{
			{Name: "slow_lookup"},
			{Name: "fast_lookup"},
		},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			if name == "slow_lookup" {
				time.Sleep(50 * time.Millisecond)
			}
			return trace.ToolOutcome{Status: trace.OutcomeSuccess, Payload: name + " done"}, nil
		},
	}
	p := scripted.New(
		scripted.ToolCalls(
			trace.ToolCall{Name: "slow_lookup"},
			trace.ToolCall{Name: "fast_lookup"},
		),
		scripted.Text("done"),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "run both",
		Servers: []toolserver.Server{server},
	})

	require.True(t, result.Success())

	// Tool results appear in requested order even though the first tool
	// finished last.
	turns := result.Turns()
	require.Len(t, turns, 5)
	assert.Equal(t, "slow_lookup", turns[2].ToolName)
	assert.Equal(t, "fast_lookup", turns[3].ToolName)
}

func TestRun_TerminalProviderError_NotRetried(t *testing.T) {
	p := scripted.New(scripted.Fail(&models.ProviderError{
		Code:    models.ErrorCodeAuth,
		Message: "authentication failed",
	}))
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{Prompt: "hi"})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureProviderTerminal, result.Failure().Kind)
	assert.Equal(t, 1, p.Calls())
}

func TestRun_TransientErrors_RetriedThenSuccess(t *testing.T) {
	p := scripted.New(
		scripted.RateLimited(),
		scripted.RateLimited(),
		scripted.Text("recovered"),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{Prompt: "hi"})

	require.True(t, result.Success())
	assert.Equal(t, "recovered", result.FinalText())
	assert.Equal(t, 3, p.Calls())
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	p := scripted.New(
		scripted.RateLimited(),
		scripted.RateLimited(),
		scripted.RateLimited(),
	)
	runner := newTestRunner(p) // MaxAttempts: 3

	result, _ := runner.Run(context.Background(), Request{Prompt: "hi"})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureProviderTerminal, result.Failure().Kind)
	assert.Contains(t, result.Failure().Message, "3 attempts")
	assert.Equal(t, 3, p.Calls())
}

func TestRun_Refusal(t *testing.T) {
	p := scripted.New(scripted.Refusal("policy violation"))
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{Prompt: "do something bad"})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureProviderTerminal, result.Failure().Kind)
	assert.True(t, errors.Is(result.Failure(), models.ErrContentBlocked))

	// The refusal is still recorded as a model turn.
	turns := result.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "policy violation", turns[1].Content)
}

func TestRun_UnknownToolName_Fails(t *testing.T) {
	p := scripted.New(scripted.ToolCalls(trace.ToolCall{Name: "not_a_tool"}))
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{balanceServer()},
	})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureToolCall, result.Failure().Kind)
	assert.Contains(t, result.Failure().Message, "not_a_tool")
}

func TestRun_ToolTransportFailure_Fails(t *testing.T) {
	server := &fakeServer{
		name:  "bank",
		tools: []trace.ToolSchema{{Name: "get_balance"}},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			return trace.ToolOutcome{}, &toolserver.CallFailure{
				Server: "bank", Tool: name, Err: errors.New("connection reset"),
			}
		},
	}
	p := scripted.New(scripted.ToolCalls(trace.ToolCall{Name: "get_balance"}))
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{server},
	})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureTransport, result.Failure().Kind)
}

func TestRun_ServerStartFailure(t *testing.T) {
	server := &fakeServer{
		name:     "bank",
		startErr: errors.New("spawn failed"),
	}
	p := scripted.New(scripted.Text("never reached"))
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{server},
	})

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureServerStart, result.Failure().Kind)
	assert.Equal(t, 0, p.Calls(), "the model is never invoked when a server cannot start")
}

func TestRun_CancellationAwaitsInFlightCalls(t *testing.T) {
	callDone := make(chan struct{})
	server := &fakeServer{
		name:  "bank",
		tools: []trace.ToolSchema{{Name: "get_balance"}},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			time.Sleep(50 * time.Millisecond)
			close(callDone)
			return trace.ToolOutcome{Status: trace.OutcomeSuccess, Payload: "1500.0"}, nil
		},
	}
	p := scripted.New(scripted.ToolCalls(trace.ToolCall{Name: "get_balance"}))
	runner := newTestRunner(p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, _ := runner.Run(ctx, Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{server},
	})

	select {
	case <-callDone:
	default:
		t.Fatal("run returned before the in-flight tool call completed")
	}

	require.False(t, result.Success())
	assert.Equal(t, trace.FailureCancelled, result.Failure().Kind)

	// The completed call's outcome made it into the trace.
	calls := result.CallsOf("get_balance")
	require.Len(t, calls, 1)
	outcome, ok := result.OutcomeOf(calls[0].ID)
	require.True(t, ok)
	assert.Equal(t, trace.OutcomeSuccess, outcome.Status)
}

func TestRun_SessionContinuation(t *testing.T) {
	p := scripted.New(
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
		scripted.Text("Your balance is $1500."),
		scripted.Text("You asked about your checking balance."),
	)
	runner := newTestRunner(p)
	server := balanceServer()

	_, sess := runner.Run(context.Background(), Request{
		Prompt:  "what is my balance?",
		Servers: []toolserver.Server{server},
		Flow:    "billing",
	})
	require.Equal(t, 4, sess.Len())

	result, sess2 := runner.Run(context.Background(), Request{
		Prompt:  "what did I just ask?",
		Session: sess,
		Servers: []toolserver.Server{server},
		Flow:    "billing",
	})

	require.True(t, result.Success())
	assert.Equal(t, "You asked about your checking balance.", result.FinalText())

	// The continuation's model request carried the full inherited history.
	reqs := p.Requests()
	last := reqs[len(reqs)-1]
	require.Len(t, last.History, 5)
	assert.Equal(t, "what is my balance?", last.History[0].Content)
	assert.Equal(t, "what did I just ask?", last.History[4].Content)

	// The result exposes only this invocation's turns; the session holds
	// everything.
	assert.Len(t, result.Turns(), 2)
	assert.Equal(t, 6, sess2.Len())

	// The first session is untouched by the continuation.
	assert.Equal(t, 4, sess.Len())
}

func TestRun_SharedServer_StartedOncePerRun(t *testing.T) {
	server := balanceServer()
	p := scripted.New(scripted.Text("one"), scripted.Text("two"))
	runner := newTestRunner(p)

	runner.Run(context.Background(), Request{Prompt: "a", Servers: []toolserver.Server{server}})
	runner.Run(context.Background(), Request{Prompt: "b", Servers: []toolserver.Server{server}})

	assert.Equal(t, int32(2), server.starts.Load(), "start is invoked per run; idempotency is the server's job")
}

func TestRun_DuplicateToolNames_FirstServerWins(t *testing.T) {
	first := &fakeServer{
		name:  "primary",
		tools: []trace.ToolSchema{{Name: "get_balance"}},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			return trace.ToolOutcome{Status: trace.OutcomeSuccess, Payload: "from primary"}, nil
		},
	}
	second := &fakeServer{
		name:  "shadow",
		tools: []trace.ToolSchema{{Name: "get_balance"}},
		callFn: func(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
			return trace.ToolOutcome{Status: trace.OutcomeSuccess, Payload: "from shadow"}, nil
		},
	}
	p := scripted.New(
		scripted.ToolCalls(trace.ToolCall{Name: "get_balance"}),
		scripted.Text("done"),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{first, second},
	})

	require.True(t, result.Success())
	calls := result.CallsOf("get_balance")
	outcome, _ := result.OutcomeOf(calls[0].ID)
	assert.Equal(t, "from primary", outcome.PayloadText())

	// The schema union carries the tool once.
	reqs := p.Requests()
	assert.Len(t, reqs[0].Tools, 1)
}

func TestRun_UsageAggregatedAcrossCalls(t *testing.T) {
	p := scripted.New(
		scripted.WithUsage(
			scripted.ToolCalls(trace.ToolCall{Name: "get_balance", Args: map[string]any{"account": "checking"}}),
			trace.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		),
		scripted.WithUsage(
			scripted.Text("done"),
			trace.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27},
		),
	)
	runner := newTestRunner(p)

	result, _ := runner.Run(context.Background(), Request{
		Prompt:  "hi",
		Servers: []toolserver.Server{balanceServer()},
	})

	require.True(t, result.Success())
	assert.Equal(t, 30, result.Usage().PromptTokens)
	assert.Equal(t, 12, result.Usage().CompletionTokens)
	assert.Equal(t, 42, result.Usage().TotalTokens)
}
