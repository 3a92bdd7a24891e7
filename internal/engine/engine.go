// Package engine drives a model through a bounded tool-use loop and records
// a complete, replayable trace of what happened. The state machine here is
// the single source of truth for conversation progress; no other component
// appends turns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Cyclone1070/agentrig/internal/provider"
	"github.com/Cyclone1070/agentrig/internal/provider/models"
	"github.com/Cyclone1070/agentrig/internal/retry"
	"github.com/Cyclone1070/agentrig/internal/session"
	"github.com/Cyclone1070/agentrig/internal/toolserver"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

const defaultMaxTurns = 20

// Request describes one conversation run.
type Request struct {
	// Prompt is the new user message.
	Prompt string

	// System carries system-level instructions, if any.
	System string

	// Servers are the tool backends available to the model, in priority
	// order: when two servers expose the same tool name, the earlier one
	// wins.
	Servers []toolserver.Server

	// Session optionally seeds the conversation with prior turns. The
	// session itself is read-only; a fresh copy is extended.
	Session *session.Session

	// Flow names the logical conversation for session provenance.
	Flow string

	// MaxTurns bounds the number of model invocations. Zero means the
	// default.
	MaxTurns int

	// Config contains optional generation parameters.
	Config *models.GenerateConfig

	// ToolCallTimeout bounds each individual tool call. Zero means 2
	// minutes.
	ToolCallTimeout time.Duration
}

// Runner executes conversations against one LLM provider. A Runner is
// stateless across runs; tool servers may be shared between sequential runs
// and are started (idempotently) but never stopped by the engine; their
// lifetime belongs to the caller.
type Runner struct {
	provider provider.Provider
	retry    *retry.Controller
	log      zerolog.Logger
	now      func() time.Time
}

// Options tune a Runner.
type Options struct {
	Logger zerolog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New creates a Runner.
func New(p provider.Provider, rc *retry.Controller, opts Options) *Runner {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Runner{
		provider: p,
		retry:    rc,
		log:      opts.Logger,
		now:      now,
	}
}

// Run executes one conversation to its terminal state. It never returns an
// unstructured error: the result is always inspectable, carrying either the
// final answer or a classified failure with partial progress. The returned
// session snapshots the full turn sequence (inherited prefix included) for
// callers that want to continue the conversation later.
func (r *Runner) Run(ctx context.Context, req Request) (*trace.AgentResult, *session.Session) {
	start := r.now()
	rec := newRecorder(seedTurns(req), req.Session.Len())

	fail := func(kind trace.FailureKind, err error, msg string) (*trace.AgentResult, *session.Session) {
		r.log.Debug().Str("kind", string(kind)).Str("reason", msg).Msg("conversation failed")
		failure := &trace.Failure{Kind: kind, Message: msg, Err: err}
		result := trace.NewFailedResult(failure, rec.newTurns(), rec.usage, r.now().Sub(start))
		return result, session.Snapshot(req.Flow, rec.turns)
	}

	index, schemas, err := r.prepareServers(ctx, req.Servers)
	if err != nil {
		return fail(trace.FailureServerStart, err, err.Error())
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	for modelCalls := 0; ; {
		if modelCalls >= maxTurns {
			return fail(trace.FailureTurnLimit, nil,
				fmt.Sprintf("no final answer after %d model invocations (max_turns=%d)", modelCalls, maxTurns))
		}
		if ctx.Err() != nil {
			return fail(trace.FailureCancelled, ctx.Err(), "conversation cancelled")
		}

		genReq := &models.GenerateRequest{
			System:  req.System,
			History: rec.history(),
			Tools:   schemas,
			Config:  req.Config,
		}
		resp, err := r.retry.Invoke(ctx, "generate", func(ctx context.Context) (*models.GenerateResponse, error) {
			return r.provider.Generate(ctx, genReq)
		})
		modelCalls++
		if err != nil {
			if ctx.Err() != nil {
				return fail(trace.FailureCancelled, ctx.Err(), "conversation cancelled")
			}
			var exhausted *retry.ExhaustedError
			if errors.As(err, &exhausted) {
				return fail(trace.FailureProviderTerminal, err,
					fmt.Sprintf("provider still failing after %d attempts: %v", exhausted.Attempts, exhausted.Last))
			}
			return fail(trace.FailureProviderTerminal, err, err.Error())
		}

		rec.usage.Add(resp.Metadata.Usage)

		switch resp.Content.Type {
		case models.ResponseTypeRefusal:
			rec.appendTurn(trace.Turn{
				Role:    trace.RoleModel,
				Content: resp.Content.RefusalReason,
			})
			return fail(trace.FailureProviderTerminal, models.ErrContentBlocked,
				fmt.Sprintf("model refused to generate: %s", resp.Content.RefusalReason))

		case models.ResponseTypeToolCall:
			turnIndex := rec.nextIndex()
			calls := make([]trace.ToolCall, len(resp.Content.ToolCalls))
			for i, call := range resp.Content.ToolCalls {
				calls[i] = call
				if calls[i].ID == "" {
					calls[i].ID = uuid.NewString()
				}
				calls[i].Turn = turnIndex
			}
			rec.appendTurn(trace.Turn{
				Role:      trace.RoleModel,
				Content:   resp.Content.Text,
				ToolCalls: calls,
			})

			if failure := r.dispatch(ctx, req, rec, index, calls); failure != nil {
				return fail(failure.Kind, failure.Err, failure.Message)
			}

		case models.ResponseTypeText:
			rec.appendTurn(trace.Turn{
				Role:    trace.RoleModel,
				Content: resp.Content.Text,
			})
			r.log.Debug().Int("model_calls", modelCalls).Msg("conversation completed")
			result := trace.NewResult(rec.newTurns(), rec.usage, r.now().Sub(start))
			return result, session.Snapshot(req.Flow, rec.turns)

		default:
			return fail(trace.FailureProviderTerminal, nil,
				fmt.Sprintf("unknown response type %q", resp.Content.Type))
		}
	}
}

// seedTurns builds the initial turn sequence: inherited session turns plus
// the new user prompt.
func seedTurns(req Request) []trace.Turn {
	if req.Session != nil {
		return req.Session.Continue(req.Prompt)
	}
	return []trace.Turn{{Index: 0, Role: trace.RoleUser, Content: req.Prompt}}
}

// prepareServers brings every tool server to ready (idempotent for shared
// instances) and builds the dispatch index plus the union schema list. A
// slow or failing server only affects this conversation.
func (r *Runner) prepareServers(ctx context.Context, servers []toolserver.Server) (map[string]toolserver.Server, []trace.ToolSchema, error) {
	index := make(map[string]toolserver.Server)
	var schemas []trace.ToolSchema

	for _, srv := range servers {
		if err := srv.Start(ctx); err != nil {
			return nil, nil, err
		}
		tools, err := srv.Tools(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, schema := range tools {
			if _, taken := index[schema.Name]; taken {
				r.log.Warn().
					Str("tool", schema.Name).
					Str("server", srv.Name()).
					Msg("duplicate tool name, keeping earlier registration")
				continue
			}
			index[schema.Name] = srv
			schemas = append(schemas, schema)
		}
	}
	return index, schemas, nil
}
