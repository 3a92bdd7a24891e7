package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Cyclone1070/agentrig/internal/toolserver"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

const defaultToolCallTimeout = 2 * time.Minute

// dispatchResult pairs one requested call with what happened to it.
type dispatchResult struct {
	outcome trace.ToolOutcome
	err     error
}

// dispatch runs every tool call of one model turn concurrently, joins them
// all, and records one tool-result turn per call in the requested order
// (never completion order), so replay is deterministic regardless of which
// tool finished first. A nil return means the conversation continues; a
// non-nil failure is terminal.
func (r *Runner) dispatch(ctx context.Context, req Request, rec *recorder, index map[string]toolserver.Server, calls []trace.ToolCall) *trace.Failure {
	timeout := req.ToolCallTimeout
	if timeout <= 0 {
		timeout = defaultToolCallTimeout
	}

	results := make([]dispatchResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call trace.ToolCall) {
			defer wg.Done()
			srv, ok := index[call.Name]
			if !ok {
				results[i].err = &toolserver.ToolCallError{Tool: call.Name}
				return
			}
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			outcome, err := srv.Call(callCtx, call.Name, call.Args)
			if err != nil {
				results[i].err = err
				return
			}
			outcome.CallID = call.ID
			results[i].outcome = outcome
		}(i, call)
	}
	// Join before anything else: even a cancelled conversation must await
	// in-flight calls so no server is orphaned mid-exchange.
	wg.Wait()

	record := func(i int) {
		outcome := results[i].outcome
		rec.appendTurn(trace.Turn{
			Role:     trace.RoleTool,
			ToolName: calls[i].Name,
			Content:  outcome.PayloadText(),
			Outcome:  &outcome,
		})
	}

	if ctx.Err() != nil {
		for i := range calls {
			if results[i].err == nil {
				record(i)
			}
		}
		return &trace.Failure{
			Kind:    trace.FailureCancelled,
			Message: "conversation cancelled during tool dispatch",
			Err:     ctx.Err(),
		}
	}

	for i := range calls {
		if err := results[i].err; err != nil {
			return classifyCallError(calls[i], err)
		}
		record(i)
	}
	return nil
}

func classifyCallError(call trace.ToolCall, err error) *trace.Failure {
	var unknown *toolserver.ToolCallError
	if errors.As(err, &unknown) {
		return &trace.Failure{
			Kind:    trace.FailureToolCall,
			Message: err.Error(),
			Err:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &trace.Failure{
			Kind:    trace.FailureTransport,
			Message: "tool call " + call.Name + " timed out",
			Err:     err,
		}
	}
	return &trace.Failure{
		Kind:    trace.FailureTransport,
		Message: err.Error(),
		Err:     err,
	}
}
