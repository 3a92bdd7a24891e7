// Package toolserver abstracts the tool-serving backends a conversation can
// dispatch against: a subprocess speaking the stdio protocol, a streamable
// HTTP endpoint, or a command-line executable wrapped as a single synthetic
// tool. New transports are added as new variants of the Server interface,
// never by branching on type elsewhere.
package toolserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyclone1070/agentrig/internal/trace"
)

var errNotStarted = errors.New("server not started")

// Server is a capability set the engine can discover and invoke tools on.
// Implementations must be safe for concurrent Call invocations; a server
// that mutates internal state owns its own call-level atomicity.
type Server interface {
	// Name identifies the server in logs and errors.
	Name() string

	// Start brings the server to ready. Idempotent: starting a ready server
	// is a no-op, so one instance can be shared across sequential
	// conversations.
	Start(ctx context.Context) error

	// Stop tears the server down. Idempotent.
	Stop(ctx context.Context) error

	// Tools returns the cached tool schemas. Valid after Start.
	Tools(ctx context.Context) ([]trace.ToolSchema, error)

	// Call invokes a named tool. A tool-reported failure is returned as an
	// error outcome, not an error: the model is expected to see and react to
	// it. A non-nil error is a local validation failure (*ToolCallError) or
	// a transport fault (*mcp.TransportError wrapped in *CallFailure), both
	// fatal to the calling conversation.
	Call(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error)
}

// ToolCallError is a local validation failure: the requested tool name is
// not in the server's schema list. It is never sent to the server.
type ToolCallError struct {
	Server string
	Tool   string
}

func (e *ToolCallError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("no attached server exposes a tool named %q", e.Tool)
	}
	return fmt.Sprintf("server %s exposes no tool named %q", e.Server, e.Tool)
}

// CallFailure is a transport-level tool call failure: the backing process
// died mid-call, the connection reset, or the response was malformed. It
// terminates the owning server.
type CallFailure struct {
	Server string
	Tool   string
	Err    error
}

func (e *CallFailure) Error() string {
	return fmt.Sprintf("tool %s on server %s: %v", e.Tool, e.Server, e.Err)
}

func (e *CallFailure) Unwrap() error {
	return e.Err
}
