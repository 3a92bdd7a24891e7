package toolserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Cyclone1070/agentrig/internal/mcp"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// mcpClient is the request surface shared by the stdio and HTTP transports.
type mcpClient interface {
	Initialize(ctx context.Context, clientName string) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// clientName is sent in the handshake's clientInfo.
const clientName = "agentrig"

// toolCache holds the schema list discovered at readiness. list_tools is
// idempotent after readiness, so the cache is refreshed only on demand.
type toolCache struct {
	mu      sync.RWMutex
	schemas []trace.ToolSchema
	names   map[string]bool
}

func (c *toolCache) set(result *mcp.ListToolsResult) {
	schemas := make([]trace.ToolSchema, 0, len(result.Tools))
	names := make(map[string]bool, len(result.Tools))
	for _, t := range result.Tools {
		schemas = append(schemas, trace.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
		names[t.Name] = true
	}
	c.mu.Lock()
	c.schemas = schemas
	c.names = names
	c.mu.Unlock()
}

func (c *toolCache) list() []trace.ToolSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]trace.ToolSchema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

func (c *toolCache) has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[name]
}

// callThrough validates, invokes, and translates one tool call over an MCP
// client. Tool-reported failures (isError) become error outcomes; transport
// faults become a *CallFailure.
func callThrough(ctx context.Context, server string, client mcpClient, cache *toolCache, name string, args map[string]any) (trace.ToolOutcome, error) {
	if !cache.has(name) {
		return trace.ToolOutcome{}, &ToolCallError{Server: server, Tool: name}
	}

	start := time.Now()
	result, err := client.CallTool(ctx, name, args)
	elapsed := time.Since(start)
	if err != nil {
		var transport *mcp.TransportError
		if errors.As(err, &transport) {
			return trace.ToolOutcome{}, &CallFailure{Server: server, Tool: name, Err: err}
		}
		if ctx.Err() != nil {
			return trace.ToolOutcome{}, ctx.Err()
		}
		return trace.ToolOutcome{}, &CallFailure{Server: server, Tool: name, Err: err}
	}

	status := trace.OutcomeSuccess
	if result.IsError {
		status = trace.OutcomeError
	}
	var payload any
	if result.StructuredContent != nil {
		payload = result.StructuredContent
	} else {
		payload = result.Text()
	}
	return trace.ToolOutcome{
		Status:  status,
		Payload: payload,
		Elapsed: elapsed,
	}, nil
}

// toolNames extracts just the names from a listing, for readiness polls.
func toolNames(result *mcp.ListToolsResult) []string {
	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	return names
}
