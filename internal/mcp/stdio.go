package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// StdioClient speaks newline-delimited JSON-RPC over a subprocess's stdin
// and stdout. A single reader goroutine routes responses to pending calls by
// id; writes are serialized by their own mutex so concurrent tool calls are
// safe.
type StdioClient struct {
	w   io.Writer
	log zerolog.Logger

	// writeMu serializes frame writes. The pending-table mutex is never
	// held across pipe I/O: a blocked write must not stall the read loop.
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Response
	closed  bool

	done    chan struct{}
	readErr error
}

// maxFrameSize bounds a single response line. Tool results can be large but
// a frame beyond this is treated as a protocol violation.
const maxFrameSize = 16 * 1024 * 1024

// NewStdioClient attaches a client to the given pipes and starts the read
// loop. Close the stdin writer (or kill the process) to stop it.
func NewStdioClient(stdin io.Writer, stdout io.Reader, log zerolog.Logger) *StdioClient {
	c := &StdioClient{
		w:       stdin,
		log:     log,
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

func (c *StdioClient) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.fail(fmt.Errorf("malformed frame: %w", err))
			return
		}
		c.dispatch(&resp)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.fail(err)
}

func (c *StdioClient) dispatch(resp *Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Server notifications and stray ids are ignored.
		c.log.Debug().Int64("id", resp.ID).Msg("dropping frame with no pending call")
		return
	}
	ch <- resp
}

// fail marks the stream dead and releases every pending caller.
func (c *StdioClient) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.readErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	close(c.done)
	for _, ch := range pending {
		close(ch)
	}
}

// Close tears the client down; pending calls fail with a transport error.
func (c *StdioClient) Close() {
	c.fail(errors.New("client closed"))
}

// drop abandons a pending call.
func (c *StdioClient) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call performs one request/response exchange.
func (c *StdioClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return nil, &TransportError{Op: method, Err: err}
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}
	frame, err := json.Marshal(req)
	if err != nil {
		c.drop(id)
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	frame = append(frame, '\n')

	c.writeMu.Lock()
	_, writeErr := c.w.Write(frame)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.drop(id)
		return nil, &TransportError{Op: method, Err: writeErr}
	}

	select {
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return nil, &TransportError{Op: method, Err: err}
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Initialize performs the protocol handshake and validates the version.
func (c *StdioClient) Initialize(ctx context.Context, clientName string) (*InitializeResult, error) {
	return initialize(ctx, c, clientName)
}

// ListTools fetches the server's tool listing.
func (c *StdioClient) ListTools(ctx context.Context) (*ListToolsResult, error) {
	return listTools(ctx, c)
}

// CallTool invokes a named tool. A tool-reported failure comes back as a
// result with IsError set, not as an error.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	return callTool(ctx, c, name, args)
}

// caller is the shared request surface of the stdio and HTTP clients.
type caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

func initialize(ctx context.Context, c caller, clientName string) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo{Name: clientName, Version: "1.0.0"},
	}
	raw, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "initialize", Err: err}
	}
	if result.ProtocolVersion != ProtocolVersion {
		return nil, &VersionMismatchError{Server: result.ServerInfo.Name, Got: result.ProtocolVersion}
	}
	return &result, nil
}

func listTools(ctx context.Context, c caller) (*ListToolsResult, error) {
	raw, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "tools/list", Err: err}
	}
	return &result, nil
}

func callTool(ctx context.Context, c caller, name string, args map[string]any) (*CallToolResult, error) {
	raw, err := c.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// The protocol's own error object is a tool failure the model
			// should see, not a transport fault.
			return &CallToolResult{
				Content: []ContentBlock{{Type: "text", Text: rpcErr.Message}},
				IsError: true,
			}, nil
		}
		return nil, err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "tools/call", Err: err}
	}
	return &result, nil
}
