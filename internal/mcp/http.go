package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// HTTPClient speaks the same three logical operations over a streamable HTTP
// endpoint: one POST per request, accepting either a plain JSON body or an
// event-stream framing of the same response. Stateful servers hand back a
// session id header that is echoed on subsequent requests.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// NewHTTPClient creates a client for the given endpoint. The http.Client's
// timeout bounds every individual exchange.
func NewHTTPClient(endpoint string, client *http.Client, log zerolog.Logger) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   client,
		log:      log,
	}
}

// Call performs one request/response exchange.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = data
	}

	req := Request{JSONRPC: "2.0", Method: method, Params: raw, ID: c.nextID.Add(1)}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	c.mu.Lock()
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.mu.Unlock()

	c.log.Debug().
		Str("method", method).
		Str("endpoint", c.endpoint).
		Msg("sending request")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	defer httpResp.Body.Close()

	if sessionID := httpResp.Header.Get("Mcp-Session-Id"); sessionID != "" {
		c.mu.Lock()
		c.sessionID = sessionID
		c.mu.Unlock()
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Op:  method,
			Err: fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(respBody)),
		}
	}

	frame, err := extractFrame(respBody)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}

	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, &TransportError{Op: method, Err: fmt.Errorf("malformed frame: %w", err)}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// extractFrame returns the JSON payload of a response body, unwrapping the
// first data: frame when the server replied with an event stream.
func extractFrame(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, []byte("event:")) && !bytes.HasPrefix(body, []byte("data:")) {
		return body, nil
	}
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("data:")) {
			return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))), nil
		}
	}
	return nil, fmt.Errorf("no data frame in event stream response")
}

// Initialize performs the protocol handshake and validates the version.
func (c *HTTPClient) Initialize(ctx context.Context, clientName string) (*InitializeResult, error) {
	return initialize(ctx, c, clientName)
}

// ListTools fetches the server's tool listing.
func (c *HTTPClient) ListTools(ctx context.Context) (*ListToolsResult, error) {
	return listTools(ctx, c)
}

// CallTool invokes a named tool.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	return callTool(ctx, c, name, args)
}
