package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStdioServer runs a newline-delimited JSON-RPC responder on the other
// end of a pipe pair. The handler returns the raw response line to write, or
// nil to stay silent.
func fakeStdioServer(t *testing.T, handler func(req Request) any) (*StdioClient, func()) {
	t.Helper()

	clientIn, serverOut := io.Pipe() // server writes, client reads
	serverIn, clientOut := io.Pipe() // client writes, server reads

	go func() {
		scanner := bufio.NewScanner(serverIn)
		scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			resp := handler(req)
			if resp == nil {
				continue
			}
			data, err := json.Marshal(resp)
			if err != nil {
				return
			}
			serverOut.Write(append(data, '\n'))
		}
	}()

	client := NewStdioClient(clientOut, clientIn, zerolog.Nop())
	cleanup := func() {
		client.Close()
		clientOut.Close()
		serverOut.Close()
	}
	return client, cleanup
}

func resultResponse(t *testing.T, id int64, result any) *Response {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	return &Response{JSONRPC: "2.0", Result: raw, ID: id}
}

func initializeResult(version string) map[string]any {
	return map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{},
		"serverInfo":      map[string]any{"name": "fake-server", "version": "0.1.0"},
	}
}

func TestStdioInitialize_Handshake(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		require.Equal(t, "initialize", req.Method)

		var params InitializeParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, ProtocolVersion, params.ProtocolVersion)
		assert.Equal(t, "agentrig", params.ClientInfo.Name)

		return resultResponse(t, req.ID, initializeResult(ProtocolVersion))
	})
	defer cleanup()

	result, err := client.Initialize(context.Background(), "agentrig")
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "fake-server", result.ServerInfo.Name)
}

func TestStdioInitialize_VersionMismatch(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		return resultResponse(t, req.ID, initializeResult("1999-01-01"))
	})
	defer cleanup()

	_, err := client.Initialize(context.Background(), "agentrig")

	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "1999-01-01", mismatch.Got)
}

func TestStdioListTools(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		require.Equal(t, "tools/list", req.Method)
		return resultResponse(t, req.ID, ListToolsResult{Tools: []ToolDescriptor{
			{Name: "get_balance", Description: "Look up an account balance", InputSchema: map[string]any{"type": "object"}},
			{Name: "transfer_funds", Description: "Move money between accounts"},
		}})
	})
	defer cleanup()

	result, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "get_balance", result.Tools[0].Name)
	assert.Equal(t, "object", result.Tools[0].InputSchema["type"])
}

func TestStdioCallTool_Success(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		require.Equal(t, "tools/call", req.Method)

		var params CallToolParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, "get_balance", params.Name)
		assert.Equal(t, "checking", params.Arguments["account"])

		return resultResponse(t, req.ID, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: "1500.0"}},
		})
	})
	defer cleanup()

	result, err := client.CallTool(context.Background(), "get_balance", map[string]any{"account": "checking"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "1500.0", result.Text())
}

func TestStdioCallTool_ToolReportedError(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		return resultResponse(t, req.ID, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: "unknown account"}},
			IsError: true,
		})
	})
	defer cleanup()

	result, err := client.CallTool(context.Background(), "get_balance", map[string]any{"account": "nope"})
	require.NoError(t, err, "tool-reported errors are results, not transport faults")
	assert.True(t, result.IsError)
	assert.Equal(t, "unknown account", result.Text())
}

func TestStdioCallTool_RPCErrorBecomesToolError(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		return &Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: -32602, Message: "invalid params"},
			ID:      req.ID,
		}
	})
	defer cleanup()

	result, err := client.CallTool(context.Background(), "get_balance", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "invalid params", result.Text())
}

func TestStdioCall_MalformedFrame_FailsTransport(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go io.Copy(io.Discard, serverIn) // drain stdin; io.Pipe writes block without a reader
	client := NewStdioClient(clientOut, clientIn, zerolog.Nop())
	defer client.Close()

	go func() {
		serverOut.Write([]byte("this is not json\n"))
	}()

	_, err := client.Call(context.Background(), "tools/list", nil)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestStdioCall_StreamEOF_FailsPendingCalls(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go io.Copy(io.Discard, serverIn) // drain stdin; io.Pipe writes block without a reader
	client := NewStdioClient(clientOut, clientIn, zerolog.Nop())
	defer client.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		serverOut.Close() // process died
	}()

	_, err := client.Call(context.Background(), "tools/list", nil)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestStdioCall_ContextCancelled(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		return nil // never answer
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStdioCall_AfterClose(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any { return nil })
	cleanup()

	// fail() is async from the pipe close; Close() was already called.
	_, err := client.Call(context.Background(), "tools/list", nil)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestStdioCall_ConcurrentCallsRoutedByID(t *testing.T) {
	client, cleanup := fakeStdioServer(t, func(req Request) any {
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil
		}
		return resultResponse(t, req.ID, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: params.Name}},
		})
	})
	defer cleanup()

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	done := make(chan int, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			name := string(rune('a' + i))
			result, err := client.CallTool(context.Background(), name, nil)
			if err == nil {
				results[i] = result.Text()
			}
			errs[i] = err
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(rune('a'+i)), results[i])
	}
}

// A frame write that blocks on a full stdin pipe must not hold up response
// dispatch for calls already in flight.
func TestStdioCall_BlockedWriteDoesNotStallReads(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	client := NewStdioClient(clientOut, clientIn, zerolog.Nop())
	defer func() {
		client.Close()
		clientOut.Close()
		serverOut.Close()
	}()

	firstRead := make(chan int64, 1)
	firstDone := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(serverIn)
		scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

		if !scanner.Scan() {
			return
		}
		var req1 Request
		if err := json.Unmarshal(scanner.Bytes(), &req1); err != nil {
			return
		}
		firstRead <- req1.ID

		// The second caller's frame sits unread in the pipe while the
		// first response is delivered.
		time.Sleep(50 * time.Millisecond)
		raw, _ := json.Marshal(map[string]any{"ok": true})
		data, _ := json.Marshal(Response{JSONRPC: "2.0", Result: raw, ID: req1.ID})
		serverOut.Write(append(data, '\n'))

		// Only read the second frame once the first call has returned.
		<-firstDone
		if !scanner.Scan() {
			return
		}
		var req2 Request
		if err := json.Unmarshal(scanner.Bytes(), &req2); err != nil {
			return
		}
		data, _ = json.Marshal(Response{JSONRPC: "2.0", Result: raw, ID: req2.ID})
		serverOut.Write(append(data, '\n'))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errA := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, "tools/list", nil)
		errA <- err
	}()
	<-firstRead

	errB := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, "tools/list", nil)
		errB <- err
	}()

	select {
	case err := <-errA:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first call never completed while a second frame write was pending")
	}
	close(firstDone)

	select {
	case err := <-errB:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second call never completed")
	}
}
