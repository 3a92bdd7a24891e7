package toolserver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cyclone1070/agentrig/internal/mcp"
	"github.com/Cyclone1070/agentrig/internal/proc"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// StdioConfig configures a subprocess tool server.
type StdioConfig struct {
	Name    string
	Command []string
	Dir     string
	Env     []string

	Wait proc.WaitStrategy

	// Grace bounds graceful teardown before a forced kill.
	Grace time.Duration

	// Factory overrides process spawning, for tests.
	Factory proc.Factory

	Logger zerolog.Logger
}

// StdioServer runs a tool server as a child process and speaks
// newline-delimited JSON-RPC over its stdin/stdout.
type StdioServer struct {
	cfg StdioConfig
	log zerolog.Logger

	// startMu is held across the whole spawn-and-ready sequence so
	// concurrent Start calls on a shared instance never spawn twice.
	startMu sync.Mutex

	mu      sync.Mutex
	sp      *proc.ServerProcess
	client  *mcp.StdioClient
	started bool

	cache toolCache
}

// NewStdioServer creates an unstarted stdio server.
func NewStdioServer(cfg StdioConfig) *StdioServer {
	return &StdioServer{
		cfg: cfg,
		log: cfg.Logger.With().Str("server", cfg.Name).Logger(),
	}
}

// Name identifies the server.
func (s *StdioServer) Name() string { return s.cfg.Name }

// Start spawns the child, performs the handshake, and waits for readiness
// per the configured wait strategy. Idempotent once ready.
func (s *StdioServer) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}

	sp := proc.NewServerProcess(s.cfg.Name, proc.Config{
		Command: s.cfg.Command,
		Dir:     s.cfg.Dir,
		Env:     s.cfg.Env,
		Grace:   s.cfg.Grace,
		Factory: s.cfg.Factory,
		Logger:  s.cfg.Logger,
	})
	if err := sp.Start(ctx); err != nil {
		s.mu.Unlock()
		return err
	}

	client := mcp.NewStdioClient(sp.Stdin(), sp.Stdout(), s.log)
	s.sp = sp
	s.client = client
	s.mu.Unlock()

	handshake := func(ctx context.Context) error {
		_, err := client.Initialize(ctx, clientName)
		return err
	}
	listNames := func(ctx context.Context) ([]string, error) {
		result, err := client.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		return toolNames(result), nil
	}

	if err := sp.AwaitReady(ctx, s.cfg.Wait, handshake, listNames); err != nil {
		client.Close()
		return err
	}

	result, err := client.ListTools(ctx)
	if err != nil {
		_ = sp.Stop(ctx)
		client.Close()
		return &proc.ServerStartError{
			Server: s.cfg.Name,
			Kind:   proc.StartErrorHandshake,
			Stderr: sp.StderrTail(),
			Err:    err,
		}
	}
	s.cache.set(result)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Stop closes the client and tears the child process down.
func (s *StdioServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	sp := s.sp
	client := s.client
	s.started = false
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if sp != nil {
		return sp.Stop(ctx)
	}
	return nil
}

// Tools returns the cached schema list.
func (s *StdioServer) Tools(ctx context.Context) ([]trace.ToolSchema, error) {
	return s.cache.list(), nil
}

// Call dispatches one tool call. Concurrent calls are serialized on the wire
// by the client's write lock but can be in flight simultaneously.
func (s *StdioServer) Call(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return trace.ToolOutcome{}, &CallFailure{Server: s.cfg.Name, Tool: name, Err: errNotStarted}
	}
	return callThrough(ctx, s.cfg.Name, client, &s.cache, name, args)
}
