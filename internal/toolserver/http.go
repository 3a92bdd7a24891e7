package toolserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cyclone1070/agentrig/internal/mcp"
	"github.com/Cyclone1070/agentrig/internal/proc"
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// HTTPConfig configures a streamable-HTTP tool server. When Command is set
// the server also manages a backing process for the endpoint; otherwise it
// attaches to a pre-existing one.
type HTTPConfig struct {
	Name string
	URL  string

	// Command, when non-empty, is a managed backing process to spawn before
	// connecting.
	Command []string
	Dir     string
	Env     []string

	Wait proc.WaitStrategy

	// CallTimeout bounds each individual HTTP exchange. Zero means 60s.
	CallTimeout time.Duration

	Grace   time.Duration
	Factory proc.Factory

	// Client overrides the HTTP client, for tests.
	Client *http.Client

	Logger zerolog.Logger
}

// HTTPServer speaks the protocol's streamable HTTP variant against a remote
// or locally managed endpoint.
type HTTPServer struct {
	cfg HTTPConfig
	log zerolog.Logger

	// startMu is held across the whole connect-and-ready sequence so
	// concurrent Start calls on a shared instance never spawn twice.
	startMu sync.Mutex

	mu      sync.Mutex
	sp      *proc.ServerProcess // nil when attaching to an existing endpoint
	client  *mcp.HTTPClient
	started bool

	cache toolCache
}

// NewHTTPServer creates an unstarted HTTP server.
func NewHTTPServer(cfg HTTPConfig) *HTTPServer {
	return &HTTPServer{
		cfg: cfg,
		log: cfg.Logger.With().Str("server", cfg.Name).Logger(),
	}
}

// Name identifies the server.
func (s *HTTPServer) Name() string { return s.cfg.Name }

// Start spawns the backing process if one is configured, then performs the
// handshake over the connection and waits for readiness. Idempotent once
// ready.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	httpClient := s.cfg.Client
	if httpClient == nil {
		timeout := s.cfg.CallTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	client := mcp.NewHTTPClient(s.cfg.URL, httpClient, s.log)

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

	if len(s.cfg.Command) > 0 {
		sp := proc.NewServerProcess(s.cfg.Name, proc.Config{
			Command: s.cfg.Command,
			Dir:     s.cfg.Dir,
			Env:     s.cfg.Env,
			Grace:   s.cfg.Grace,
			Factory: s.cfg.Factory,
			Logger:  s.cfg.Logger,
		})
		if err := sp.Start(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.sp = sp
		s.mu.Unlock()

		if err := sp.AwaitReady(ctx, s.cfg.Wait, handshake, listNames); err != nil {
			return err
		}
	} else {
		// No process to watch; apply the wait strategy against the endpoint
		// alone.
		if err := awaitEndpoint(ctx, s.cfg.Name, s.cfg.Wait, handshake, listNames); err != nil {
			return err
		}
	}

	result, err := client.ListTools(ctx)
	if err != nil {
		_ = s.Stop(ctx)
		return &proc.ServerStartError{
			Server: s.cfg.Name,
			Kind:   proc.StartErrorHandshake,
			Err:    err,
		}
	}
	s.cache.set(result)

	s.mu.Lock()
	s.client = client
	s.started = true
	s.mu.Unlock()
	return nil
}

// awaitEndpoint applies a wait strategy to an endpoint with no managed
// process: the handshake is retried until it succeeds or the strategy's
// timeout expires, then the readiness predicate is applied.
func awaitEndpoint(
	ctx context.Context,
	server string,
	ws proc.WaitStrategy,
	handshake func(ctx context.Context) error,
	listNames func(ctx context.Context) ([]string, error),
) error {
	if ws.Timeout <= 0 {
		ws.Timeout = 30 * time.Second
	}
	poll := ws.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, ws.Timeout)
	defer cancel()

	var lastErr error
	for {
		if lastErr = handshake(waitCtx); lastErr == nil {
			break
		}
		select {
		case <-waitCtx.Done():
			return &proc.ServerStartError{
				Server: server,
				Kind:   proc.StartErrorTimeout,
				Err:    lastErr,
			}
		case <-time.After(poll):
		}
	}

	switch ws.Kind {
	case proc.WaitForTools:
		for {
			names, err := listNames(waitCtx)
			if err == nil && containsAll(names, ws.Tools) {
				return nil
			}
			select {
			case <-waitCtx.Done():
				return &proc.ServerStartError{
					Server: server,
					Kind:   proc.StartErrorTimeout,
					Err:    waitCtx.Err(),
				}
			case <-time.After(poll):
			}
		}
	case proc.WaitFixedDelay:
		select {
		case <-waitCtx.Done():
			return &proc.ServerStartError{Server: server, Kind: proc.StartErrorTimeout, Err: waitCtx.Err()}
		case <-time.After(ws.Delay):
			return nil
		}
	default:
		return nil
	}
}

func containsAll(listed, wanted []string) bool {
	have := make(map[string]bool, len(listed))
	for _, name := range listed {
		have[name] = true
	}
	for _, name := range wanted {
		if !have[name] {
			return false
		}
	}
	return true
}

// Stop tears down the managed backing process, if any.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	sp := s.sp
	s.started = false
	s.client = nil
	s.mu.Unlock()

	if sp != nil {
		return sp.Stop(ctx)
	}
	return nil
}

// Tools returns the cached schema list.
func (s *HTTPServer) Tools(ctx context.Context) ([]trace.ToolSchema, error) {
	return s.cache.list(), nil
}

// Call dispatches one tool call over HTTP.
func (s *HTTPServer) Call(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return trace.ToolOutcome{}, &CallFailure{Server: s.cfg.Name, Tool: name, Err: errNotStarted}
	}
	return callThrough(ctx, s.cfg.Name, client, &s.cache, name, args)
}
