package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a server process.
type State string

const (
	StateIdle            State = "idle"
	StateStarting        State = "starting"
	StateWaitingForReady State = "waiting_for_ready"
	StateReady           State = "ready"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"

	// StateFailed is absorbing: reached from Starting or WaitingForReady on
	// timeout or process exit.
	StateFailed State = "failed"
)

const stderrTailLimit = 8 * 1024

// Config configures a ServerProcess.
type Config struct {
	Command []string
	Dir     string
	Env     []string

	// Grace is how long a graceful termination may take before the process
	// is force-killed. Zero means 5 seconds.
	Grace time.Duration

	// Factory spawns the process; nil means the real os/exec factory.
	Factory Factory

	Logger zerolog.Logger
}

// ServerProcess owns one tool-server backing process through its whole
// lifecycle. Every ServerProcess has exactly one owner, which must call Stop
// on all exit paths; Stop is idempotent and never leaves the child running.
type ServerProcess struct {
	name    string
	command []string
	opts    Options
	grace   time.Duration
	factory Factory
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	proc    Process
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  *tailBuffer
	exited  chan struct{}
	exitErr error
}

// NewServerProcess creates an unstarted ServerProcess.
func NewServerProcess(name string, cfg Config) *ServerProcess {
	factory := cfg.Factory
	if factory == nil {
		factory = OSFactory{}
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &ServerProcess{
		name:    name,
		command: cfg.Command,
		opts:    Options{Dir: cfg.Dir, Env: cfg.Env},
		grace:   grace,
		factory: factory,
		log:     cfg.Logger.With().Str("server", name).Logger(),
		state:   StateIdle,
		stderr:  newTailBuffer(stderrTailLimit),
	}
}

// State returns the current lifecycle state.
func (sp *ServerProcess) State() State {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.state
}

// Stdin returns the child's stdin writer. Valid after Start.
func (sp *ServerProcess) Stdin() io.WriteCloser {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.stdin
}

// Stdout returns the child's stdout reader. Valid after Start.
func (sp *ServerProcess) Stdout() io.Reader {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.stdout
}

// StderrTail returns the retained tail of the child's stderr.
func (sp *ServerProcess) StderrTail() string {
	return sp.stderr.String()
}

// Exited is closed when the child exits, however that happens.
func (sp *ServerProcess) Exited() <-chan struct{} {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.exited
}

// Start spawns the process and begins draining stderr. On success the state
// is WaitingForReady; readiness itself is established by AwaitReady.
func (sp *ServerProcess) Start(ctx context.Context) error {
	sp.mu.Lock()
	if sp.state != StateIdle {
		state := sp.state
		sp.mu.Unlock()
		return fmt.Errorf("server %s: start from state %s", sp.name, state)
	}
	sp.state = StateStarting
	sp.mu.Unlock()

	sp.log.Info().Strs("command", sp.command).Msg("starting server process")

	proc, stdin, stdout, stderr, err := sp.factory.Start(ctx, sp.command, sp.opts)
	if err != nil {
		sp.mu.Lock()
		sp.state = StateFailed
		sp.mu.Unlock()
		return &ServerStartError{Server: sp.name, Kind: StartErrorSpawn, Err: err}
	}

	exited := make(chan struct{})
	sp.mu.Lock()
	sp.proc = proc
	sp.stdin = stdin
	sp.stdout = stdout
	sp.exited = exited
	sp.state = StateWaitingForReady
	sp.mu.Unlock()

	go sp.stderr.drain(stderr)
	go func() {
		err := proc.Wait()
		sp.mu.Lock()
		sp.exitErr = err
		sp.mu.Unlock()
		close(exited)
	}()

	return nil
}

// AwaitReady blocks until the wait strategy is satisfied, the process exits,
// or the strategy's timeout expires. handshake performs the protocol
// initialization exchange; listTools fetches the current tool names and is
// only used by the tools strategy.
func (sp *ServerProcess) AwaitReady(
	ctx context.Context,
	ws WaitStrategy,
	handshake func(ctx context.Context) error,
	listTools func(ctx context.Context) ([]string, error),
) error {
	ws = ws.normalized()

	waitCtx, cancel := context.WithTimeout(ctx, ws.Timeout)
	defer cancel()

	if err := sp.awaitReady(waitCtx, ws, handshake, listTools); err != nil {
		sp.fail()
		return err
	}

	sp.mu.Lock()
	sp.state = StateReady
	sp.mu.Unlock()
	sp.log.Info().Str("strategy", string(ws.Kind)).Msg("server ready")
	return nil
}

func (sp *ServerProcess) awaitReady(
	ctx context.Context,
	ws WaitStrategy,
	handshake func(ctx context.Context) error,
	listTools func(ctx context.Context) ([]string, error),
) error {
	exited := sp.Exited()

	// The handshake runs for every strategy; it is the baseline signal that
	// the server speaks the protocol at all.
	hsDone := make(chan error, 1)
	go func() { hsDone <- handshake(ctx) }()

	select {
	case <-exited:
		return sp.startError(StartErrorExited, sp.exitReason())
	case <-ctx.Done():
		return sp.startError(StartErrorTimeout, fmt.Errorf("handshake: %w", ctx.Err()))
	case err := <-hsDone:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return sp.startError(StartErrorTimeout, err)
			}
			return sp.startError(StartErrorHandshake, err)
		}
	}

	switch ws.Kind {
	case WaitHandshake:
		return nil

	case WaitFixedDelay:
		timer := time.NewTimer(ws.Delay)
		defer timer.Stop()
		select {
		case <-exited:
			return sp.startError(StartErrorExited, sp.exitReason())
		case <-ctx.Done():
			return sp.startError(StartErrorTimeout, ctx.Err())
		case <-timer.C:
			return nil
		}

	case WaitForTools:
		ticker := time.NewTicker(ws.PollInterval)
		defer ticker.Stop()
		for {
			names, err := listTools(ctx)
			if err == nil && containsAll(names, ws.Tools) {
				return nil
			}
			select {
			case <-exited:
				return sp.startError(StartErrorExited, sp.exitReason())
			case <-ctx.Done():
				return sp.startError(StartErrorTimeout,
					fmt.Errorf("tools %v never all listed: %w", ws.Tools, ctx.Err()))
			case <-ticker.C:
			}
		}

	default:
		return sp.startError(StartErrorHandshake, fmt.Errorf("unknown wait strategy %q", ws.Kind))
	}
}

func (sp *ServerProcess) startError(kind StartErrorKind, err error) *ServerStartError {
	return &ServerStartError{
		Server: sp.name,
		Kind:   kind,
		Stderr: sp.StderrTail(),
		Err:    err,
	}
}

func (sp *ServerProcess) exitReason() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.exitErr != nil {
		return sp.exitErr
	}
	return errors.New("process exited before readiness")
}

func (sp *ServerProcess) fail() {
	sp.mu.Lock()
	sp.state = StateFailed
	proc := sp.proc
	sp.mu.Unlock()
	if proc != nil {
		_ = proc.Kill()
	}
}

// Stop tears the process down: close stdin, graceful termination signal,
// bounded grace period, then a forced kill. It always waits for the process
// to be gone before returning, so no orphan is ever left running.
func (sp *ServerProcess) Stop(ctx context.Context) error {
	sp.mu.Lock()
	switch sp.state {
	case StateIdle, StateStopped:
		sp.mu.Unlock()
		return nil
	case StateFailed:
		proc := sp.proc
		exited := sp.exited
		sp.mu.Unlock()
		if proc != nil {
			_ = proc.Kill()
			if exited != nil {
				<-exited
			}
		}
		return nil
	}
	sp.state = StateStopping
	proc := sp.proc
	stdin := sp.stdin
	exited := sp.exited
	sp.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if proc != nil {
		_ = proc.Signal(syscall.SIGTERM)

		timer := time.NewTimer(sp.grace)
		defer timer.Stop()
		select {
		case <-exited:
		case <-timer.C:
			sp.log.Warn().Dur("grace", sp.grace).Msg("grace period expired, killing server process")
			_ = proc.Kill()
			<-exited
		}
	}

	sp.mu.Lock()
	sp.state = StateStopped
	sp.mu.Unlock()
	sp.log.Info().Msg("server process stopped")
	return nil
}
