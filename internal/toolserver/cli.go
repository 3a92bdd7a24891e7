package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"github.com/Cyclone1070/agentrig/internal/trace"
)

// CLIConfig wraps one command-line executable as a single synthetic tool.
type CLIConfig struct {
	Name string

	// ToolName is the synthetic tool's name; defaults to the base command.
	ToolName    string
	Description string

	// Command is the executable and its fixed leading arguments.
	Command []string
	Dir     string
	Env     []string

	// Timeout bounds one invocation. Zero means 60s.
	Timeout time.Duration

	Logger zerolog.Logger
}

// cliArgs is the synthetic tool's argument surface. Its JSON schema is
// derived by reflection and served as the tool's parameter schema.
type cliArgs struct {
	Args  []string `json:"args,omitempty" mapstructure:"args" jsonschema:"description=Additional command-line arguments appended to the configured command"`
	Stdin string   `json:"stdin,omitempty" mapstructure:"stdin" jsonschema:"description=Text piped to the command's standard input"`
}

// CLIServer exposes exactly one synthetic tool whose invocation is a direct,
// synchronous process spawn with a bounded timeout. There is no wire
// protocol and no long-lived process.
type CLIServer struct {
	cfg    CLIConfig
	log    zerolog.Logger
	schema trace.ToolSchema
}

// NewCLIServer creates the wrapper. The parameter schema is derived from the
// argument struct up front.
func NewCLIServer(cfg CLIConfig) (*CLIServer, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("cli server %s: command is required", cfg.Name)
	}
	toolName := cfg.ToolName
	if toolName == "" {
		parts := strings.Split(cfg.Command[0], "/")
		toolName = parts[len(parts)-1]
	}
	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("Runs the %s command", strings.Join(cfg.Command, " "))
	}

	params, err := reflectParameters(&cliArgs{})
	if err != nil {
		return nil, fmt.Errorf("cli server %s: %w", cfg.Name, err)
	}

	return &CLIServer{
		cfg: cfg,
		log: cfg.Logger.With().Str("server", cfg.Name).Logger(),
		schema: trace.ToolSchema{
			Name:        toolName,
			Description: description,
			Parameters:  params,
		},
	}, nil
}

// reflectParameters derives an inline JSON schema map from a Go struct.
func reflectParameters(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode parameter schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// Name identifies the server.
func (s *CLIServer) Name() string { return s.cfg.Name }

// Start is a no-op: there is no backing process to bring up.
func (s *CLIServer) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (s *CLIServer) Stop(ctx context.Context) error { return nil }

// Tools returns the single synthetic tool.
func (s *CLIServer) Tools(ctx context.Context) ([]trace.ToolSchema, error) {
	return []trace.ToolSchema{s.schema}, nil
}

// Call maps the tool arguments onto a process invocation and packages
// stdout, stderr, and the exit code as the outcome payload. A non-zero exit
// or a timeout is an error outcome fed back to the model, never a transport
// failure.
func (s *CLIServer) Call(ctx context.Context, name string, args map[string]any) (trace.ToolOutcome, error) {
	if name != s.schema.Name {
		return trace.ToolOutcome{}, &ToolCallError{Server: s.cfg.Name, Tool: name}
	}

	var parsed cliArgs
	if err := mapstructure.Decode(args, &parsed); err != nil {
		return trace.ToolOutcome{}, &ToolCallError{Server: s.cfg.Name, Tool: name}
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := append(append([]string{}, s.cfg.Command...), parsed.Args...)
	s.log.Debug().Strs("command", command).Msg("running cli tool")

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = s.cfg.Env
	if parsed.Stdin != "" {
		cmd.Stdin = strings.NewReader(parsed.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	status := trace.OutcomeSuccess
	if err != nil {
		status = trace.OutcomeError
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	payload := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if runCtx.Err() == context.DeadlineExceeded {
		payload["timed_out"] = true
	} else if err != nil && exitCode == -1 {
		payload["error"] = err.Error()
	}

	return trace.ToolOutcome{
		Status:  status,
		Payload: payload,
		Elapsed: elapsed,
	}, nil
}
