// Package main provides the agentrig command: it runs one prompt through
// the conversation engine against configured tool servers and prints the
// final answer, optionally persisting the session for later continuation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/Cyclone1070/agentrig/internal/config"
	"github.com/Cyclone1070/agentrig/internal/engine"
	"github.com/Cyclone1070/agentrig/internal/provider"
	"github.com/Cyclone1070/agentrig/internal/provider/anthropic"
	"github.com/Cyclone1070/agentrig/internal/provider/gemini"
	"github.com/Cyclone1070/agentrig/internal/proc"
	"github.com/Cyclone1070/agentrig/internal/provider/openai"
	"github.com/Cyclone1070/agentrig/internal/retry"
	"github.com/Cyclone1070/agentrig/internal/session"
	"github.com/Cyclone1070/agentrig/internal/toolserver"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.config/agentrig/config.yaml)")
		sessionPath = flag.String("session", "", "load a saved session and continue it")
		savePath    = flag.String("save", "", "write the resulting session to this file")
		flow        = flag.String("flow", "default", "logical conversation name recorded in the session")
		maxTurns    = flag.Int("max-turns", 0, "override the model invocation limit")
		jsonOut     = flag.Bool("json", false, "print the full run trace as JSON instead of the final answer")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentrig [flags] <prompt>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	prompt := strings.Join(flag.Args(), " ")

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	if err := run(prompt, *configPath, *sessionPath, *savePath, *flow, *maxTurns, *jsonOut, log); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(prompt, configPath, sessionPath, savePath, flow string, maxTurns int, jsonOut bool, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader()
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = loader.LoadPath(configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	prov, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	servers, err := buildServers(cfg, log)
	if err != nil {
		return err
	}
	defer stopServers(servers, log)

	var prior *session.Session
	if sessionPath != "" {
		prior, err = loadSession(sessionPath)
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
	}

	if maxTurns <= 0 {
		maxTurns = cfg.Engine.MaxTurns
	}

	controller := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}, log)

	runner := engine.New(prov, controller, engine.Options{Logger: log})
	result, sess := runner.Run(ctx, engine.Request{
		Prompt:          prompt,
		System:          cfg.Engine.SystemPrompt,
		Servers:         servers,
		Session:         prior,
		Flow:            flow,
		MaxTurns:        maxTurns,
		Config:          cfg.Provider.GenerateConfig(),
		ToolCallTimeout: time.Duration(cfg.Engine.ToolCallTimeoutS) * time.Second,
	})

	if savePath != "" {
		if err := saveSession(savePath, sess); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
	}

	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(data))
		if !result.Success() {
			return result.Failure()
		}
		return nil
	}

	if !result.Success() {
		failure := result.Failure()
		return fmt.Errorf("conversation failed (%s): %s", failure.Kind, failure.Message)
	}

	fmt.Println(result.FinalText())
	return nil
}

func buildProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Provider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable is required", cfg.APIKeyEnv)
	}

	switch cfg.Kind {
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("creating Gemini client: %w", err)
		}
		return gemini.New(gemini.NewRealGeminiClient(client), cfg.Model), nil
	case "openai":
		return openai.NewOpenAIProvider(apiKey, cfg.Model), nil
	case "anthropic":
		return anthropic.NewAnthropicProvider(apiKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func buildServers(cfg *config.Config, log zerolog.Logger) ([]toolserver.Server, error) {
	grace := time.Duration(cfg.Engine.ServerGraceMs) * time.Millisecond
	readyTimeout := time.Duration(cfg.Engine.ReadyTimeoutS) * time.Second

	// Per-server timeout_s wins; otherwise the engine-wide readiness
	// timeout applies.
	wait := func(w config.WaitOptions) proc.WaitStrategy {
		ws := w.WaitStrategy()
		if w.TimeoutS <= 0 && readyTimeout > 0 {
			ws.Timeout = readyTimeout
		}
		return ws
	}

	servers := make([]toolserver.Server, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		switch sc.Transport {
		case config.TransportStdio:
			opts, err := sc.DecodeStdio()
			if err != nil {
				return nil, err
			}
			servers = append(servers, toolserver.NewStdioServer(toolserver.StdioConfig{
				Name:    sc.Name,
				Command: opts.Command,
				Dir:     opts.Dir,
				Env:     opts.Env,
				Wait:    wait(opts.Wait),
				Grace:   grace,
				Logger:  log,
			}))

		case config.TransportHTTP:
			opts, err := sc.DecodeHTTP()
			if err != nil {
				return nil, err
			}
			servers = append(servers, toolserver.NewHTTPServer(toolserver.HTTPConfig{
				Name:        sc.Name,
				URL:         opts.URL,
				Command:     opts.Command,
				Dir:         opts.Dir,
				Env:         opts.Env,
				Wait:        wait(opts.Wait),
				CallTimeout: time.Duration(opts.CallTimeoutS) * time.Second,
				Grace:       grace,
				Logger:      log,
			}))

		case config.TransportCLI:
			opts, err := sc.DecodeCLI()
			if err != nil {
				return nil, err
			}
			server, err := toolserver.NewCLIServer(toolserver.CLIConfig{
				Name:        sc.Name,
				Description: opts.Description,
				Command:     opts.Command,
				Dir:         opts.Dir,
				Env:         opts.Env,
				Timeout:     time.Duration(opts.TimeoutS) * time.Second,
				Logger:      log,
			})
			if err != nil {
				return nil, err
			}
			servers = append(servers, server)

		default:
			return nil, fmt.Errorf("server %q: unknown transport %q", sc.Name, sc.Transport)
		}
	}
	return servers, nil
}

func stopServers(servers []toolserver.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Stop(ctx); err != nil {
			log.Warn().Err(err).Str("server", server.Name()).Msg("server shutdown failed")
		}
	}
}

func loadSession(path string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func saveSession(path string, sess *session.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
