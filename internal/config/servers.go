package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Cyclone1070/agentrig/internal/proc"
)

// Transport names accepted in ServerConfig.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportCLI   = "cli"
)

// StdioOptions configures a stdio tool server.
type StdioOptions struct {
	Command []string    `mapstructure:"command"`
	Dir     string      `mapstructure:"dir"`
	Env     []string    `mapstructure:"env"`
	Wait    WaitOptions `mapstructure:"wait"`
}

// HTTPOptions configures an HTTP tool server. Command is optional; when set
// the process is spawned and managed alongside the connection.
type HTTPOptions struct {
	URL          string      `mapstructure:"url"`
	Command      []string    `mapstructure:"command"`
	Dir          string      `mapstructure:"dir"`
	Env          []string    `mapstructure:"env"`
	CallTimeoutS int         `mapstructure:"call_timeout_s"`
	Wait         WaitOptions `mapstructure:"wait"`
}

// CLIOptions configures a CLI wrapper tool server.
type CLIOptions struct {
	Command     []string `mapstructure:"command"`
	Description string   `mapstructure:"description"`
	Dir         string   `mapstructure:"dir"`
	Env         []string `mapstructure:"env"`
	TimeoutS    int      `mapstructure:"timeout_s"`
}

// WaitOptions selects the readiness strategy for a managed server process.
type WaitOptions struct {
	Strategy string   `mapstructure:"strategy"` // "handshake", "tools" or "delay"
	Tools    []string `mapstructure:"tools"`
	DelayMs  int      `mapstructure:"delay_ms"`
	TimeoutS int      `mapstructure:"timeout_s"`
}

// WaitStrategy converts the options to a proc wait strategy. Unset fields
// fall back to the handshake default.
func (w WaitOptions) WaitStrategy() proc.WaitStrategy {
	ws := proc.DefaultWait()
	switch w.Strategy {
	case "tools":
		ws.Kind = proc.WaitForTools
		ws.Tools = w.Tools
	case "delay":
		ws.Kind = proc.WaitFixedDelay
		ws.Delay = time.Duration(w.DelayMs) * time.Millisecond
	}
	if w.TimeoutS > 0 {
		ws.Timeout = time.Duration(w.TimeoutS) * time.Second
	}
	return ws
}

// DecodeStdio decodes the transport options for a stdio server.
func (sc ServerConfig) DecodeStdio() (*StdioOptions, error) {
	var opts StdioOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("server %q: stdio transport requires a command", sc.Name)
	}
	return &opts, nil
}

// DecodeHTTP decodes the transport options for an HTTP server.
func (sc ServerConfig) DecodeHTTP() (*HTTPOptions, error) {
	var opts HTTPOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("server %q: http transport requires a url", sc.Name)
	}
	return &opts, nil
}

// DecodeCLI decodes the transport options for a CLI wrapper server.
func (sc ServerConfig) DecodeCLI() (*CLIOptions, error) {
	var opts CLIOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("server %q: cli transport requires a command", sc.Name)
	}
	return &opts, nil
}

func decodeOptions(sc ServerConfig, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(sc.Options); err != nil {
		return fmt.Errorf("server %q: invalid %s options: %w", sc.Name, sc.Transport, err)
	}
	return nil
}
