package config

import (
	"fmt"
)

var providerKinds = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
}

var transports = map[string]bool{
	TransportStdio: true,
	TransportHTTP:  true,
	TransportCLI:   true,
}

// Validate checks config values for correctness.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	var errs []string

	if !providerKinds[c.Provider.Kind] {
		errs = append(errs, fmt.Sprintf("provider.kind %q is not one of gemini, openai, anthropic", c.Provider.Kind))
	}
	if c.Provider.Model == "" {
		errs = append(errs, "provider.model must be set")
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelayMs < 1 {
		errs = append(errs, "retry.base_delay_ms must be >= 1")
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errs = append(errs, "retry.max_delay_ms must be >= retry.base_delay_ms")
	}

	if c.Engine.MaxTurns < 1 {
		errs = append(errs, "engine.max_turns must be >= 1")
	}
	if c.Engine.ToolCallTimeoutS < 1 {
		errs = append(errs, "engine.tool_call_timeout_s must be >= 1")
	}
	if c.Engine.ServerGraceMs < 1 {
		errs = append(errs, "engine.server_grace_ms must be >= 1")
	}
	if c.Engine.ReadyTimeoutS < 1 {
		errs = append(errs, "engine.ready_timeout_s must be >= 1")
	}

	seen := map[string]bool{}
	for i, server := range c.Servers {
		if server.Name == "" {
			errs = append(errs, fmt.Sprintf("servers[%d].name must be set", i))
		} else if seen[server.Name] {
			errs = append(errs, fmt.Sprintf("servers[%d].name %q is duplicated", i, server.Name))
		}
		seen[server.Name] = true

		if !transports[server.Transport] {
			errs = append(errs, fmt.Sprintf("servers[%d].transport %q is not one of stdio, http, cli", i, server.Transport))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
