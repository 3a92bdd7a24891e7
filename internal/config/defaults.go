package config

import (
	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// Config holds all application configuration values.
// Defaults are set in DefaultConfig() and can be overridden via dotfile.
// NOTE: Values in config files override defaults, including explicit zero values.
// Missing keys are left at their default values.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Retry    RetryConfig    `yaml:"retry"`
	Engine   EngineConfig   `yaml:"engine"`
	Servers  []ServerConfig `yaml:"servers"`
}

type ProviderConfig struct {
	// Kind selects the backing API: "gemini", "openai" or "anthropic".
	Kind string `yaml:"kind"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Optional generation parameters. Unset values defer to the
	// provider's own defaults.
	Temperature   *float32 `yaml:"temperature"`
	TopP          *float32 `yaml:"top_p"`
	MaxTokens     *int     `yaml:"max_tokens"`
	StopSequences []string `yaml:"stop_sequences"`
}

// GenerateConfig converts the configured generation parameters, or nil when
// none are set.
func (p ProviderConfig) GenerateConfig() *models.GenerateConfig {
	if p.Temperature == nil && p.TopP == nil && p.MaxTokens == nil && len(p.StopSequences) == 0 {
		return nil
	}
	return &models.GenerateConfig{
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		MaxTokens:     p.MaxTokens,
		StopSequences: p.StopSequences,
	}
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // Default: 3
	BaseDelayMs int `yaml:"base_delay_ms"` // Default: 500
	MaxDelayMs  int `yaml:"max_delay_ms"`  // Default: 30000
}

type EngineConfig struct {
	MaxTurns          int    `yaml:"max_turns"`            // Default: 20
	ToolCallTimeoutS  int    `yaml:"tool_call_timeout_s"`  // Default: 120
	SystemPrompt      string `yaml:"system_prompt"`
	ServerGraceMs     int    `yaml:"server_grace_ms"`      // Default: 5000
	ReadyTimeoutS     int    `yaml:"ready_timeout_s"`      // Default: 30
}

// ServerConfig describes one tool server attachment. Options carries
// transport-specific settings decoded per ServerConfig.Transport.
type ServerConfig struct {
	Name      string         `yaml:"name"`
	Transport string         `yaml:"transport"` // "stdio", "http" or "cli"
	Options   map[string]any `yaml:"options"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:      "gemini",
			Model:     "gemini-2.5-flash",
			APIKeyEnv: "GEMINI_API_KEY",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500,
			MaxDelayMs:  30000,
		},
		Engine: EngineConfig{
			MaxTurns:         20,
			ToolCallTimeoutS: 120,
			ServerGraceMs:    5000,
			ReadyTimeoutS:    30,
		},
	}
}
