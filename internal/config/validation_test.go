package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults_Pass(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_BadProviderKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Kind = "carrier-pigeon"

	err := cfg.Validate()
	assert.ErrorContains(t, err, "provider.kind")
}

func TestValidate_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Model = ""

	assert.ErrorContains(t, cfg.Validate(), "provider.model")
}

func TestValidate_RetryBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 0
	assert.ErrorContains(t, cfg.Validate(), "retry.max_attempts")

	cfg = DefaultConfig()
	cfg.Retry.MaxDelayMs = cfg.Retry.BaseDelayMs - 1
	assert.ErrorContains(t, cfg.Validate(), "retry.max_delay_ms")
}

func TestValidate_EngineBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxTurns = 0
	assert.ErrorContains(t, cfg.Validate(), "engine.max_turns")
}

func TestValidate_DuplicateServerNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []ServerConfig{
		{Name: "bank", Transport: TransportStdio},
		{Name: "bank", Transport: TransportHTTP},
	}
	assert.ErrorContains(t, cfg.Validate(), "duplicated")
}

func TestValidate_UnknownTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []ServerConfig{{Name: "bank", Transport: "carrier-pigeon"}}
	assert.ErrorContains(t, cfg.Validate(), "transport")
}
