package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{ID: "primary", Provider: "openai", APIKey: "sk-test", Priority: 1},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("should accept a config with one profile", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should accept an empty profile list", func(t *testing.T) {
		// API keys may come from the environment instead of profiles.
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "gemini"

		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject profiles without an API key", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].APIKey = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject agent overrides without an ID", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents = []AgentConfig{{Model: "gpt-4o"}}

		assert.Error(t, cfg.Validate())
	})

	t.Run("should require a port when the gateway is enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Enabled = true
		cfg.Gateway.Port = 0

		assert.Error(t, cfg.Validate())
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("should enable routing and redaction by default", func(t *testing.T) {
		cfg := DefaultConfig()

		assert.True(t, cfg.Routing.Enabled)
		assert.True(t, cfg.Logging.Redaction)
		assert.Equal(t, "gpt-4o-mini", cfg.Models.Default)
		assert.Equal(t, "0 3 * * *", cfg.Sessions.CleanupSchedule)
	})
}
