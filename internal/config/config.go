package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main coursedesk configuration
type Config struct {
	// Data directory, defaults to ~/.coursedesk
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Knowledge base documents served to the support agent
	KnowledgeDir string `json:"knowledge_dir" mapstructure:"knowledge_dir"`

	// Prompt override files, one <agent_id>.md per agent
	PromptDir string `json:"prompt_dir" mapstructure:"prompt_dir"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Per-agent overrides
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Routing
	Routing RoutingConfig `json:"routing" mapstructure:"routing"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ModelsConfig holds default model settings.
type ModelsConfig struct {
	Default     string  `json:"default" mapstructure:"default"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig overrides one agent's model behavior.
type AgentConfig struct {
	ID           string  `json:"id" mapstructure:"id"`
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider credential
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// RoutingConfig controls the deterministic intent router.
type RoutingConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// SessionsConfig holds session persistence settings.
type SessionsConfig struct {
	Dir                string `json:"dir" mapstructure:"dir"`
	ArchiveDB          string `json:"archive_db" mapstructure:"archive_db"`
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes" mapstructure:"idle_timeout_minutes"`
	RetentionDays      int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule    string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// GatewayConfig holds the WebSocket gateway settings.
type GatewayConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	Port           int      `json:"port" mapstructure:"port"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			Default:     "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Routing: RoutingConfig{
			Enabled: true,
		},
		Sessions: SessionsConfig{
			IdleTimeoutMinutes: 30,
			RetentionDays:      7,
			CleanupSchedule:    "0 3 * * *",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Port:    8099,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. An empty profile list
// is allowed: API keys can come from the environment instead.
func (c *Config) Validate() error {
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider != "openai" && profile.Provider != "anthropic" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: openai, anthropic)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent override %d: ID is required", i)
		}
	}

	if c.Gateway.Enabled && c.Gateway.Port <= 0 {
		return fmt.Errorf("gateway port must be positive when the gateway is enabled")
	}

	if c.Sessions.RetentionDays < 0 {
		return fmt.Errorf("sessions retention_days must be >= 0")
	}

	return nil
}
