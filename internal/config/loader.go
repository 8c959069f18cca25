package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when
// no file exists. Environment variables with the COURSEDESK_ prefix
// override file values.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// COURSEDESK_MODELS_DEFAULT, COURSEDESK_GATEWAY_PORT, and so on.
	// Viper only consults the environment for keys it knows about, so
	// every scalar key gets a default bound before Unmarshal.
	v.SetEnvPrefix("COURSEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".coursedesk")
	}
	if cfg.KnowledgeDir == "" {
		cfg.KnowledgeDir = filepath.Join(cfg.DataDir, "knowledge")
	}
	if cfg.PromptDir == "" {
		cfg.PromptDir = filepath.Join(cfg.DataDir, "prompts")
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Sessions.ArchiveDB == "" {
		cfg.Sessions.ArchiveDB = filepath.Join(cfg.DataDir, "archive.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "coursedesk.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// bindDefaults registers every scalar config key with viper so that
// environment overrides resolve even when no config file exists.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("knowledge_dir", cfg.KnowledgeDir)
	v.SetDefault("prompt_dir", cfg.PromptDir)
	v.SetDefault("models.default", cfg.Models.Default)
	v.SetDefault("models.temperature", cfg.Models.Temperature)
	v.SetDefault("models.max_tokens", cfg.Models.MaxTokens)
	v.SetDefault("routing.enabled", cfg.Routing.Enabled)
	v.SetDefault("sessions.dir", cfg.Sessions.Dir)
	v.SetDefault("sessions.archive_db", cfg.Sessions.ArchiveDB)
	v.SetDefault("sessions.idle_timeout_minutes", cfg.Sessions.IdleTimeoutMinutes)
	v.SetDefault("sessions.retention_days", cfg.Sessions.RetentionDays)
	v.SetDefault("sessions.cleanup_schedule", cfg.Sessions.CleanupSchedule)
	v.SetDefault("gateway.enabled", cfg.Gateway.Enabled)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("knowledge_dir", cfg.KnowledgeDir)
	v.Set("prompt_dir", cfg.PromptDir)
	v.Set("models", cfg.Models)
	v.Set("agents", cfg.Agents)
	v.Set("ai", cfg.AI)
	v.Set("routing", cfg.Routing)
	v.Set("sessions", cfg.Sessions)
	v.Set("gateway", cfg.Gateway)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".coursedesk", "coursedesk.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
