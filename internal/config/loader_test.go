package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	t.Run("should return defaults when no file exists", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "coursedesk.json"))

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", cfg.Models.Default)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Sessions.Dir)
	})

	t.Run("should load values from a JSON file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		content := `{
			"data_dir": "/tmp/coursedesk-test",
			"models": {"default": "gpt-4o", "temperature": 0.2},
			"ai": {"profiles": [{"id": "main", "provider": "openai", "api_key": "sk-x", "priority": 1}]}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.Models.Default)
		assert.InDelta(t, 0.2, cfg.Models.Temperature, 0.001)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "main", cfg.AI.Profiles[0].ID)
		assert.Equal(t, "/tmp/coursedesk-test", cfg.DataDir)
	})

	t.Run("should derive paths from the data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "/data/cd"}`), 0o600))

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/data/cd", "knowledge"), cfg.KnowledgeDir)
		assert.Equal(t, filepath.Join("/data/cd", "sessions"), cfg.Sessions.Dir)
		assert.Equal(t, filepath.Join("/data/cd", "archive.db"), cfg.Sessions.ArchiveDB)
		assert.Equal(t, filepath.Join("/data/cd", "coursedesk.log"), cfg.Logging.File)
	})

	t.Run("should apply COURSEDESK_ env overrides without a file", func(t *testing.T) {
		t.Setenv("COURSEDESK_MODELS_DEFAULT", "gpt-4o")
		t.Setenv("COURSEDESK_GATEWAY_PORT", "9001")
		t.Setenv("COURSEDESK_LOGGING_LEVEL", "debug")

		cfg, err := Load(filepath.Join(t.TempDir(), "coursedesk.json"))

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.Models.Default)
		assert.Equal(t, 9001, cfg.Gateway.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("should let env overrides win over file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"models": {"default": "gpt-4o-mini"}}`), 0o600))
		t.Setenv("COURSEDESK_MODELS_DEFAULT", "gpt-4o")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.Models.Default)
	})

	t.Run("should reject invalid profiles at load time", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		content := `{"ai": {"profiles": [{"id": "main", "provider": "gemini", "api_key": "k"}]}}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

		_, err := Load(path)

		assert.Error(t, err)
	})

	t.Run("should round-trip through Save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coursedesk.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.DataDir = "/data/cd"
		cfg.Models.Default = "gpt-4o"
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", loaded.Models.Default)
		require.Len(t, loaded.AI.Profiles, 1)
		assert.Equal(t, "primary", loaded.AI.Profiles[0].ID)
	})
}
