package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	sm, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return sm
}

func TestNewManager(t *testing.T) {
	t.Run("should create the sessions directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "sessions")
		_, err := NewManager(dir)
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestValidateSessionKey(t *testing.T) {
	sm := setupTestManager(t)

	assert.Error(t, sm.AppendMessage("", Message{Role: "user", Content: "x"}))
	assert.Error(t, sm.AppendMessage("../escape", Message{Role: "user", Content: "x"}))
	assert.Error(t, sm.AppendMessage("a/b", Message{Role: "user", Content: "x"}))
	assert.Error(t, sm.AppendMessage("a\\b", Message{Role: "user", Content: "x"}))
	assert.Error(t, sm.AppendMessage("a\x00b", Message{Role: "user", Content: "x"}))
}

func TestAppendAndLoad(t *testing.T) {
	t.Run("should round-trip messages", func(t *testing.T) {
		sm := setupTestManager(t)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "assistant", Content: "hi!"}))

		entries, err := sm.LoadSession("chat-1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "user", entries[0].Message.Role)
		assert.Equal(t, "hi!", entries[1].Message.Content)
		assert.False(t, entries[0].Message.Timestamp.IsZero())
	})

	t.Run("should reject messages missing role or content", func(t *testing.T) {
		sm := setupTestManager(t)
		assert.Error(t, sm.AppendMessage("chat-1", Message{Content: "x"}))
		assert.Error(t, sm.AppendMessage("chat-1", Message{Role: "user"}))
	})

	t.Run("should return empty for unknown sessions", func(t *testing.T) {
		sm := setupTestManager(t)
		entries, err := sm.LoadSession("missing")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should skip malformed lines", func(t *testing.T) {
		dir := t.TempDir()
		sm, err := NewManager(dir)
		require.NoError(t, err)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "valid"}))

		f, err := os.OpenFile(filepath.Join(dir, "chat-1.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("not json\n{\"sessionKey\":\"chat-1\",\"message\":{\"role\":\"\",\"content\":\"no role\"}}\n")
		require.NoError(t, err)
		f.Close()

		entries, err := sm.LoadSession("chat-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "valid", entries[0].Message.Content)
	})
}

func TestDeleteSession(t *testing.T) {
	sm := setupTestManager(t)
	require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "x"}))

	require.NoError(t, sm.DeleteSession("chat-1"))

	entries, err := sm.LoadSession("chat-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting a missing session is not an error.
	assert.NoError(t, sm.DeleteSession("chat-1"))
}

func TestListSessions(t *testing.T) {
	sm := setupTestManager(t)
	require.NoError(t, sm.AppendMessage("alpha", Message{Role: "user", Content: "x"}))
	require.NoError(t, sm.AppendMessage("beta", Message{Role: "user", Content: "y"}))

	sessions, err := sm.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, sessions)
}

func TestLastActivity(t *testing.T) {
	sm := setupTestManager(t)
	require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "x"}))

	activity, err := sm.LastActivity("chat-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), activity, time.Minute)

	_, err = sm.LastActivity("missing")
	assert.Error(t, err)
}
