package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestArchiver(t *testing.T, idleTimeout time.Duration) (*Manager, *Archiver) {
	t.Helper()

	dir := t.TempDir()
	sm, err := NewManager(filepath.Join(dir, "sessions"))
	require.NoError(t, err)

	archiver, err := NewArchiver(ArchiverConfig{
		Manager:     sm,
		DBPath:      filepath.Join(dir, "archive.db"),
		IdleTimeout: idleTimeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { archiver.Close() })

	return sm, archiver
}

func TestNewArchiver(t *testing.T) {
	t.Run("should require a manager and db path", func(t *testing.T) {
		_, err := NewArchiver(ArchiverConfig{DBPath: "x.db"})
		assert.Error(t, err)

		sm := setupTestManager(t)
		_, err = NewArchiver(ArchiverConfig{Manager: sm})
		assert.Error(t, err)
	})
}

func TestArchive(t *testing.T) {
	t.Run("should move the transcript into sqlite", func(t *testing.T) {
		sm, archiver := setupTestArchiver(t, time.Hour)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "assistant", Content: "hi"}))

		require.NoError(t, archiver.Archive("chat-1"))

		// JSONL must be gone.
		sessions, err := sm.ListSessions()
		require.NoError(t, err)
		assert.Empty(t, sessions)

		// Archive must hold the transcript in order.
		messages, err := archiver.LoadArchived("chat-1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "hello", messages[0].Content)
		assert.Equal(t, "assistant", messages[1].Role)
	})
}

func TestArchiveIdleSessions(t *testing.T) {
	t.Run("should only archive sessions past the idle timeout", func(t *testing.T) {
		sm, archiver := setupTestArchiver(t, time.Hour)

		require.NoError(t, sm.AppendMessage("idle", Message{Role: "user", Content: "old"}))
		require.NoError(t, sm.AppendMessage("fresh", Message{Role: "user", Content: "new"}))

		// Age the idle session's file.
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(sm.sessionPath("idle"), old, old))

		archived, err := archiver.ArchiveIdleSessions()
		require.NoError(t, err)
		assert.Equal(t, 1, archived)

		sessions, err := sm.ListSessions()
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, sessions)
	})
}

func TestPurgeOlderThan(t *testing.T) {
	sm, archiver := setupTestArchiver(t, time.Hour)

	require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
	require.NoError(t, archiver.Archive("chat-1"))

	count, err := archiver.CountArchived()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Cutoff in the past removes nothing.
	removed, err := archiver.PurgeOlderThan(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Cutoff in the future removes the archived row.
	removed, err = archiver.PurgeOlderThan(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	count, err = archiver.CountArchived()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCleanup(t *testing.T) {
	t.Run("should require an archiver", func(t *testing.T) {
		_, err := NewCleanup(CleanupConfig{})
		assert.Error(t, err)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, archiver := setupTestArchiver(t, time.Hour)

		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver, Schedule: "not a cron expr"})
		require.NoError(t, err)
		assert.Error(t, cleanup.Start())
	})

	t.Run("should purge past-retention messages on run", func(t *testing.T) {
		sm, archiver := setupTestArchiver(t, time.Hour)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
		require.NoError(t, archiver.Archive("chat-1"))

		// Zero-ish retention: everything archived before now is purged.
		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver, Retention: time.Nanosecond})
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		removed, err := cleanup.Run()
		require.NoError(t, err)
		assert.EqualValues(t, 1, removed)
	})
}
