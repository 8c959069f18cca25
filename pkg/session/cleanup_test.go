package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCleanup(t *testing.T) {
	t.Run("should require an archiver", func(t *testing.T) {
		_, err := NewCleanup(CleanupConfig{})
		assert.Error(t, err)
	})

	t.Run("should apply default retention and schedule", func(t *testing.T) {
		_, archiver := setupTestArchiver(t, time.Hour)

		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver})
		require.NoError(t, err)
		assert.Equal(t, DefaultRetention, cleanup.retention)
		assert.Equal(t, DefaultCleanupSchedule, cleanup.schedule)
	})
}

func TestCleanupRun(t *testing.T) {
	t.Run("should purge nothing inside the retention window", func(t *testing.T) {
		sm, archiver := setupTestArchiver(t, time.Hour)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
		require.NoError(t, archiver.Archive("chat-1"))

		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver, Retention: time.Hour})
		require.NoError(t, err)

		removed, err := cleanup.Run()
		require.NoError(t, err)
		assert.Zero(t, removed)

		messages, err := archiver.LoadArchived("chat-1")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("should purge messages older than the retention window", func(t *testing.T) {
		sm, archiver := setupTestArchiver(t, time.Hour)

		require.NoError(t, sm.AppendMessage("chat-1", Message{Role: "user", Content: "hello"}))
		require.NoError(t, archiver.Archive("chat-1"))

		// Negative retention puts the cutoff in the future.
		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver, Retention: -time.Hour})
		require.NoError(t, err)

		removed, err := cleanup.Run()
		require.NoError(t, err)
		assert.EqualValues(t, 1, removed)
	})
}

func TestCleanupStart(t *testing.T) {
	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, archiver := setupTestArchiver(t, time.Hour)

		cleanup, err := NewCleanup(CleanupConfig{Archiver: archiver, Schedule: "not a cron expr"})
		require.NoError(t, err)

		assert.Error(t, cleanup.Start())
	})
}
