package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	archiveScanInterval = 5 * time.Minute
)

// Archiver moves idle session transcripts into a SQLite archive.
type Archiver struct {
	manager     *Manager
	db          *sql.DB
	idleTimeout time.Duration
	stopCh      chan struct{}
	running     bool
}

// ArchiverConfig holds archiver configuration.
type ArchiverConfig struct {
	Manager     *Manager
	DBPath      string
	IdleTimeout time.Duration
}

// NewArchiver creates an archiver backed by the SQLite database at DBPath.
func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("archive database path is required")
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS archived_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archived_session ON archived_messages(session_key);
	CREATE INDEX IF NOT EXISTS idx_archived_at ON archived_messages(archived_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &Archiver{
		manager:     cfg.Manager,
		db:          db,
		idleTimeout: cfg.IdleTimeout,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start starts the idle-session scan loop.
func (a *Archiver) Start() error {
	if a.running {
		return fmt.Errorf("archiver is already running")
	}

	a.running = true
	go a.run()

	log.Info().
		Dur("idle_timeout", a.idleTimeout).
		Msg("Session archiver started")

	return nil
}

// Stop stops the scan loop.
func (a *Archiver) Stop() error {
	if !a.running {
		return fmt.Errorf("archiver is not running")
	}

	close(a.stopCh)
	a.running = false

	log.Info().Msg("Session archiver stopped")
	return nil
}

// Close stops the archiver if needed and closes the database.
func (a *Archiver) Close() error {
	if a.running {
		_ = a.Stop()
	}
	return a.db.Close()
}

func (a *Archiver) run() {
	ticker := time.NewTicker(archiveScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.ArchiveIdleSessions(); err != nil {
				log.Error().Err(err).Msg("Failed to archive idle sessions")
			}
		case <-a.stopCh:
			return
		}
	}
}

// ArchiveIdleSessions archives every live session idle for longer than
// the timeout and returns how many were archived.
func (a *Archiver) ArchiveIdleSessions() (int, error) {
	sessions, err := a.manager.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	archived := 0
	now := time.Now()
	for _, sessionKey := range sessions {
		lastActivity, err := a.manager.LastActivity(sessionKey)
		if err != nil {
			log.Warn().Str("session_key", sessionKey).Err(err).Msg("Failed to read session activity")
			continue
		}
		if now.Sub(lastActivity) < a.idleTimeout {
			continue
		}

		if err := a.Archive(sessionKey); err != nil {
			log.Error().Str("session_key", sessionKey).Err(err).Msg("Failed to archive session")
			continue
		}
		archived++
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("Idle sessions archived")
	}
	return archived, nil
}

// Archive moves one session's transcript into SQLite and removes the
// JSONL file.
func (a *Archiver) Archive(sessionKey string) error {
	entries, err := a.manager.LoadSession(sessionKey)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO archived_messages
		(session_key, role, content, timestamp, archived_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	archivedAt := time.Now().UnixMilli()
	for _, entry := range entries {
		if _, err := stmt.Exec(
			sessionKey,
			entry.Message.Role,
			entry.Message.Content,
			entry.Message.Timestamp.UnixMilli(),
			archivedAt,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}

	if err := a.manager.DeleteSession(sessionKey); err != nil {
		return fmt.Errorf("failed to delete archived session: %w", err)
	}

	log.Info().
		Str("session_key", sessionKey).
		Int("messages", len(entries)).
		Msg("Session archived")

	return nil
}

// LoadArchived returns the archived transcript for a session key.
func (a *Archiver) LoadArchived(sessionKey string) ([]Message, error) {
	rows, err := a.db.Query(`SELECT role, content, timestamp FROM archived_messages
		WHERE session_key = ? ORDER BY id`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var ts int64
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ts)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountArchived returns the number of archived messages.
func (a *Archiver) CountArchived() (int, error) {
	var count int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM archived_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archived messages: %w", err)
	}
	return count, nil
}

// PurgeOlderThan removes archived messages older than the cutoff and
// returns how many rows were deleted.
func (a *Archiver) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result, err := a.db.Exec(`DELETE FROM archived_messages WHERE archived_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge archive: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("Archived messages purged")
	}
	return removed, nil
}
