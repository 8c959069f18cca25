package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Message represents a single conversation turn
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry represents a message with its session key
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Manager manages conversation persistence using JSONL format
type Manager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// NewManager creates a new session Manager rooted at sessionsDir.
func NewManager(sessionsDir string) (*Manager, error) {
	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".coursedesk", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &Manager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")

	return sm, nil
}

// validateSessionKey validates the session key for security
func (sm *Manager) validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

// sessionPath returns the file path for a session
func (sm *Manager) sessionPath(sessionKey string) string {
	return filepath.Join(sm.sessionsDir, sessionKey+".jsonl")
}

// getWriteLock gets or creates a write lock for a session
func (sm *Manager) getWriteLock(sessionKey string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if lock, exists := sm.writeLocks[sessionKey]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	sm.writeLocks[sessionKey] = lock
	return lock
}

func (sm *Manager) releaseWriteLock(sessionKey string) {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()
	delete(sm.writeLocks, sessionKey)
}

// CreateSession creates an empty session file if one does not exist.
func (sm *Manager) CreateSession(sessionKey string) error {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return err
	}

	sessionPath := sm.sessionPath(sessionKey)
	if _, err := os.Stat(sessionPath); err == nil {
		log.Debug().Str("session_key", sessionKey).Msg("Session already exists")
		return nil
	}

	file, err := os.OpenFile(sessionPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	file.Close()

	log.Info().Str("session_key", sessionKey).Msg("Session created")
	return nil
}

// AppendMessage appends a message to a session, creating it on demand.
func (sm *Manager) AppendMessage(sessionKey string, message Message) error {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := sm.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := sm.sessionPath(sessionKey)
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		if err := sm.CreateSession(sessionKey); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(sessionPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	log.Debug().
		Str("session_key", sessionKey).
		Str("role", message.Role).
		Msg("Message appended")

	return nil
}

// LoadSession loads all messages from a session. Malformed lines are
// skipped, not fatal.
func (sm *Manager) LoadSession(sessionKey string) ([]Entry, error) {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	sessionPath := sm.sessionPath(sessionKey)
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		return []Entry{}, nil
	}

	file, err := os.Open(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" || entry.Message.Content == "" {
			log.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return entries, nil
}

// DeleteSession deletes a session file.
func (sm *Manager) DeleteSession(sessionKey string) error {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := sm.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(sm.sessionPath(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	sm.releaseWriteLock(sessionKey)
	log.Info().Str("session_key", sessionKey).Msg("Session deleted")
	return nil
}

// ListSessions lists all live session keys.
func (sm *Manager) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".jsonl") {
			sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return sessions, nil
}

// LastActivity returns the modification time of a session file.
func (sm *Manager) LastActivity(sessionKey string) (time.Time, error) {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return time.Time{}, err
	}

	info, err := os.Stat(sm.sessionPath(sessionKey))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat session file: %w", err)
	}
	return info.ModTime(), nil
}
