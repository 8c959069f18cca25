package team

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Tracker records delegated sub-agent runs and persists them to a JSON
// registry on disk.
type Tracker struct {
	runs         map[string]*RunRecord
	registryPath string
	autoSave     bool
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// TrackerConfig holds tracker configuration.
type TrackerConfig struct {
	RegistryPath string
	AutoSave     bool
	Logger       zerolog.Logger
}

// NewTracker creates a run tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.RegistryPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.RegistryPath = filepath.Join(homeDir, ".coursedesk", "runs.json")
	}

	return &Tracker{
		runs:         make(map[string]*RunRecord),
		registryPath: cfg.RegistryPath,
		autoSave:     cfg.AutoSave,
		logger:       cfg.Logger,
	}, nil
}

// Load reads the registry from disk. A missing or corrupt registry file
// is not fatal, tracking starts empty.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.registryPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to read run registry")
		return nil
	}

	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		t.logger.Error().Err(err).Msg("Failed to parse run registry, starting empty")
		return nil
	}

	for _, run := range registry.Runs {
		t.runs[run.ID] = run
	}

	t.logger.Info().Int("runs", len(t.runs)).Msg("Run registry loaded")
	return nil
}

// Close saves the registry.
func (t *Tracker) Close() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.save()
}

// Register records a new delegation and returns its run ID.
func (t *Tracker) Register(agentID, parentSessionKey, childSessionKey, query string) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:               runID,
		AgentID:          agentID,
		ParentSessionKey: parentSessionKey,
		ChildSessionKey:  childSessionKey,
		Query:            query,
		Status:           StatusPending,
		StartedAt:        time.Now().UnixMilli(),
	}

	t.mu.Lock()
	t.runs[runID] = record
	saveErr := t.autoSaveLocked()
	t.mu.Unlock()
	if saveErr != nil {
		t.logger.Error().Err(saveErr).Msg("Failed to save run registry")
	}

	t.logger.Info().
		Str("runId", runID).
		Str("agent", agentID).
		Str("parentSession", parentSessionKey).
		Msg("Delegation registered")

	return runID, nil
}

// MarkRunning transitions a run to the running state.
func (t *Tracker) MarkRunning(runID string) error {
	return t.update(runID, func(r *RunRecord) {
		r.Status = StatusRunning
	})
}

// Complete marks a run as completed with the sub-agent's response.
func (t *Tracker) Complete(runID, response string) error {
	return t.update(runID, func(r *RunRecord) {
		r.Status = StatusCompleted
		r.Response = response
		now := time.Now().UnixMilli()
		r.CompletedAt = &now
	})
}

// Fail marks a run as failed.
func (t *Tracker) Fail(runID string, runErr error) error {
	return t.update(runID, func(r *RunRecord) {
		r.Status = StatusFailed
		if runErr != nil {
			r.Error = runErr.Error()
		}
		now := time.Now().UnixMilli()
		r.CompletedAt = &now
	})
}

func (t *Tracker) update(runID string, fn func(*RunRecord)) error {
	t.mu.Lock()
	record, exists := t.runs[runID]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("run not found: %s", runID)
	}
	fn(record)
	status := record.Status
	saveErr := t.autoSaveLocked()
	t.mu.Unlock()
	if saveErr != nil {
		t.logger.Error().Err(saveErr).Msg("Failed to save run registry")
	}

	t.logger.Debug().
		Str("runId", runID).
		Str("status", string(status)).
		Msg("Run updated")

	return nil
}

// Get retrieves a run by ID.
func (t *Tracker) Get(runID string) *RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runs[runID]
}

// ListForSession returns all runs delegated from a parent session.
func (t *Tracker) ListForSession(sessionKey string) []*RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := []*RunRecord{}
	for _, record := range t.runs {
		if record.ParentSessionKey == sessionKey {
			records = append(records, record)
		}
	}
	return records
}

// Cleanup removes terminal runs older than the retention period and
// returns how many were removed.
func (t *Tracker) Cleanup(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	t.mu.Lock()
	cutoff := time.Now().Add(-retention).UnixMilli()
	removed := 0
	for runID, record := range t.runs {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && *record.CompletedAt < cutoff {
			delete(t.runs, runID)
			removed++
		}
	}
	var saveErr error
	if removed > 0 {
		saveErr = t.autoSaveLocked()
	}
	t.mu.Unlock()
	if saveErr != nil {
		t.logger.Error().Err(saveErr).Msg("Failed to save run registry after cleanup")
	}

	t.logger.Info().Int("removed", removed).Msg("Run cleanup completed")
	return removed, nil
}

// Stats returns run statistics.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{TotalRuns: len(t.runs)}
	for _, record := range t.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		}
	}
	return stats
}

func (t *Tracker) autoSaveLocked() error {
	if !t.autoSave {
		return nil
	}
	return t.save()
}

// save persists the registry with an atomic tmp+rename write. Callers
// must hold at least a read lock.
func (t *Tracker) save() error {
	if err := os.MkdirAll(filepath.Dir(t.registryPath), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	runs := make([]*RunRecord, 0, len(t.runs))
	for _, record := range t.runs {
		runs = append(runs, record)
	}

	registry := Registry{
		Version:     1,
		Runs:        runs,
		LastUpdated: time.Now().UnixMilli(),
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tempPath := t.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := os.Rename(tempPath, t.registryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename registry file: %w", err)
	}

	return nil
}
