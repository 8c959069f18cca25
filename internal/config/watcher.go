package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PromptWatcher hot-reloads per-agent system prompt overrides from
// <prompt_dir>/<agent_id>.md files.
type PromptWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu        sync.RWMutex
	overrides map[string]string
	onChange  func(agentID, prompt string)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPromptWatcher creates a watcher over the prompt directory. The
// directory is created when missing.
func NewPromptWatcher(dir string, logger zerolog.Logger) (*PromptWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("prompt directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prompt directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &PromptWatcher{
		dir:       dir,
		watcher:   watcher,
		logger:    logger,
		overrides: make(map[string]string),
		done:      make(chan struct{}),
	}, nil
}

// OnChange registers a callback invoked when a prompt file changes.
// Must be called before Start.
func (w *PromptWatcher) OnChange(fn func(agentID, prompt string)) {
	w.onChange = fn
}

// Start loads existing prompt files and begins watching for changes.
func (w *PromptWatcher) Start() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read prompt directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.loadFile(filepath.Join(w.dir, entry.Name()))
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info().Str("dir", w.dir).Int("prompts", len(w.overrides)).Msg("Prompt watcher started")
	return nil
}

// Close stops the watcher.
func (w *PromptWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// Override returns the prompt override for an agent, if present.
func (w *PromptWatcher) Override(agentID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	prompt, ok := w.overrides[agentID]
	return prompt, ok
}

// Overrides returns a copy of all current prompt overrides.
func (w *PromptWatcher) Overrides() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]string, len(w.overrides))
	for id, prompt := range w.overrides {
		out[id] = prompt
	}
	return out
}

func (w *PromptWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.loadFile(event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.removeFile(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Prompt watcher error")
		}
	}
}

func (w *PromptWatcher) loadFile(path string) {
	agentID, ok := agentIDFromPath(path)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to read prompt file")
		return
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return
	}

	w.mu.Lock()
	w.overrides[agentID] = prompt
	fn := w.onChange
	w.mu.Unlock()

	w.logger.Info().Str("agent", agentID).Msg("Prompt override loaded")

	if fn != nil {
		fn(agentID, prompt)
	}
}

func (w *PromptWatcher) removeFile(path string) {
	agentID, ok := agentIDFromPath(path)
	if !ok {
		return
	}

	w.mu.Lock()
	_, existed := w.overrides[agentID]
	delete(w.overrides, agentID)
	fn := w.onChange
	w.mu.Unlock()

	if existed {
		w.logger.Info().Str("agent", agentID).Msg("Prompt override removed")
		if fn != nil {
			fn(agentID, "")
		}
	}
}

func agentIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".md") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".md")
	return id, id != ""
}
