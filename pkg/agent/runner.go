package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldrin/coursedesk/pkg/toolexec"
)

const (
	// maxToolTurns bounds the model→tool→model loop.
	maxToolTurns = 10

	// profileCooldown is applied after repeated provider failures.
	profileCooldown    = 5 * time.Minute
	cooldownAfterFails = 3
)

// Runner executes agent turns against the configured providers.
type Runner struct {
	executor        *toolexec.Executor
	logger          zerolog.Logger
	providerFactory ProviderCreator

	authProfiles []AuthProfile
	authMu       sync.RWMutex

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// RunnerConfig holds runner configuration.
type RunnerConfig struct {
	Executor        *toolexec.Executor
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
}

// NewRunner creates a new agent runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	return &Runner{
		executor:        cfg.Executor,
		logger:          cfg.Logger,
		providerFactory: providerFactory,
		authProfiles:    cfg.AuthProfiles,
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

// Run executes one agent turn with the given parameters.
func (r *Runner) Run(ctx context.Context, params RunParams) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := r.logger.With().
		Str("session_key", params.SessionKey).
		Str("agent_id", params.AgentID).
		Logger()

	if err := validateConfig(params.Config); err != nil {
		return Result{}, fmt.Errorf("invalid configuration: %w", err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runKey := params.SessionKey + "/" + params.AgentID
	r.runsMu.Lock()
	r.activeRuns[runKey] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, runKey)
		r.runsMu.Unlock()
	}()

	messages := buildMessages(params)

	var policy *toolexec.ToolPolicy
	if params.ExecCtx != nil {
		policy = params.ExecCtx.ToolPolicy
	}
	tools := r.executor.ToolSpecs(params.Config.Tools, policy)

	result, err := r.executeWithFailover(execCtx, messages, tools, params)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		return Result{}, err
	}

	result.SessionKey = params.SessionKey
	result.AgentID = params.AgentID
	return result, nil
}

// Abort cancels a running agent execution for the session.
func (r *Runner) Abort(sessionKey string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	for key, cancel := range r.activeRuns {
		if len(key) >= len(sessionKey) && key[:len(sessionKey)] == sessionKey {
			r.logger.Info().Str("run", key).Msg("Aborting agent execution")
			cancel()
			delete(r.activeRuns, key)
		}
	}
}

// IsRunning checks if any agent is currently running for a session.
func (r *Runner) IsRunning(sessionKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	for key := range r.activeRuns {
		if len(key) >= len(sessionKey) && key[:len(sessionKey)] == sessionKey {
			return true
		}
	}
	return false
}

func validateConfig(config Config) error {
	if config.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

func buildMessages(params RunParams) []Message {
	messages := make([]Message, 0, len(params.History)+1)
	for _, msg := range params.History {
		if msg.Role == "" || msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return append(messages, Message{Role: "user", Content: params.Prompt})
}

// executeWithFailover tries auth profiles in priority order.
func (r *Runner) executeWithFailover(ctx context.Context, messages []Message, tools []interface{}, params RunParams) (Result, error) {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority > profiles[j].Priority
	})

	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			r.logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			r.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		result, err := r.executeWithTools(ctx, provider, messages, tools, params)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			return result, nil
		}

		lastErr = err
		r.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")
		r.updateProfileFailure(profile.ID)

		// Permanent errors do not fail over
		if !IsRetryableError(err) {
			return Result{}, err
		}
	}

	if lastErr == nil {
		return Result{}, fmt.Errorf("no usable auth profile")
	}
	return Result{}, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// executeWithTools drives the model→tool→model loop.
func (r *Runner) executeWithTools(ctx context.Context, provider LLMProvider, messages []Message, tools []interface{}, params RunParams) (Result, error) {
	currentMessages := messages
	allToolCalls := []ToolCall{}

	for turn := 0; turn < maxToolTurns; turn++ {
		select {
		case <-ctx.Done():
			return Result{Aborted: true}, nil
		default:
		}

		response, err := r.callWithRetry(ctx, provider, currentMessages, tools, params)
		if err != nil {
			return Result{}, err
		}

		// No tool calls means the turn is complete
		if len(response.ToolCalls) == 0 {
			return Result{
				Response:  response.Content,
				ToolCalls: allToolCalls,
				Usage:     response.Usage,
			}, nil
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)

		currentMessages = append(currentMessages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			result := r.executor.Execute(ctx, toolCall.Name, toolCall.Parameters, params.ExecCtx)

			content := fmt.Sprintf("%v", result.Output)
			if !result.Success {
				content = result.Error
			}
			currentMessages = append(currentMessages, Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: toolCall.ID,
			})
		}
	}

	return Result{}, fmt.Errorf("tool loop exceeded %d turns", maxToolTurns)
}

// callWithRetry retries transient provider errors with backoff.
func (r *Runner) callWithRetry(ctx context.Context, provider LLMProvider, messages []Message, tools []interface{}, params RunParams) (*LLMResponse, error) {
	request := LLMRequest{
		Model:        params.Config.Model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  params.Config.Temperature,
		MaxTokens:    params.Config.MaxTokens,
		SystemPrompt: params.Config.SystemPrompt,
	}

	maxRetries := params.Config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}

		r.logger.Debug().
			Int("attempt", attempt+1).
			Err(err).
			Msg("Retrying LLM call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("LLM call failed after %d attempts: %w", maxRetries, lastErr)
}

func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			return
		}
	}
}

func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID != profileID {
			continue
		}
		r.authProfiles[i].FailureCount++
		if r.authProfiles[i].FailureCount >= cooldownAfterFails {
			until := time.Now().Add(profileCooldown).UnixMilli()
			r.authProfiles[i].CooldownUntil = &until
			r.logger.Warn().
				Str("profile_id", profileID).
				Msg("Auth profile placed in cooldown")
		}
		return
	}
}
