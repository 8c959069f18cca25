package agent

import (
	"strings"

	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// Config configures one agent's model behavior.
type Config struct {
	Model        string   `json:"model"`
	Temperature  float64  `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   2048,
		MaxRetries:  3,
	}
}

// RunParams contains input parameters for one agent turn.
type RunParams struct {
	AgentID    string
	SessionKey string
	Prompt     string
	History    []Message
	Config     Config
	ExecCtx    *toolexec.ExecutionContext
}

// Result contains the output of one agent turn.
type Result struct {
	Response   string      `json:"response"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
	SessionKey string      `json:"session_key"`
	AgentID    string      `json:"agent_id,omitempty"`
	Aborted    bool        `json:"aborted,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AuthProfile represents credentials for one LLM provider.
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "openai", "anthropic"
	APIKey        string `json:"api_key"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// IsRetryableError checks if an error should be retried on another
// profile: rate limits, transient network faults and server errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"ECONNRESET", "ETIMEDOUT", "connection reset", "timeout",
		"429", "rate limit",
		"500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
