package team

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/catalog"
	"github.com/aldrin/coursedesk/pkg/routing"
	"github.com/aldrin/coursedesk/pkg/state"
	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// scriptedProvider answers based on the system prompt so one fake can
// play the dispatcher and every specialist.
type scriptedProvider struct {
	mu    sync.Mutex
	calls []agent.LLMRequest
	fn    func(req agent.LLMRequest) (*agent.LLMResponse, error)
}

func (p *scriptedProvider) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.fn(req)
}

func (p *scriptedProvider) Provider() string { return "fake" }

type fakeFactory struct{ provider agent.LLMProvider }

func (f *fakeFactory) NewProvider(agent.AuthProfile) (agent.LLMProvider, error) {
	return f.provider, nil
}

func newTestDispatcher(t *testing.T, provider agent.LLMProvider, withRouter bool) (*Dispatcher, *Tracker) {
	t.Helper()

	executor := toolexec.New()
	runner, err := agent.NewRunner(agent.RunnerConfig{
		Executor:        executor,
		Logger:          zerolog.Nop(),
		AuthProfiles:    []agent.AuthProfile{{ID: "test", Provider: "fake", APIKey: "k"}},
		ProviderFactory: &fakeFactory{provider: provider},
	})
	require.NoError(t, err)

	tracker, err := NewTracker(TrackerConfig{
		RegistryPath: filepath.Join(t.TempDir(), "runs.json"),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	var router *routing.Router
	if withRouter {
		router, err = routing.New(routing.Config{Routes: routing.DefaultRoutes(), Logger: zerolog.Nop()})
		require.NoError(t, err)
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Runner:   runner,
		Executor: executor,
		Tracker:  tracker,
		Router:   router,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	return dispatcher, tracker
}

func testState() *state.Store {
	st := state.New(state.Config{Logger: zerolog.Nop()})
	st.SetUserName("Dana")
	return st
}

func TestDispatcherRouterPrePass(t *testing.T) {
	t.Run("should short-circuit to the order agent on refund keywords", func(t *testing.T) {
		provider := &scriptedProvider{fn: func(req agent.LLMRequest) (*agent.LLMResponse, error) {
			require.Contains(t, req.SystemPrompt, "order management specialist")
			return &agent.LLMResponse{Content: "I can help with that refund."}, nil
		}}
		dispatcher, tracker := newTestDispatcher(t, provider, true)

		result, err := dispatcher.Dispatch(context.Background(), DispatchParams{
			SessionKey: "user-1",
			Message:    "I want a refund for my course",
			State:      testState(),
			Catalog:    catalog.New(),
		})

		require.NoError(t, err)
		assert.True(t, result.Routed)
		assert.Equal(t, "order", result.AgentID)
		assert.Equal(t, "I can help with that refund.", result.Response)
		assert.NotEmpty(t, result.RunID)

		stats := tracker.Stats()
		assert.Equal(t, 1, stats.CompletedRuns)
	})
}

func TestDispatcherDelegation(t *testing.T) {
	t.Run("should delegate through the model's tool call", func(t *testing.T) {
		provider := &scriptedProvider{}
		provider.fn = func(req agent.LLMRequest) (*agent.LLMResponse, error) {
			switch {
			case strings.Contains(req.SystemPrompt, "front desk"):
				last := req.Messages[len(req.Messages)-1]
				if last.Role == "tool" {
					return &agent.LLMResponse{Content: "Handled by our specialist."}, nil
				}
				return &agent.LLMResponse{ToolCalls: []agent.ToolCall{{
					ID:         "call_1",
					Name:       DelegationToolName("sales"),
					Parameters: map[string]interface{}{"query": "tell me about the flagship course"},
				}}}, nil
			case strings.Contains(req.SystemPrompt, "sales specialist"):
				return &agent.LLMResponse{Content: "The Fullstack AI Marketing Platform is $149."}, nil
			default:
				return nil, errors.New("unexpected agent prompt")
			}
		}
		dispatcher, tracker := newTestDispatcher(t, provider, false)

		result, err := dispatcher.Dispatch(context.Background(), DispatchParams{
			SessionKey: "user-1",
			Message:    "tell me about your best offering",
			State:      testState(),
			Catalog:    catalog.New(),
		})

		require.NoError(t, err)
		assert.False(t, result.Routed)
		assert.Equal(t, "sales", result.AgentID)
		assert.Equal(t, "The Fullstack AI Marketing Platform is $149.", result.Response)
		assert.NotEmpty(t, result.RunID)

		record := tracker.Get(result.RunID)
		require.NotNil(t, record)
		assert.Equal(t, StatusCompleted, record.Status)
		assert.Equal(t, "user-1", record.ParentSessionKey)
		assert.Equal(t, "user-1/sales", record.ChildSessionKey)
	})

	t.Run("should fall back to the root's direct answer", func(t *testing.T) {
		provider := &scriptedProvider{fn: func(req agent.LLMRequest) (*agent.LLMResponse, error) {
			return &agent.LLMResponse{Content: "Hi Dana, how can I help?"}, nil
		}}
		dispatcher, _ := newTestDispatcher(t, provider, false)

		result, err := dispatcher.Dispatch(context.Background(), DispatchParams{
			SessionKey: "user-1",
			Message:    "hello!",
			State:      testState(),
		})

		require.NoError(t, err)
		assert.Equal(t, RootAgentID, result.AgentID)
		assert.Equal(t, "Hi Dana, how can I help?", result.Response)
		assert.Empty(t, result.RunID)
	})

	t.Run("should include customer context in specialist prompts", func(t *testing.T) {
		var salesPromptSeen string
		provider := &scriptedProvider{}
		provider.fn = func(req agent.LLMRequest) (*agent.LLMResponse, error) {
			if strings.Contains(req.SystemPrompt, "sales specialist") {
				salesPromptSeen = req.SystemPrompt
				return &agent.LLMResponse{Content: "sure"}, nil
			}
			return &agent.LLMResponse{ToolCalls: []agent.ToolCall{{
				ID:         "call_1",
				Name:       DelegationToolName("sales"),
				Parameters: map[string]interface{}{"query": "price?"},
			}}}, nil
		}
		dispatcher, _ := newTestDispatcher(t, provider, false)

		_, err := dispatcher.Dispatch(context.Background(), DispatchParams{
			SessionKey: "user-1",
			Message:    "something vague",
			State:      testState(),
		})

		require.NoError(t, err)
		assert.Contains(t, salesPromptSeen, "Name: Dana")
	})
}

func TestDispatcherFailures(t *testing.T) {
	t.Run("should mark the run failed when the specialist errors", func(t *testing.T) {
		provider := &scriptedProvider{fn: func(req agent.LLMRequest) (*agent.LLMResponse, error) {
			if strings.Contains(req.SystemPrompt, "order management specialist") {
				return nil, errors.New("provider exploded")
			}
			return &agent.LLMResponse{Content: "unused"}, nil
		}}
		dispatcher, tracker := newTestDispatcher(t, provider, true)

		_, err := dispatcher.Dispatch(context.Background(), DispatchParams{
			SessionKey: "user-1",
			Message:    "refund my course",
			State:      testState(),
		})

		require.Error(t, err)
		assert.Equal(t, 1, tracker.Stats().FailedRuns)
	})

	t.Run("should reject empty messages", func(t *testing.T) {
		provider := &scriptedProvider{fn: func(agent.LLMRequest) (*agent.LLMResponse, error) {
			return &agent.LLMResponse{}, nil
		}}
		dispatcher, _ := newTestDispatcher(t, provider, false)

		_, err := dispatcher.Dispatch(context.Background(), DispatchParams{SessionKey: "user-1"})

		assert.Error(t, err)
	})
}

func TestDefinitions(t *testing.T) {
	t.Run("should restrict every specialist to its own tools", func(t *testing.T) {
		defs := Definitions()

		require.Len(t, defs, 4)
		require.NotNil(t, defs["policy"].ToolPolicy)
		assert.False(t, defs["policy"].ToolPolicy.IsToolAllowed("purchase_course"))
		assert.False(t, defs["policy"].ToolPolicy.IsToolAllowed("refund_course"))
		assert.True(t, defs["sales"].ToolPolicy.IsToolAllowed("purchase_course"))
		assert.False(t, defs["sales"].ToolPolicy.IsToolAllowed("refund_course"))
		assert.True(t, defs["order"].ToolPolicy.IsToolAllowed("refund_course"))
		assert.False(t, defs["support"].ToolPolicy.IsToolAllowed("purchase_course"))
	})

	t.Run("should apply and restore prompt overrides", func(t *testing.T) {
		provider := &scriptedProvider{fn: func(agent.LLMRequest) (*agent.LLMResponse, error) {
			return &agent.LLMResponse{}, nil
		}}
		dispatcher, _ := newTestDispatcher(t, provider, false)

		require.NoError(t, dispatcher.SetAgentPrompt("sales", "Sell harder."))
		assert.Equal(t, "Sell harder.", dispatcher.Agents()["sales"].Config.SystemPrompt)

		require.NoError(t, dispatcher.SetAgentPrompt("sales", ""))
		assert.Contains(t, dispatcher.Agents()["sales"].Config.SystemPrompt, "sales specialist")

		assert.Error(t, dispatcher.SetAgentPrompt("nobody", "x"))
	})

	t.Run("should give the root one delegation tool per specialist", func(t *testing.T) {
		root := Root(Definitions())

		assert.Len(t, root.Config.Tools, 4)
		assert.True(t, root.ToolPolicy.IsToolAllowed(DelegationToolName("policy")))
	})
}
