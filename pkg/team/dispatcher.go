package team

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/catalog"
	"github.com/aldrin/coursedesk/pkg/routing"
	"github.com/aldrin/coursedesk/pkg/state"
	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// Dispatcher runs the root agent and delegates customer messages to the
// sub-agent team. Delegation happens two ways: a deterministic intent
// router pre-pass, or the root model picking a delegate tool.
type Dispatcher struct {
	runner    *agent.Runner
	router    *routing.Router
	executor  *toolexec.Executor
	tracker   *Tracker
	logger    zerolog.Logger
	subAgents map[string]Definition
	root      Definition

	mu          sync.Mutex
	delegations map[string]*delegation // parent session key -> current turn
	agentsMu    sync.RWMutex
}

type delegation struct {
	agentID  string
	runID    string
	response string
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Runner   *agent.Runner
	Executor *toolexec.Executor
	Tracker  *Tracker
	Router   *routing.Router // optional, enables the deterministic pre-pass
	Logger   zerolog.Logger
	Agents   map[string]Definition // defaults to Definitions()
}

// NewDispatcher creates the dispatcher and registers one delegation
// tool per sub-agent on the executor.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("tracker is required")
	}

	subAgents := cfg.Agents
	if subAgents == nil {
		subAgents = Definitions()
	}

	d := &Dispatcher{
		runner:      cfg.Runner,
		router:      cfg.Router,
		executor:    cfg.Executor,
		tracker:     cfg.Tracker,
		logger:      cfg.Logger,
		subAgents:   subAgents,
		root:        Root(subAgents),
		delegations: make(map[string]*delegation),
	}

	for id, def := range subAgents {
		tool := toolexec.ToolDefinition{
			Name: DelegationToolName(id),
			Description: fmt.Sprintf("Hand the customer's request to the %s. %s",
				def.Name, def.Description),
			Parameters: []toolexec.ToolParameter{
				{
					Name:        "query",
					Type:        "string",
					Description: "The customer request to forward, in the customer's own words",
					Required:    true,
				},
			},
			Handler: d.delegationHandler(id),
		}
		if err := cfg.Executor.RegisterTool(tool); err != nil {
			return nil, fmt.Errorf("failed to register delegation tool for %s: %w", id, err)
		}
	}

	return d, nil
}

// DispatchParams contains input for one dispatcher turn.
type DispatchParams struct {
	SessionKey string
	Message    string
	History    []agent.Message
	State      *state.Store
	Catalog    *catalog.Catalog
}

// DispatchResult contains the outcome of one dispatcher turn.
type DispatchResult struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
	RunID    string `json:"run_id,omitempty"`
	Routed   bool   `json:"routed,omitempty"`
}

// Dispatch handles one customer message: route or delegate to exactly
// one sub-agent, falling back to the root's own reply when the model
// answers directly.
func (d *Dispatcher) Dispatch(ctx context.Context, params DispatchParams) (DispatchResult, error) {
	if params.SessionKey == "" {
		return DispatchResult{}, errors.New("session key is required")
	}
	if params.Message == "" {
		return DispatchResult{}, errors.New("message is required")
	}

	// Deterministic pre-pass
	if d.router != nil {
		if agentID, ok := d.router.Match(params.Message); ok {
			if def, exists := d.agentDef(agentID); exists {
				d.logger.Debug().
					Str("agent", agentID).
					Str("session", params.SessionKey).
					Msg("Message routed by intent pattern")

				response, runID, err := d.runDelegated(ctx, def, params.SessionKey, params.Message, params.State, params.Catalog)
				if err != nil {
					return DispatchResult{}, err
				}
				return DispatchResult{
					AgentID:  agentID,
					Response: response,
					RunID:    runID,
					Routed:   true,
				}, nil
			}
		}
	}

	d.clearDelegation(params.SessionKey)

	rootCfg := d.root.Config
	rootCfg.SystemPrompt = contextPrompt(rootCfg.SystemPrompt, params.State)

	result, err := d.runner.Run(ctx, agent.RunParams{
		AgentID:    d.root.ID,
		SessionKey: params.SessionKey,
		Prompt:     params.Message,
		History:    params.History,
		Config:     rootCfg,
		ExecCtx: &toolexec.ExecutionContext{
			SessionKey: params.SessionKey,
			State:      params.State,
			Catalog:    params.Catalog,
			AgentID:    d.root.ID,
			ToolPolicy: d.root.ToolPolicy,
		},
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch failed: %w", err)
	}

	// Prefer the specialist's answer when the root delegated
	if del := d.takeDelegation(params.SessionKey); del != nil {
		return DispatchResult{
			AgentID:  del.agentID,
			Response: del.response,
			RunID:    del.runID,
		}, nil
	}

	return DispatchResult{
		AgentID:  d.root.ID,
		Response: result.Response,
	}, nil
}

// Agents returns the sub-agent definitions keyed by ID.
func (d *Dispatcher) Agents() map[string]Definition {
	d.agentsMu.RLock()
	defer d.agentsMu.RUnlock()

	out := make(map[string]Definition, len(d.subAgents))
	for id, def := range d.subAgents {
		out[id] = def
	}
	return out
}

// SetAgentPrompt replaces a sub-agent's system prompt at runtime. An
// empty prompt restores the built-in one.
func (d *Dispatcher) SetAgentPrompt(agentID, prompt string) error {
	d.agentsMu.Lock()
	defer d.agentsMu.Unlock()

	def, exists := d.subAgents[agentID]
	if !exists {
		return fmt.Errorf("unknown agent: %s", agentID)
	}

	if prompt == "" {
		if builtin, ok := Definitions()[agentID]; ok {
			def.Config.SystemPrompt = builtin.Config.SystemPrompt
		}
	} else {
		def.Config.SystemPrompt = prompt
	}
	d.subAgents[agentID] = def

	d.logger.Info().Str("agent", agentID).Msg("Agent prompt updated")
	return nil
}

func (d *Dispatcher) agentDef(agentID string) (Definition, bool) {
	d.agentsMu.RLock()
	defer d.agentsMu.RUnlock()

	def, exists := d.subAgents[agentID]
	return def, exists
}

func (d *Dispatcher) delegationHandler(agentID string) toolexec.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		execCtx := toolexec.ExecContextFromContext(ctx)
		if execCtx == nil {
			return nil, errors.New("execution context is required for delegation")
		}

		query, _ := params["query"].(string)
		if query == "" {
			return nil, errors.New("query is required")
		}

		def, exists := d.agentDef(agentID)
		if !exists {
			return nil, fmt.Errorf("unknown agent: %s", agentID)
		}

		response, runID, err := d.runDelegated(ctx, def, execCtx.SessionKey, query, execCtx.State, execCtx.Catalog)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.delegations[execCtx.SessionKey] = &delegation{
			agentID:  def.ID,
			runID:    runID,
			response: response,
		}
		d.mu.Unlock()

		return response, nil
	}
}

// runDelegated executes one sub-agent turn under a child session key and
// tracks it as a run record.
func (d *Dispatcher) runDelegated(ctx context.Context, def Definition, parentKey, query string, st *state.Store, cat *catalog.Catalog) (string, string, error) {
	childKey := parentKey + "/" + def.ID

	runID, err := d.tracker.Register(def.ID, parentKey, childKey, query)
	if err != nil {
		return "", "", err
	}
	if err := d.tracker.MarkRunning(runID); err != nil {
		d.logger.Warn().Err(err).Str("runId", runID).Msg("Failed to mark run running")
	}

	cfg := def.Config
	cfg.SystemPrompt = contextPrompt(cfg.SystemPrompt, st)

	result, err := d.runner.Run(ctx, agent.RunParams{
		AgentID:    def.ID,
		SessionKey: childKey,
		Prompt:     query,
		Config:     cfg,
		ExecCtx: &toolexec.ExecutionContext{
			SessionKey: parentKey,
			State:      st,
			Catalog:    cat,
			AgentID:    def.ID,
			ToolPolicy: def.ToolPolicy,
		},
	})
	if err != nil {
		if failErr := d.tracker.Fail(runID, err); failErr != nil {
			d.logger.Warn().Err(failErr).Str("runId", runID).Msg("Failed to mark run failed")
		}
		return "", runID, fmt.Errorf("sub-agent %s failed: %w", def.ID, err)
	}

	if err := d.tracker.Complete(runID, result.Response); err != nil {
		d.logger.Warn().Err(err).Str("runId", runID).Msg("Failed to mark run completed")
	}

	d.logger.Info().
		Str("agent", def.ID).
		Str("runId", runID).
		Msg("Delegation completed")

	return result.Response, runID, nil
}

func (d *Dispatcher) clearDelegation(sessionKey string) {
	d.mu.Lock()
	delete(d.delegations, sessionKey)
	d.mu.Unlock()
}

func (d *Dispatcher) takeDelegation(sessionKey string) *delegation {
	d.mu.Lock()
	defer d.mu.Unlock()

	del := d.delegations[sessionKey]
	delete(d.delegations, sessionKey)
	return del
}
