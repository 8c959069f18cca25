package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/aldrin/coursedesk/pkg/catalog"
	"github.com/aldrin/coursedesk/pkg/state"
)

// ToolPolicy defines which tools an agent can call
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	// Check allow list
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey string
	State      *state.Store
	Catalog    *catalog.Catalog
	AgentID    string
	ToolPolicy *ToolPolicy
	Timeout    time.Duration
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Executor manages and executes tools
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates a new Executor
func New() *Executor {
	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// RegisterTool registers a new tool
func (e *Executor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (e *Executor) GetTool(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.tools[name]
}

// ListTools returns all registered tool names
func (e *Executor) ListTools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tools := make([]string, 0, len(e.tools))
	for name := range e.tools {
		tools = append(tools, name)
	}

	return tools
}

// ToolSpecs returns the LLM tool specifications for the named tools,
// filtered by policy. Each spec carries name, description and the JSON
// Schema for its input.
func (e *Executor) ToolSpecs(names []string, policy *ToolPolicy) []interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := []interface{}{}
	for _, name := range names {
		def, ok := e.tools[name]
		if !ok {
			continue
		}
		if !policy.IsToolAllowed(name) {
			continue
		}
		specs = append(specs, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": inputSchemaMap(*def),
		})
	}
	return specs
}

// Execute executes a tool with the given parameters
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	if execCtx != nil && execCtx.ToolPolicy != nil {
		if !execCtx.ToolPolicy.IsToolAllowed(toolName) {
			log.Warn().
				Str("tool", toolName).
				Str("agent_id", execCtx.AgentID).
				Msg("Tool execution blocked by policy")
			return ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName),
				Metadata: map[string]interface{}{
					"policy_violation": true,
					"agent_id":         execCtx.AgentID,
				},
			}
		}
	}

	e.mu.RLock()
	tool := e.tools[toolName]
	schema := e.schemas[toolName]
	e.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	applyDefaults(tool, params)

	if err := validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	log.Debug().Str("tool", toolName).Msg("Executing tool")

	timeout := 30 * time.Second
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("tool", toolName).Interface("panic", r).Msg("Tool handler panicked")
				errChan <- fmt.Errorf("tool %s panicked: %v", toolName, r)
			}
		}()

		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		log.Debug().
			Str("tool", toolName).
			Dur("duration", time.Since(startTime)).
			Msg("Tool execution completed")

		return ToolResult{
			Success: true,
			Output:  result,
			Metadata: map[string]interface{}{
				"duration": time.Since(startTime).Milliseconds(),
			},
		}

	case err := <-errChan:
		log.Error().
			Str("tool", toolName).
			Dur("duration", time.Since(startTime)).
			Err(err).
			Msg("Tool execution failed")

		return ToolResult{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]interface{}{
				"duration": time.Since(startTime).Milliseconds(),
			},
		}

	case <-timeoutCtx.Done():
		log.Error().
			Str("tool", toolName).
			Dur("duration", time.Since(startTime)).
			Msg("Tool execution timed out")

		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timed out after %s", timeout),
		}
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func inputSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := inputSchemaMap(def)
	schemaMap["additionalProperties"] = false

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

func applyDefaults(def *ToolDefinition, params map[string]interface{}) {
	for _, param := range def.Parameters {
		if param.Default == nil {
			continue
		}
		if _, present := params[param.Name]; !present {
			params[param.Name] = param.Default
		}
	}
}
