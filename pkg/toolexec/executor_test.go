package toolexec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echoes the input text back.",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "repeat", Type: "integer", Description: "Repeat count", Default: 1},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			text, _ := params["text"].(string)
			return text, nil
		},
	}
}

func TestRegisterTool(t *testing.T) {
	t.Run("should register a valid tool", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))
		assert.NotNil(t, e.GetTool("echo"))
		assert.Contains(t, e.ListTools(), "echo")
	})

	t.Run("should reject definitions missing required fields", func(t *testing.T) {
		e := New()

		def := echoTool()
		def.Name = ""
		assert.ErrorContains(t, e.RegisterTool(def), "name cannot be empty")

		def = echoTool()
		def.Handler = nil
		assert.ErrorContains(t, e.RegisterTool(def), "handler cannot be nil")

		def = echoTool()
		def.Parameters[0].Type = "banana"
		assert.ErrorContains(t, e.RegisterTool(def), "invalid parameter type")
	})
}

func TestExecute(t *testing.T) {
	t.Run("should run the handler and report success", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, nil)
		assert.True(t, result.Success)
		assert.Equal(t, "hi", result.Output)
	})

	t.Run("should fail on unknown tool", func(t *testing.T) {
		e := New()
		result := e.Execute(context.Background(), "missing", nil, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "tool not found")
	})

	t.Run("should reject parameters that fail schema validation", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		result := e.Execute(context.Background(), "echo", map[string]interface{}{}, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "parameter validation failed")

		result = e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x", "extra": true}, nil)
		assert.False(t, result.Success, "additional properties must be rejected")
	})

	t.Run("should apply parameter defaults", func(t *testing.T) {
		e := New()
		var seen interface{}
		def := echoTool()
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = params["repeat"]
			return "", nil
		}
		require.NoError(t, e.RegisterTool(def))

		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, nil)
		require.True(t, result.Success)
		assert.Equal(t, 1, seen)
	})

	t.Run("should surface handler errors", func(t *testing.T) {
		e := New()
		def := echoTool()
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		}
		require.NoError(t, e.RegisterTool(def))

		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, nil)
		assert.False(t, result.Success)
		assert.Equal(t, "boom", result.Error)
	})

	t.Run("should turn a handler panic into a failed result", func(t *testing.T) {
		e := New()
		def := echoTool()
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("nil map write")
		}
		require.NoError(t, e.RegisterTool(def))

		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "panicked")
		assert.Contains(t, result.Error, "nil map write")
	})

	t.Run("should time out slow handlers", func(t *testing.T) {
		e := New()
		def := echoTool()
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		require.NoError(t, e.RegisterTool(def))

		execCtx := &ExecutionContext{Timeout: 50 * time.Millisecond}
		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, execCtx)
		assert.False(t, result.Success)
	})
}

func TestToolPolicy(t *testing.T) {
	t.Run("nil policy allows everything", func(t *testing.T) {
		var tp *ToolPolicy
		assert.True(t, tp.IsToolAllowed("anything"))
	})

	t.Run("deny overrides allow", func(t *testing.T) {
		tp := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"refund_course"}}
		assert.True(t, tp.IsToolAllowed("purchase_course"))
		assert.False(t, tp.IsToolAllowed("refund_course"))
	})

	t.Run("unlisted tools are denied", func(t *testing.T) {
		tp := &ToolPolicy{Allow: []string{"list_purchases"}}
		assert.False(t, tp.IsToolAllowed("purchase_course"))
	})

	t.Run("executor blocks tools outside the policy", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		execCtx := &ExecutionContext{
			AgentID:    "policy",
			ToolPolicy: &ToolPolicy{Deny: []string{"*"}},
		}
		result := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, execCtx)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not allowed")
	})
}

func TestToolSpecs(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterTool(echoTool()))

	specs := e.ToolSpecs([]string{"echo", "missing"}, nil)
	require.Len(t, specs, 1)

	spec := specs[0].(map[string]interface{})
	assert.Equal(t, "echo", spec["name"])

	schema := spec["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["required"], "text")

	specs = e.ToolSpecs([]string{"echo"}, &ToolPolicy{Deny: []string{"echo"}})
	assert.Empty(t, specs)
}

func TestExecContextRoundTrip(t *testing.T) {
	execCtx := &ExecutionContext{SessionKey: "s1"}
	ctx := ContextWithExecContext(context.Background(), execCtx)

	got := ExecContextFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionKey)

	assert.Nil(t, ExecContextFromContext(context.Background()))
}
