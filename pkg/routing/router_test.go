package routing

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, routes []Route) *Router {
	t.Helper()
	r, err := New(Config{
		Routes: routes,
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	return r
}

func TestAddRoute(t *testing.T) {
	t.Run("should reject invalid routes", func(t *testing.T) {
		r := newTestRouter(t, nil)

		assert.Error(t, r.AddRoute(Route{AgentID: "x", Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "a"}}}))
		assert.Error(t, r.AddRoute(Route{ID: "r1", Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "a"}}}))
		assert.Error(t, r.AddRoute(Route{ID: "r1", AgentID: "x"}))
		assert.Error(t, r.AddRoute(Route{ID: "r1", AgentID: "x", Patterns: []Pattern{{Type: PatternTypeRegex, Value: "("}}}))
		assert.Error(t, r.AddRoute(Route{ID: "r1", AgentID: "x", Patterns: []Pattern{{Type: "nope", Value: "a"}}}))
	})

	t.Run("should reject duplicate ids", func(t *testing.T) {
		route := Route{ID: "r1", AgentID: "x", Enabled: true,
			Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "a"}}}
		r := newTestRouter(t, []Route{route})
		assert.ErrorContains(t, r.AddRoute(route), "already exists")
	})
}

func TestMatch(t *testing.T) {
	t.Run("should match keyword patterns case-insensitively", func(t *testing.T) {
		r := newTestRouter(t, []Route{{
			ID: "r1", AgentID: "order", Enabled: true,
			Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "refund"}},
		}})

		agent, ok := r.Match("I want a REFUND please")
		require.True(t, ok)
		assert.Equal(t, "order", agent)
	})

	t.Run("should respect priority order", func(t *testing.T) {
		r := newTestRouter(t, []Route{
			{ID: "low", AgentID: "sales", Priority: 1, Enabled: true,
				Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "course"}}},
			{ID: "high", AgentID: "order", Priority: 10, Enabled: true,
				Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "refund"}}},
		})

		agent, ok := r.Match("refund my course")
		require.True(t, ok)
		assert.Equal(t, "order", agent)
	})

	t.Run("should skip disabled routes", func(t *testing.T) {
		r := newTestRouter(t, []Route{{
			ID: "r1", AgentID: "order", Enabled: false,
			Patterns: []Pattern{{Type: PatternTypeKeyword, Value: "refund"}},
		}})

		_, ok := r.Match("refund")
		assert.False(t, ok)
	})

	t.Run("should match regex and wildcard patterns", func(t *testing.T) {
		r := newTestRouter(t, []Route{
			{ID: "re", AgentID: "order", Priority: 2, Enabled: true,
				Patterns: []Pattern{{Type: PatternTypeRegex, Value: `what (courses|have) i (own|bought)`}}},
			{ID: "wc", AgentID: "policy", Priority: 1, Enabled: true,
				Patterns: []Pattern{{Type: PatternTypeWildcard, Value: "*policy*"}}},
		})

		agent, ok := r.Match("What courses i own?")
		require.True(t, ok)
		assert.Equal(t, "order", agent)

		agent, ok = r.Match("tell me about the refund POLICY here")
		require.True(t, ok)
		assert.Equal(t, "policy", agent)
	})

	t.Run("should not match empty or unmatched messages", func(t *testing.T) {
		r := newTestRouter(t, DefaultRoutes())

		_, ok := r.Match("   ")
		assert.False(t, ok)

		_, ok = r.Match("hello there")
		assert.False(t, ok)
	})
}

func TestDefaultRoutes(t *testing.T) {
	r := newTestRouter(t, DefaultRoutes())

	cases := map[string]string{
		"I'd like a refund for my course":      AgentOrder,
		"show me my purchase history":          AgentOrder,
		"what is the community guidelines?":    AgentPolicy,
		"I'm stuck on lesson 4":                AgentSupport,
		"how much does the AI course cost?":    AgentSales,
		"can I buy the marketing platform?":    AgentSales,
		"what courses do you offer?":           AgentSales,
	}

	for message, want := range cases {
		agent, ok := r.Match(message)
		require.True(t, ok, "expected a route for %q", message)
		assert.Equal(t, want, agent, "message %q", message)
	}
}

func TestRouteStats(t *testing.T) {
	r := newTestRouter(t, DefaultRoutes())

	_, ok := r.Match("refund please")
	require.True(t, ok)
	_, ok = r.Match("another refund")
	require.True(t, ok)

	stats := r.RouteStats("order-intents")
	assert.EqualValues(t, 2, stats.Hits)
	assert.NotZero(t, stats.LastMatched)

	assert.Zero(t, r.RouteStats("sales-intents").Hits)
	assert.Zero(t, r.RouteStats("unknown").Hits)
}
