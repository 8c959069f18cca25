package routing

// Sub-agent ids the default table routes to. They must stay in sync
// with the agents the team registers.
const (
	AgentPolicy  = "policy"
	AgentSales   = "sales"
	AgentSupport = "support"
	AgentOrder   = "order"
)

// DefaultRoutes returns the keyword heuristics for the four sub-agents.
// Order traffic outranks sales so "refund my course" never lands on the
// sales agent.
func DefaultRoutes() []Route {
	return []Route{
		{
			ID:       "order-intents",
			AgentID:  AgentOrder,
			Priority: 40,
			Enabled:  true,
			Patterns: []Pattern{
				{Type: PatternTypeKeyword, Value: "refund"},
				{Type: PatternTypeKeyword, Value: "order"},
				{Type: PatternTypeKeyword, Value: "my purchases"},
				{Type: PatternTypeKeyword, Value: "purchase history"},
				{Type: PatternTypeRegex, Value: `what (courses|have) i (own|bought|purchased)`},
			},
		},
		{
			ID:       "policy-intents",
			AgentID:  AgentPolicy,
			Priority: 30,
			Enabled:  true,
			Patterns: []Pattern{
				{Type: PatternTypeKeyword, Value: "policy"},
				{Type: PatternTypeKeyword, Value: "guidelines"},
				{Type: PatternTypeKeyword, Value: "terms"},
				{Type: PatternTypeKeyword, Value: "code of conduct"},
			},
		},
		{
			ID:       "support-intents",
			AgentID:  AgentSupport,
			Priority: 20,
			Enabled:  true,
			Patterns: []Pattern{
				{Type: PatternTypeKeyword, Value: "lesson"},
				{Type: PatternTypeKeyword, Value: "module"},
				{Type: PatternTypeKeyword, Value: "stuck"},
				{Type: PatternTypeKeyword, Value: "error in"},
				{Type: PatternTypeKeyword, Value: "how do i"},
			},
		},
		{
			ID:       "sales-intents",
			AgentID:  AgentSales,
			Priority: 10,
			Enabled:  true,
			Patterns: []Pattern{
				{Type: PatternTypeKeyword, Value: "buy"},
				{Type: PatternTypeKeyword, Value: "price"},
				{Type: PatternTypeKeyword, Value: "cost"},
				{Type: PatternTypeKeyword, Value: "purchase"},
				{Type: PatternTypeKeyword, Value: "discount"},
				{Type: PatternTypeRegex, Value: `what courses (do you|are there)`},
			},
		},
	}
}
