package team

import (
	"fmt"
	"strings"

	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/routing"
	"github.com/aldrin/coursedesk/pkg/state"
	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// RootAgentID identifies the dispatcher agent.
const RootAgentID = "dispatcher"

const delegationToolPrefix = "delegate_to_"

// DelegationToolName returns the dispatcher tool name for a sub-agent.
func DelegationToolName(agentID string) string {
	return delegationToolPrefix + agentID
}

const rootPrompt = `You are the front desk of an online course platform. You triage every
customer message and hand it to the right specialist using exactly one
delegate tool call:
- delegate_to_policy: community guidelines, refund policy, terms
- delegate_to_sales: buying courses, prices, recommendations
- delegate_to_support: help with course content the customer already owns
- delegate_to_order: purchase history, order status, refunds
Only answer directly for greetings and small talk. Never answer a
specialist question yourself.`

const policyPrompt = `You are the policy specialist for an online course platform. Answer
questions about community guidelines, acceptable use and the refund
policy. Refunds are available within 30 days of purchase. Be precise and
cite the rule you are applying. Do not discuss sales or order details.`

const salesPrompt = `You are the sales specialist for an online course platform. Recommend
courses from the catalog, answer pricing questions and complete
purchases with the purchase_course tool when the customer agrees to buy.
Check list_purchases first so you never sell a course the customer
already owns. Be enthusiastic but honest.`

const supportPrompt = `You are the course support specialist for an online course platform.
Help customers with lessons, modules and exercises, but only for courses
they own. Verify ownership with list_purchases before helping. Use
search_faq to ground your answers in the knowledge base. If the customer
does not own the course, point them to sales.`

const orderPrompt = `You are the order management specialist for an online course platform.
Handle purchase history questions and refund requests. Use
list_purchases to look up orders and refund_course to process refunds,
which are only allowed within 30 days of purchase. Confirm with the
customer before refunding.`

// Definitions returns the four sub-agent definitions keyed by ID.
func Definitions() map[string]Definition {
	defs := []Definition{
		{
			ID:          routing.AgentPolicy,
			Name:        "Policy Agent",
			Description: "Answers questions about community guidelines and the refund policy.",
			Config:      configWithPrompt(policyPrompt, nil),
			// Empty allow list denies every tool; a nil policy would
			// mean allow-all at the executor.
			ToolPolicy: &toolexec.ToolPolicy{Allow: []string{}},
		},
		{
			ID:          routing.AgentSales,
			Name:        "Sales Agent",
			Description: "Recommends and sells catalog courses.",
			Config:      configWithPrompt(salesPrompt, []string{"purchase_course", "list_purchases"}),
			ToolPolicy:  &toolexec.ToolPolicy{Allow: []string{"purchase_course", "list_purchases"}},
		},
		{
			ID:          routing.AgentSupport,
			Name:        "Course Support Agent",
			Description: "Helps with course content for owned courses.",
			Config:      configWithPrompt(supportPrompt, []string{"list_purchases", "search_faq"}),
			ToolPolicy:  &toolexec.ToolPolicy{Allow: []string{"list_purchases", "search_faq"}},
		},
		{
			ID:          routing.AgentOrder,
			Name:        "Order Agent",
			Description: "Handles purchase history and refunds.",
			Config:      configWithPrompt(orderPrompt, []string{"list_purchases", "refund_course", "get_interaction_history"}),
			ToolPolicy:  &toolexec.ToolPolicy{Allow: []string{"list_purchases", "refund_course", "get_interaction_history"}},
		},
	}

	out := make(map[string]Definition, len(defs))
	for _, def := range defs {
		out[def.ID] = def
	}
	return out
}

// Root returns the dispatcher definition. Its tool list carries one
// delegation tool per sub-agent.
func Root(subAgents map[string]Definition) Definition {
	tools := make([]string, 0, len(subAgents))
	for id := range subAgents {
		tools = append(tools, DelegationToolName(id))
	}

	return Definition{
		ID:          RootAgentID,
		Name:        "Dispatcher",
		Description: "Routes customer messages to the right specialist.",
		Config:      configWithPrompt(rootPrompt, tools),
		ToolPolicy:  &toolexec.ToolPolicy{Allow: tools},
	}
}

func configWithPrompt(prompt string, tools []string) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.SystemPrompt = prompt
	cfg.Tools = tools
	return cfg
}

// contextPrompt appends the current session state to an agent's system
// prompt so every specialist sees who it is talking to.
func contextPrompt(base string, st *state.Store) string {
	if st == nil {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nCustomer context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", st.UserName())

	courses := st.Courses()
	if len(courses) == 0 {
		b.WriteString("- Owned courses: none\n")
	} else {
		b.WriteString("- Owned courses:\n")
		for _, c := range courses {
			fmt.Fprintf(&b, "  - %s (purchased %s)\n", c.ID, c.PurchaseDate.Format("2006-01-02"))
		}
	}

	return b.String()
}
