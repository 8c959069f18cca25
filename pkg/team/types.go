package team

import (
	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// Definition describes one agent on the team: its prompt, model
// configuration and the tools it is allowed to call.
type Definition struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Config      agent.Config         `json:"config"`
	ToolPolicy  *toolexec.ToolPolicy `json:"tool_policy,omitempty"`
}

// RunStatus represents the execution state of a delegated run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status is terminal.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunRecord tracks one delegation from the dispatcher to a sub-agent.
type RunRecord struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	ParentSessionKey string    `json:"parent_session_key"`
	ChildSessionKey  string    `json:"child_session_key"`
	Query            string    `json:"query"`
	Status           RunStatus `json:"status"`
	StartedAt        int64     `json:"started_at"`
	CompletedAt      *int64    `json:"completed_at,omitempty"`
	Response         string    `json:"response,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Registry is the persistent storage format for run records.
type Registry struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated int64        `json:"last_updated"`
}

// Stats summarizes tracked runs.
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
}
