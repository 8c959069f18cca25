package routing

import "regexp"

// PatternType represents the type of pattern matching
type PatternType string

const (
	PatternTypeExact    PatternType = "exact"
	PatternTypeKeyword  PatternType = "keyword"
	PatternTypeWildcard PatternType = "wildcard"
	PatternTypeRegex    PatternType = "regex"
	PatternTypePrefix   PatternType = "prefix"
	PatternTypeSuffix   PatternType = "suffix"
)

// Pattern defines one matching rule within a route.
type Pattern struct {
	Type  PatternType `json:"type"`
	Value string      `json:"value"`

	compiled *regexp.Regexp
}

// Route maps message patterns to a handling agent.
type Route struct {
	ID       string    `json:"id"`
	AgentID  string    `json:"agent_id"`
	Patterns []Pattern `json:"patterns"`
	Priority int       `json:"priority"` // higher wins
	Enabled  bool      `json:"enabled"`
}

// Stats carries per-route match counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	LastMatched int64 `json:"last_matched,omitempty"` // unix millis
}
