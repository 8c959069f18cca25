// Package routing decides which sub-agent should handle a user message
// before any model call is made. Routes are keyword and pattern
// heuristics; when none match, the dispatcher falls back to LLM
// delegation.
package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Router evaluates a priority-ordered route table against messages.
type Router struct {
	routes []Route
	stats  map[string]*Stats
	logger zerolog.Logger
	mu     sync.RWMutex
}

// Config holds router configuration.
type Config struct {
	Routes []Route
	Logger zerolog.Logger
}

// New creates a router, compiling every regex and wildcard pattern once.
func New(cfg Config) (*Router, error) {
	r := &Router{
		stats:  make(map[string]*Stats),
		logger: cfg.Logger,
	}

	for _, route := range cfg.Routes {
		if err := r.AddRoute(route); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddRoute validates, compiles and appends a route.
func (r *Router) AddRoute(route Route) error {
	if route.ID == "" {
		return fmt.Errorf("route id cannot be empty")
	}
	if route.AgentID == "" {
		return fmt.Errorf("route %s: agent id cannot be empty", route.ID)
	}
	if len(route.Patterns) == 0 {
		return fmt.Errorf("route %s: at least one pattern is required", route.ID)
	}

	for i := range route.Patterns {
		if err := compilePattern(&route.Patterns[i]); err != nil {
			return fmt.Errorf("route %s: %w", route.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routes {
		if existing.ID == route.ID {
			return fmt.Errorf("route already exists: %s", route.ID)
		}
	}

	r.routes = append(r.routes, route)
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].Priority > r.routes[j].Priority
	})
	r.stats[route.ID] = &Stats{}

	r.logger.Debug().Str("route", route.ID).Str("agent", route.AgentID).Msg("Route added")
	return nil
}

// Match returns the agent id for the highest-priority matching route.
// The second return is false when no route matches.
func (r *Router) Match(message string) (string, bool) {
	message = strings.ToLower(strings.TrimSpace(message))
	if message == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, route := range r.routes {
		if !route.Enabled {
			continue
		}
		for _, pattern := range route.Patterns {
			if matchPattern(pattern, message) {
				stats := r.stats[route.ID]
				stats.Hits++
				stats.LastMatched = time.Now().UnixMilli()

				r.logger.Debug().
					Str("route", route.ID).
					Str("agent", route.AgentID).
					Msg("Route matched")
				return route.AgentID, true
			}
		}
	}
	return "", false
}

// Routes returns a copy of the route table in evaluation order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// RouteStats returns the counters for a route id.
func (r *Router) RouteStats(routeID string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.stats[routeID]; ok {
		return *s
	}
	return Stats{}
}

func compilePattern(p *Pattern) error {
	switch p.Type {
	case PatternTypeRegex:
		re, err := regexp.Compile("(?i)" + p.Value)
		if err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", p.Value, err)
		}
		p.compiled = re
	case PatternTypeWildcard:
		re, err := regexp.Compile(wildcardToRegex(p.Value))
		if err != nil {
			return fmt.Errorf("invalid wildcard pattern %q: %w", p.Value, err)
		}
		p.compiled = re
	case PatternTypeExact, PatternTypeKeyword, PatternTypePrefix, PatternTypeSuffix:
		if strings.TrimSpace(p.Value) == "" {
			return fmt.Errorf("pattern value cannot be empty")
		}
	default:
		return fmt.Errorf("unknown pattern type: %s", p.Type)
	}
	return nil
}

func matchPattern(p Pattern, message string) bool {
	value := strings.ToLower(p.Value)
	switch p.Type {
	case PatternTypeExact:
		return message == value
	case PatternTypeKeyword:
		return strings.Contains(message, value)
	case PatternTypePrefix:
		return strings.HasPrefix(message, value)
	case PatternTypeSuffix:
		return strings.HasSuffix(message, value)
	case PatternTypeRegex, PatternTypeWildcard:
		return p.compiled != nil && p.compiled.MatchString(message)
	default:
		return false
	}
}

// wildcardToRegex converts a glob-style pattern to an anchored regex.
func wildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}
