// Package coursetools registers the customer-service tools that read and
// mutate the shared session state.
package coursetools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// RefundWindow is how long after purchase a course is refundable.
const RefundWindow = 30 * 24 * time.Hour

// FAQSearcher answers knowledge-base queries for the support agent.
type FAQSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]string, error)
}

// Options configures tool registration.
type Options struct {
	FAQ FAQSearcher // Optional, search_faq is skipped when nil
}

// Register registers the customer-service tools with the executor.
func Register(executor *toolexec.Executor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	tools := []toolexec.ToolDefinition{
		purchaseCourseTool(),
		refundCourseTool(),
		listPurchasesTool(),
		interactionHistoryTool(),
	}
	if opts.FAQ != nil {
		tools = append(tools, searchFAQTool(opts.FAQ))
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func purchaseCourseTool() toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "purchase_course",
		Description: "Purchase a course for the current user. Fails if the course is unknown or already owned.",
		Parameters: []toolexec.ToolParameter{
			{Name: "course_id", Type: "string", Description: "Catalog id of the course to purchase", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexec.ExecContextFromContext(ctx)
			if execCtx == nil || execCtx.State == nil {
				return nil, fmt.Errorf("execution context with session state is required")
			}

			courseID, _ := params["course_id"].(string)
			courseID = strings.TrimSpace(courseID)
			if courseID == "" {
				return nil, fmt.Errorf("course_id is required")
			}

			if execCtx.Catalog == nil || !execCtx.Catalog.Has(courseID) {
				return nil, fmt.Errorf("course not in catalog: %s", courseID)
			}

			course, err := execCtx.Catalog.Get(courseID)
			if err != nil {
				return nil, err
			}

			now := time.Now()
			if err := execCtx.State.AddCourse(courseID, now); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"status":        "purchased",
				"course_id":     courseID,
				"title":         course.Title,
				"price":         course.Price,
				"purchase_date": now.Format(time.RFC3339),
			}, nil
		},
	}
}

func refundCourseTool() toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "refund_course",
		Description: "Refund a purchased course. Only allowed within 30 days of purchase.",
		Parameters: []toolexec.ToolParameter{
			{Name: "course_id", Type: "string", Description: "Catalog id of the course to refund", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexec.ExecContextFromContext(ctx)
			if execCtx == nil || execCtx.State == nil {
				return nil, fmt.Errorf("execution context with session state is required")
			}

			courseID, _ := params["course_id"].(string)
			courseID = strings.TrimSpace(courseID)
			if courseID == "" {
				return nil, fmt.Errorf("course_id is required")
			}

			if !execCtx.State.HasCourse(courseID) {
				return nil, fmt.Errorf("course not owned: %s", courseID)
			}

			courses := execCtx.State.Courses()
			var purchased time.Time
			for _, c := range courses {
				if c.ID == courseID {
					purchased = c.PurchaseDate
					break
				}
			}
			if time.Since(purchased) > RefundWindow {
				return nil, fmt.Errorf("refund window expired for %s: purchased %s", courseID, purchased.Format("2006-01-02"))
			}

			removed, err := execCtx.State.RemoveCourse(courseID)
			if err != nil {
				return nil, err
			}

			amount := 0.0
			if execCtx.Catalog != nil {
				if course, err := execCtx.Catalog.Get(courseID); err == nil {
					amount = course.Price
				}
			}

			return map[string]interface{}{
				"status":          "refunded",
				"course_id":       removed.ID,
				"amount_refunded": amount,
			}, nil
		},
	}
}

func listPurchasesTool() toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "list_purchases",
		Description: "List the courses the current user owns, with purchase dates.",
		Parameters:  []toolexec.ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexec.ExecContextFromContext(ctx)
			if execCtx == nil || execCtx.State == nil {
				return nil, fmt.Errorf("execution context with session state is required")
			}

			courses := execCtx.State.Courses()
			out := make([]map[string]interface{}, 0, len(courses))
			for _, c := range courses {
				out = append(out, map[string]interface{}{
					"id":            c.ID,
					"purchase_date": c.PurchaseDate.Format(time.RFC3339),
				})
			}

			return map[string]interface{}{
				"count":   len(out),
				"courses": out,
			}, nil
		},
	}
}

func interactionHistoryTool() toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "get_interaction_history",
		Description: "Return the most recent interaction history entries for this session.",
		Parameters: []toolexec.ToolParameter{
			{Name: "limit", Type: "integer", Description: "Maximum number of entries to return", Default: 10},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexec.ExecContextFromContext(ctx)
			if execCtx == nil || execCtx.State == nil {
				return nil, fmt.Errorf("execution context with session state is required")
			}

			limit := toInt(params["limit"], 10)
			entries := execCtx.State.RecentHistory(limit)
			out := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				out = append(out, map[string]interface{}{
					"role":      e.Role,
					"message":   e.Message,
					"timestamp": e.Timestamp.Format(time.RFC3339),
				})
			}

			return map[string]interface{}{
				"count":   len(out),
				"entries": out,
			}, nil
		},
	}
}

func searchFAQTool(faq FAQSearcher) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "search_faq",
		Description: "Search the course knowledge base for lesson content, FAQs and troubleshooting answers.",
		Parameters: []toolexec.ToolParameter{
			{Name: "query", Type: "string", Description: "Free-text search query", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of results", Default: 3},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}

			limit := toInt(params["limit"], 3)
			results, err := faq.SearchText(ctx, query, limit)
			if err != nil {
				return nil, fmt.Errorf("knowledge base search failed: %w", err)
			}

			return map[string]interface{}{
				"count":   len(results),
				"results": results,
			}, nil
		},
	}
}

// toInt coerces JSON-decoded numbers, which arrive as float64.
func toInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
