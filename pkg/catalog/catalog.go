// Package catalog holds the static course catalog the sales and order
// agents work against.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Course describes one sellable course.
type Course struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// FlagshipCourseID is the course the sales agent leads with.
const FlagshipCourseID = "ai_marketing_platform"

// Catalog is an in-process course catalog.
type Catalog struct {
	mu      sync.RWMutex
	courses map[string]Course
}

// New creates a catalog pre-loaded with the default course list.
func New() *Catalog {
	c := &Catalog{courses: make(map[string]Course)}
	for _, course := range defaultCourses {
		c.courses[course.ID] = course
	}
	return c
}

var defaultCourses = []Course{
	{
		ID:          FlagshipCourseID,
		Title:       "Fullstack AI Marketing Platform",
		Price:       149,
		Description: "Build and ship a complete AI-powered marketing platform, from data pipeline to deployed product.",
	},
	{
		ID:          "go_for_beginners",
		Title:       "Go for Beginners",
		Price:       49,
		Description: "A hands-on introduction to the Go programming language.",
	},
	{
		ID:          "prompt_engineering_basics",
		Title:       "Prompt Engineering Basics",
		Price:       29,
		Description: "Practical prompting techniques for working with large language models.",
	},
}

// Get returns the course for the id.
func (c *Catalog) Get(courseID string) (Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	course, ok := c.courses[strings.TrimSpace(courseID)]
	if !ok {
		return Course{}, fmt.Errorf("unknown course: %s", courseID)
	}
	return course, nil
}

// Has reports whether the catalog carries the course id.
func (c *Catalog) Has(courseID string) bool {
	_, err := c.Get(courseID)
	return err == nil
}

// List returns all courses sorted by id.
func (c *Catalog) List() []Course {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Course, 0, len(c.courses))
	for _, course := range c.courses {
		out = append(out, course)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add registers a course, replacing any existing entry with the same id.
func (c *Catalog) Add(course Course) error {
	if strings.TrimSpace(course.ID) == "" {
		return fmt.Errorf("course id cannot be empty")
	}
	if strings.TrimSpace(course.Title) == "" {
		return fmt.Errorf("course title cannot be empty")
	}

	c.mu.Lock()
	c.courses[course.ID] = course
	c.mu.Unlock()
	return nil
}
