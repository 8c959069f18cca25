package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New()

	t.Run("should carry the flagship course", func(t *testing.T) {
		course, err := c.Get(FlagshipCourseID)
		require.NoError(t, err)
		assert.Equal(t, "Fullstack AI Marketing Platform", course.Title)
		assert.Greater(t, course.Price, 0.0)
	})

	t.Run("should error on unknown ids", func(t *testing.T) {
		_, err := c.Get("underwater_basket_weaving")
		assert.ErrorContains(t, err, "unknown course")
	})
}

func TestList(t *testing.T) {
	c := New()

	courses := c.List()
	require.NotEmpty(t, courses)

	for i := 1; i < len(courses); i++ {
		assert.Less(t, courses[i-1].ID, courses[i].ID, "list must be sorted by id")
	}
}

func TestAdd(t *testing.T) {
	t.Run("should register a new course", func(t *testing.T) {
		c := New()
		err := c.Add(Course{ID: "rust_101", Title: "Rust 101", Price: 59})
		require.NoError(t, err)
		assert.True(t, c.Has("rust_101"))
	})

	t.Run("should reject blank ids and titles", func(t *testing.T) {
		c := New()
		assert.Error(t, c.Add(Course{Title: "No ID"}))
		assert.Error(t, c.Add(Course{ID: "no_title"}))
	})
}
