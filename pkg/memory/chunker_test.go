package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDocument(t *testing.T) {
	t.Run("should split on markdown headings", func(t *testing.T) {
		doc := "# Refunds\n\nYou can request a refund within 30 days.\n\n## Process\n\nEmail support with your order ID."

		chunks := splitDocument(doc)

		require.Len(t, chunks, 2)
		assert.Equal(t, "Refunds", chunks[0].heading)
		assert.Contains(t, chunks[0].content, "30 days")
		assert.Equal(t, "Process", chunks[1].heading)
		assert.Contains(t, chunks[1].content, "order ID")
	})

	t.Run("should keep preamble before first heading", func(t *testing.T) {
		doc := "Welcome to the help center.\n\n# Courses\n\nAll courses are self-paced."

		chunks := splitDocument(doc)

		require.Len(t, chunks, 2)
		assert.Equal(t, "", chunks[0].heading)
		assert.Contains(t, chunks[0].content, "help center")
	})

	t.Run("should split oversized sections at paragraphs", func(t *testing.T) {
		para := strings.Repeat("word ", 160) // ~800 chars
		doc := "# Big\n\n" + para + "\n\n" + para + "\n\n" + para

		chunks := splitDocument(doc)

		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.Equal(t, "Big", c.heading)
			assert.LessOrEqual(t, len(c.content), maxChunkSize)
		}
	})

	t.Run("should return nothing for empty document", func(t *testing.T) {
		assert.Empty(t, splitDocument(""))
		assert.Empty(t, splitDocument("\n\n\n"))
	})
}

func TestFTSQuery(t *testing.T) {
	t.Run("should quote each term", func(t *testing.T) {
		assert.Equal(t, `"refund" OR "policy"`, ftsQuery("refund policy"))
	})

	t.Run("should strip embedded quotes", func(t *testing.T) {
		assert.Equal(t, `"whats" OR "the" OR "deal"`, ftsQuery(`"whats" the deal`))
	})
}
