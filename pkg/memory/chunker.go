package memory

import "strings"

const maxChunkSize = 1200

type docChunk struct {
	heading string
	content string
}

// splitDocument breaks a document into chunks along markdown headings.
// Oversized sections are further split at paragraph boundaries.
func splitDocument(content string) []docChunk {
	lines := strings.Split(content, "\n")

	var chunks []docChunk
	var heading string
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if text == "" {
			return
		}
		for _, part := range splitBySize(text) {
			chunks = append(chunks, docChunk{heading: heading, content: part})
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		buf = append(buf, line)
	}
	flush()

	return chunks
}

// splitBySize splits text at paragraph boundaries so no piece exceeds
// maxChunkSize. A single paragraph longer than the limit is kept whole.
func splitBySize(text string) []string {
	if len(text) <= maxChunkSize {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []string
	var current strings.Builder

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > maxChunkSize {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
