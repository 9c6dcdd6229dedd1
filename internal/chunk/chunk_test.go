package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortDocumentSingleChunk(t *testing.T) {
	c := NewChunker(5000, 200)
	chunks := c.Chunk("# Title\n\nHello world.")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Contains(t, chunks[0].Content, "Hello world.")
	assert.Equal(t, 3, chunks[0].WordCount)
}

func TestChunker_EmptyInput(t *testing.T) {
	c := NewChunker(5000, 200)
	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\t  "))
}

func TestChunker_Deterministic(t *testing.T) {
	c := NewChunker(500, 50)
	doc := buildDoc(20)

	first := c.Chunk(doc)
	second := c.Chunk(doc)
	assert.Equal(t, first, second)
}

func TestChunker_DenseIndices(t *testing.T) {
	c := NewChunker(400, 50)
	chunks := c.Chunk(buildDoc(30))

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Content)
	}
}

func TestChunker_PrefersHeaderBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Guide\n\n")
	b.WriteString(strings.Repeat("Intro text. ", 40)) // ~480 chars
	b.WriteString("\n\n## Second Section\n\n")
	b.WriteString(strings.Repeat("Body text. ", 40))

	c := NewChunker(500, 0)
	chunks := c.Chunk(b.String())

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "## Second Section"),
		"second chunk should start at the header, got: %.60q", chunks[1].Content)
	assert.Equal(t, "Guide > Second Section", chunks[1].HeaderPath)
}

func TestChunker_NeverSplitsInsideFence(t *testing.T) {
	var b strings.Builder
	b.WriteString(strings.Repeat("Leading prose sentence. ", 15))
	b.WriteString("\n\n```python\n")
	b.WriteString(strings.Repeat("print('do not split me')\n", 30))
	b.WriteString("```\n\n")
	b.WriteString(strings.Repeat("Trailing prose sentence. ", 15))

	c := NewChunker(400, 0)
	chunks := c.Chunk(b.String())

	for _, ch := range chunks {
		opens := strings.Count(ch.Content, "```")
		assert.Equal(t, 0, opens%2, "chunk has unbalanced fences:\n%s", ch.Content)
	}
}

func TestChunker_OverlapCarriedForward(t *testing.T) {
	c := NewChunker(300, 60)
	chunks := c.Chunk(buildDoc(20))
	require.Greater(t, len(chunks), 1)

	// The tail of each chunk reappears at the head of the next.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := prev[len(prev)-20:]
		assert.Contains(t, chunks[i].Content[:minInt(200, len(chunks[i].Content))], strings.TrimSpace(tail))
	}
}

func TestChunker_HeaderPathTracksHierarchy(t *testing.T) {
	doc := "# Top\n\n" + strings.Repeat("alpha text. ", 50) +
		"\n\n## Nested\n\n" + strings.Repeat("beta text. ", 50)

	c := NewChunker(400, 0)
	chunks := c.Chunk(doc)
	require.Greater(t, len(chunks), 1)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "Top > Nested", last.HeaderPath)
}

func TestFenceRanges_Unclosed(t *testing.T) {
	text := "prose\n```go\nfunc main() {}\n"
	ranges := fenceRanges(text)
	require.Len(t, ranges, 1)
	assert.Equal(t, len(text), ranges[0].end)
}

func buildDoc(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Paragraph %d has several sentences of filler. ", i)
		b.WriteString("Each one pads the document with text to split. ")
		b.WriteString("More words arrive to fill the paragraph out.\n\n")
	}
	return b.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
