package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_MinimumSizeFilter(t *testing.T) {
	small := "```go\nfmt.Println(\"hi\")\n```"
	large := "```python\n" + strings.Repeat("print('x')\n", 40) + "```"
	doc := "Intro.\n\n" + small + "\n\nMiddle.\n\n" + large + "\n\nEnd."

	e := NewExtractor(300, 1000)
	blocks := e.Extract(doc)

	require.Len(t, blocks, 1)
	assert.Equal(t, "python", blocks[0].Language)
	assert.Equal(t, 0, blocks[0].Index)
	assert.Contains(t, blocks[0].Code, "print('x')")
	assert.NotContains(t, blocks[0].Code, "```")
}

func TestExtractor_SurroundingContext(t *testing.T) {
	doc := "This example shows connection pooling.\n\n```go\n" +
		strings.Repeat("pool.Acquire(ctx)\n", 30) +
		"```\n\nRemember to release connections."

	e := NewExtractor(100, 1000)
	blocks := e.Extract(doc)

	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Context, "connection pooling")
	assert.Contains(t, blocks[0].Context, "release connections")
}

func TestExtractor_ContextWindowCapped(t *testing.T) {
	doc := strings.Repeat("a", 5000) + "\n```js\n" +
		strings.Repeat("let x = 1;\n", 40) + "```\n" + strings.Repeat("b", 5000)

	e := NewExtractor(100, 200)
	blocks := e.Extract(doc)

	require.Len(t, blocks, 1)
	// Two capped sides plus the separator.
	assert.LessOrEqual(t, len(blocks[0].Context), 2*200+len("\n...\n"))
}

func TestExtractor_NoLanguage(t *testing.T) {
	doc := "```\n" + strings.Repeat("plain text content\n", 30) + "```"

	e := NewExtractor(100, 100)
	blocks := e.Extract(doc)

	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Language)
}

func TestExtractor_OrderedIndices(t *testing.T) {
	block := "```go\n" + strings.Repeat("x := compute()\n", 30) + "```"
	doc := block + "\n\nprose\n\n" + block + "\n\nprose\n\n" + block

	e := NewExtractor(100, 50)
	blocks := e.Extract(doc)

	require.Len(t, blocks, 3)
	for i, b := range blocks {
		assert.Equal(t, i, b.Index)
	}
}
