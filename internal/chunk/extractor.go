package chunk

import (
	"strings"
)

// CodeBlock is a fenced code block pulled out of a document for the
// code-examples collection.
type CodeBlock struct {
	// Code is the fence body without the fence markers.
	Code string
	// Language is the fence info string, possibly empty.
	Language string
	// Context is the text immediately before and after the fence,
	// capped at the extractor's context window on each side.
	Context string
	// Index is the zero-based position among extracted blocks.
	Index int
}

// Extractor pulls fenced code blocks of a minimum size out of markdown.
type Extractor struct {
	minChars     int
	contextChars int
}

// NewExtractor creates an extractor keeping blocks of at least minChars
// body characters, with contextChars of surrounding text per side.
func NewExtractor(minChars, contextChars int) *Extractor {
	if minChars <= 0 {
		minChars = DefaultMinCodeBlockChars
	}
	if contextChars <= 0 {
		contextChars = DefaultContextChars
	}
	return &Extractor{minChars: minChars, contextChars: contextChars}
}

// Extract returns every fenced block whose body is at least the minimum
// length, in document order.
func (e *Extractor) Extract(text string) []CodeBlock {
	var blocks []CodeBlock

	for _, f := range fenceRanges(text) {
		body, language, ok := parseFence(text[f.start:f.end])
		if !ok || len(body) < e.minChars {
			continue
		}

		before := text[:f.start]
		if len(before) > e.contextChars {
			before = before[len(before)-e.contextChars:]
		}
		afterStart := f.end
		if afterStart > len(text) {
			afterStart = len(text)
		}
		after := text[afterStart:]
		if len(after) > e.contextChars {
			after = after[:e.contextChars]
		}

		blocks = append(blocks, CodeBlock{
			Code:     body,
			Language: language,
			Context:  strings.TrimSpace(before + "\n...\n" + after),
			Index:    len(blocks),
		})
	}

	return blocks
}

// parseFence splits one fenced block into info string and body. The
// fence markers themselves are dropped.
func parseFence(fence string) (body, language string, ok bool) {
	fence = strings.TrimRight(fence, "\n")
	lines := strings.SplitN(fence, "\n", 2)
	if len(lines) < 2 {
		return "", "", false
	}

	info := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(lines[0]), "`"))
	if fields := strings.Fields(info); len(fields) > 0 {
		language = fields[0]
	}

	rest := lines[1]
	// Drop the closing fence line when present.
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimRight(rest, "\n"), language, true
}
