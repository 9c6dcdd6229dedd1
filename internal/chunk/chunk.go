// Package chunk splits markdown documents into retrieval-sized pieces
// and extracts fenced code blocks. Both operations are pure functions of
// their inputs: the same document always produces identical chunks.
package chunk

import (
	"strings"
)

// Defaults for chunking parameters, overridable through configuration.
const (
	DefaultChunkSize         = 5000
	DefaultChunkOverlap      = 200
	DefaultMinCodeBlockChars = 300
	DefaultContextChars      = 1000
)

// headerWindow is the fraction of the target size around which a header
// boundary is preferred over a plain size split.
const headerWindow = 0.15

// Chunk is one split of a markdown document.
type Chunk struct {
	// Content is the chunk text, including any carried overlap.
	Content string
	// Index is the zero-based position within the document.
	Index int
	// HeaderPath is the "H1 > H2 > H3" path active at the chunk start.
	HeaderPath string
	// WordCount counts whitespace-separated words in Content.
	WordCount int
	// CharCount is len(Content).
	CharCount int
}

// Chunker splits markdown by header and size boundaries while keeping
// fenced code blocks intact.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with target chunk size and overlap in
// characters. Out-of-range values fall back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size < 100 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits the markdown text. Chunks come back in document order
// with dense indices starting at zero. Whitespace-only input produces
// no chunks.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fences := fenceRanges(text)
	headers := newHeaderTracker(text)

	var chunks []Chunk
	start := 0
	var carry string

	for start < len(text) {
		end := c.splitPoint(text, start, fences)

		content := carry + text[start:end]
		content = strings.TrimSpace(content)
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				Index:      len(chunks),
				HeaderPath: headers.pathAt(start),
				WordCount:  len(strings.Fields(content)),
				CharCount:  len(content),
			})
		}

		if end >= len(text) {
			break
		}

		// Carry the overlap forward rather than re-reading earlier text,
		// so chunk boundaries stay monotonic.
		carryStart := end - c.overlap
		if carryStart < start {
			carryStart = start
		}
		carry = text[carryStart:end]
		start = end
	}

	return chunks
}

// splitPoint picks where the chunk starting at start should end.
// Preference order: H1-H3 boundary within ±15% of the target size,
// paragraph break, sentence end, hard cut. A split inside a fenced
// code block is never chosen; if the target lands inside a fence the
// chunk extends to the fence end.
func (c *Chunker) splitPoint(text string, start int, fences []fenceRange) int {
	remaining := len(text) - start
	if remaining <= c.size+int(float64(c.size)*headerWindow) {
		return len(text)
	}

	target := start + c.size
	lo := start + c.size - int(float64(c.size)*headerWindow)
	hi := start + c.size + int(float64(c.size)*headerWindow)
	if hi > len(text) {
		hi = len(text)
	}

	if split := lastHeaderBoundary(text, lo, hi, fences); split > start {
		return split
	}
	if split := lastBoundary(text, "\n\n", lo, target, fences); split > start {
		return split
	}
	if split := lastSentenceBoundary(text, lo, target, fences); split > start {
		return split
	}

	// Hard cut, pushed past any fence it would land inside.
	if f, inside := fenceAt(fences, target); inside {
		if f.start > start {
			return f.start
		}
		if f.end < len(text) {
			return f.end
		}
		return len(text)
	}
	return target
}

// lastHeaderBoundary finds the byte offset of the last H1-H3 line
// beginning in [lo, hi), outside any fence. The split lands just before
// the header so the heading travels with its section.
func lastHeaderBoundary(text string, lo, hi int, fences []fenceRange) int {
	best := -1
	for i := lo; i < hi; i++ {
		if text[i] != '\n' || i+1 >= len(text) {
			continue
		}
		if _, inside := fenceAt(fences, i+1); inside {
			continue
		}
		rest := text[i+1:]
		level := 0
		for level < len(rest) && rest[level] == '#' {
			level++
		}
		if level >= 1 && level <= 3 && level < len(rest) && rest[level] == ' ' {
			best = i + 1
		}
	}
	return best
}

// lastBoundary finds the end of the last occurrence of sep in [lo, hi),
// outside any fence.
func lastBoundary(text, sep string, lo, hi int, fences []fenceRange) int {
	if hi > len(text) {
		hi = len(text)
	}
	for i := hi - len(sep); i >= lo; i-- {
		if !strings.HasPrefix(text[i:], sep) {
			continue
		}
		split := i + len(sep)
		if _, inside := fenceAt(fences, i); inside {
			continue
		}
		return split
	}
	return -1
}

// lastSentenceBoundary finds the position after the last ". " in
// [lo, hi), outside any fence.
func lastSentenceBoundary(text string, lo, hi int, fences []fenceRange) int {
	if hi > len(text) {
		hi = len(text)
	}
	for i := hi - 2; i >= lo; i-- {
		if text[i] != '.' || text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		if _, inside := fenceAt(fences, i); inside {
			continue
		}
		return i + 2
	}
	return -1
}

// fenceRange is a half-open byte range covering one fenced code block,
// from the opening ``` line through the closing ``` line.
type fenceRange struct {
	start int
	end   int
}

// fenceRanges locates all fenced code blocks. An unclosed fence extends
// to the end of the document.
func fenceRanges(text string) []fenceRange {
	var ranges []fenceRange
	var open bool
	var openStart int

	pos := 0
	for pos <= len(text) {
		lineEnd := strings.IndexByte(text[pos:], '\n')
		var next int
		if lineEnd < 0 {
			lineEnd = len(text)
			next = len(text) + 1
		} else {
			lineEnd += pos
			next = lineEnd + 1
		}

		line := strings.TrimLeft(text[pos:lineEnd], " \t")
		if strings.HasPrefix(line, "```") {
			if open {
				ranges = append(ranges, fenceRange{start: openStart, end: next})
				open = false
			} else {
				open = true
				openStart = pos
			}
		}
		pos = next
	}

	if open {
		ranges = append(ranges, fenceRange{start: openStart, end: len(text)})
	}
	return ranges
}

// fenceAt reports whether pos falls strictly inside a fence.
func fenceAt(fences []fenceRange, pos int) (fenceRange, bool) {
	for _, f := range fences {
		if pos > f.start && pos < f.end {
			return f, true
		}
	}
	return fenceRange{}, false
}

// headerTracker answers "which headers are active at byte offset N".
type headerTracker struct {
	offsets []int
	paths   []string
}

// newHeaderTracker scans the document once, recording the header path in
// effect after each H1-H6 line.
func newHeaderTracker(text string) *headerTracker {
	t := &headerTracker{}
	fences := fenceRanges(text)
	stack := make([]string, 6)

	pos := 0
	for pos < len(text) {
		lineEnd := strings.IndexByte(text[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += pos
		}

		if _, inside := fenceAt(fences, pos); !inside {
			line := text[pos:lineEnd]
			level := 0
			for level < len(line) && line[level] == '#' {
				level++
			}
			if level >= 1 && level <= 6 && level < len(line) && line[level] == ' ' {
				stack[level-1] = strings.TrimSpace(line[level:])
				for i := level; i < 6; i++ {
					stack[i] = ""
				}

				var parts []string
				for _, h := range stack {
					if h != "" {
						parts = append(parts, h)
					}
				}
				t.offsets = append(t.offsets, pos)
				t.paths = append(t.paths, strings.Join(parts, " > "))
			}
		}

		pos = lineEnd + 1
	}
	return t
}

// pathAt returns the header path active at the given offset.
func (t *headerTracker) pathAt(offset int) string {
	path := ""
	for i, off := range t.offsets {
		if off > offset {
			break
		}
		path = t.paths[i]
	}
	return path
}
