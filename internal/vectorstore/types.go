package vectorstore

import (
	"time"
)

// Collection names shared by both backends.
const (
	CollectionChunks       = "crawled_pages"
	CollectionCodeExamples = "code_examples"
	CollectionSources      = "sources"
)

// Chunk is one unit of ingested page content.
type Chunk struct {
	// URL is the canonical page URL the chunk came from.
	URL string
	// ChunkIndex is the zero-based position within the page.
	ChunkIndex int
	// Content is the chunk text, possibly prefixed with contextual framing.
	Content string
	// SourceID is the registrable host of the URL.
	SourceID string
	// Embedding is the dense vector, dimension D.
	Embedding []float32
	// Metadata carries JSON-scalar annotations (headers, word counts, ...).
	Metadata map[string]any
}

// CodeExample is an extracted code block with its generated summary.
type CodeExample struct {
	URL          string
	ExampleIndex int
	// Code is the fenced block body.
	Code string
	// Language is the fence info string, possibly empty.
	Language string
	// Summary describes what the example demonstrates.
	Summary  string
	SourceID string
	// Embedding covers code plus summary.
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult is one hit from either collection.
type SearchResult struct {
	// ID is the stored point/row identifier (a UUID string).
	ID string
	// URL and ChunkIndex locate the hit within its page.
	URL        string
	ChunkIndex int
	Content    string
	SourceID   string
	Metadata   map[string]any
	// Score is similarity in [0,1]; higher means closer.
	Score float64
}

// SourceRecord summarizes everything stored for one host.
type SourceRecord struct {
	// SourceID is the registrable host, e.g. "docs.example.com".
	SourceID string
	// Summary is an LLM- or heuristic-generated description.
	Summary string
	// TotalWords sums word counts over all stored chunks of the source.
	TotalWords int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
