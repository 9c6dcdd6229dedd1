// Package llm generates the short texts the pipeline needs from a
// language model: per-chunk context strings for contextual embeddings,
// code example summaries, and source summaries. A heuristic provider
// covers deployments without an API key.
package llm

import (
	"context"
	"strings"
)

// Input caps keep prompts inside model context windows. Documents are
// truncated, not rejected; the truncated prefix is enough for the short
// outputs these prompts produce.
const (
	maxDocumentChars    = 25000
	maxChunkChars       = 4000
	maxCodeChars        = 8000
	maxSurroundingChars = 2000
	maxSourceChars      = 5000
)

// Summarizer produces the LLM-generated strings used during ingestion.
type Summarizer interface {
	// ChunkContext returns a short string situating the chunk within the
	// full document. It is prepended to the chunk before embedding.
	ChunkContext(ctx context.Context, fullDocument, chunk string) (string, error)

	// CodeSummary describes what a code example demonstrates.
	CodeSummary(ctx context.Context, code, surrounding string) (string, error)

	// SourceSummary summarizes a source from a sample of its content.
	SourceSummary(ctx context.Context, sourceID, content string) (string, error)

	// Name identifies the provider for logs.
	Name() string
}

const chunkContextSystem = "You are situating a chunk of a document for search retrieval. " +
	"Answer with a short context of 2-3 sentences and nothing else."

const codeSummarySystem = "You summarize code examples from documentation. " +
	"Answer with a single paragraph describing what the example demonstrates and nothing else."

const sourceSummarySystem = "You summarize documentation websites. " +
	"Answer with 2-3 sentences describing what the site covers and nothing else."

func chunkContextPrompt(fullDocument, chunk string) string {
	var b strings.Builder
	b.WriteString("<document>\n")
	b.WriteString(truncate(fullDocument, maxDocumentChars))
	b.WriteString("\n</document>\n\nHere is the chunk to situate within the document:\n<chunk>\n")
	b.WriteString(truncate(chunk, maxChunkChars))
	b.WriteString("\n</chunk>\n\nGive a short succinct context to situate this chunk for search retrieval.")
	return b.String()
}

func codeSummaryPrompt(code, surrounding string) string {
	var b strings.Builder
	b.WriteString("<context>\n")
	b.WriteString(truncate(surrounding, maxSurroundingChars))
	b.WriteString("\n</context>\n\n<code>\n")
	b.WriteString(truncate(code, maxCodeChars))
	b.WriteString("\n</code>\n\nSummarize what this code example demonstrates.")
	return b.String()
}

func sourceSummaryPrompt(sourceID, content string) string {
	var b strings.Builder
	b.WriteString("Source: ")
	b.WriteString(sourceID)
	b.WriteString("\n\n<content>\n")
	b.WriteString(truncate(content, maxSourceChars))
	b.WriteString("\n</content>\n\nSummarize what this documentation source covers.")
	return b.String()
}

// truncate cuts s to at most n bytes, backing off to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && cut[len(cut)-1] >= 0x80 && cut[len(cut)-1] < 0xC0 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
