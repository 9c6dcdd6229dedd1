package llm

import (
	"context"
	"fmt"
	"strings"
)

// HeuristicSummarizer produces summaries without a model. Quality is
// lower than an LLM but deterministic, free, and always available, so
// ingestion works in deployments with no API key configured.
type HeuristicSummarizer struct{}

var _ Summarizer = (*HeuristicSummarizer)(nil)

// NewHeuristicSummarizer creates the no-model summarizer.
func NewHeuristicSummarizer() *HeuristicSummarizer {
	return &HeuristicSummarizer{}
}

// ChunkContext returns an empty string: without a model there is no
// useful situating context, and prepending noise would hurt recall.
func (h *HeuristicSummarizer) ChunkContext(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

// CodeSummary derives a summary from the text immediately before the
// block, which in documentation usually introduces the example.
func (h *HeuristicSummarizer) CodeSummary(_ context.Context, code, surrounding string) (string, error) {
	if intro := lastParagraph(surrounding); intro != "" {
		return truncate(intro, 300), nil
	}
	lines := strings.Count(code, "\n") + 1
	return fmt.Sprintf("Code example (%d lines).", lines), nil
}

// SourceSummary takes the leading prose of the aggregated content.
func (h *HeuristicSummarizer) SourceSummary(_ context.Context, sourceID, content string) (string, error) {
	for _, para := range strings.Split(content, "\n\n") {
		text := strings.TrimSpace(stripMarkdown(para))
		if len(text) >= 40 {
			return truncate(text, 500), nil
		}
	}
	return "Content from " + sourceID, nil
}

// Name identifies the provider.
func (h *HeuristicSummarizer) Name() string {
	return "heuristic"
}

// lastParagraph returns the final non-empty paragraph of text.
func lastParagraph(text string) string {
	paras := strings.Split(text, "\n\n")
	for i := len(paras) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(stripMarkdown(paras[i])); p != "" {
			return p
		}
	}
	return ""
}

// stripMarkdown removes header markers and emphasis characters, enough
// for summary text that never round-trips back to markdown.
func stripMarkdown(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#>- ")
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, "`", "")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, " ")
}
