// Package ingest turns crawled pages into stored, searchable content:
// chunking, optional contextual framing, embedding, code example
// extraction, and source registry upkeep.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lodestone-mcp/lodestone/internal/chunk"
	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/crawl"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/llm"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
)

// upsertBatchSize bounds one store round trip.
const upsertBatchSize = 100

// sourceSampleChars caps the content sample fed to source summarization.
const sourceSampleChars = 5000

// PageReport records the outcome of ingesting one page.
type PageReport struct {
	URL              string `json:"url"`
	SourceID         string `json:"source_id,omitempty"`
	ChunkCount       int    `json:"chunks_stored"`
	CodeExampleCount int    `json:"code_examples_stored"`
	WordCount        int    `json:"word_count"`
	Err              error  `json:"-"`
}

// OK reports whether the page was stored.
func (r PageReport) OK() bool { return r.Err == nil }

// Report is the outcome of one ingestion run.
type Report struct {
	Pages          []PageReport `json:"pages"`
	SourcesUpdated []string     `json:"sources_updated"`
}

// Stored counts pages ingested without error.
func (r *Report) Stored() int {
	n := 0
	for _, p := range r.Pages {
		if p.OK() {
			n++
		}
	}
	return n
}

// Pipeline drives ingestion. One failing page never aborts the run; its
// error lands in the report.
type Pipeline struct {
	store      vectorstore.Store
	embedder   embed.Embedder
	summarizer llm.Summarizer
	chunker    *chunk.Chunker
	extractor  *chunk.Extractor

	flags          config.FlagsConfig
	llmConcurrency int
	chunkOverlap   int
	log            *slog.Logger
}

// New wires the pipeline from already-constructed components.
func New(store vectorstore.Store, embedder embed.Embedder, summarizer llm.Summarizer, cfg *config.Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	concurrency := cfg.LLM.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		chunker:    chunk.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		extractor:  chunk.NewExtractor(cfg.Chunking.MinCodeBlockChars, 1000),

		flags:          cfg.Flags,
		llmConcurrency: concurrency,
		chunkOverlap:   cfg.Chunking.ChunkOverlap,
		log:            log,
	}
}

// WithChunkSize returns a pipeline view whose chunker targets a
// different chunk size. Store, embedder, and summarizer are shared.
func (p *Pipeline) WithChunkSize(size int) *Pipeline {
	if size <= 0 {
		return p
	}
	view := *p
	view.chunker = chunk.NewChunker(size, p.chunkOverlap)
	return &view
}

// IngestResults stores every successfully crawled page and refreshes
// the source registry for the touched hosts.
func (p *Pipeline) IngestResults(ctx context.Context, results []crawl.PageResult) (*Report, error) {
	report := &Report{}

	type sourceAccum struct {
		words  int
		sample string
	}
	sources := make(map[string]*sourceAccum)

	for _, res := range results {
		if ctx.Err() != nil {
			return report, lserrors.DeadlineExceeded("ingestion interrupted", ctx.Err())
		}
		if !res.OK() {
			report.Pages = append(report.Pages, PageReport{URL: res.URL, Err: res.Err})
			continue
		}

		pr := p.ingestPage(ctx, res.Page)
		report.Pages = append(report.Pages, pr)
		if !pr.OK() {
			p.log.Warn("page ingestion failed", "url", pr.URL, "error", pr.Err)
			continue
		}

		acc, ok := sources[pr.SourceID]
		if !ok {
			acc = &sourceAccum{}
			sources[pr.SourceID] = acc
		}
		acc.words += pr.WordCount
		if acc.sample == "" {
			acc.sample = truncateSample(res.Page.Markdown)
		}
	}

	for sourceID, acc := range sources {
		if err := p.updateSource(ctx, sourceID, acc.words, acc.sample); err != nil {
			p.log.Warn("source registry update failed", "source_id", sourceID, "error", err)
			continue
		}
		report.SourcesUpdated = append(report.SourcesUpdated, sourceID)
	}
	sort.Strings(report.SourcesUpdated)

	p.log.Info("ingestion complete",
		"pages", len(report.Pages),
		"stored", report.Stored(),
		"sources", len(report.SourcesUpdated))
	return report, nil
}

// ingestPage replaces a page's stored content: delete by URL, then
// upsert the fresh chunks and (when enabled) code examples.
func (p *Pipeline) ingestPage(ctx context.Context, page *crawl.Page) PageReport {
	pr := PageReport{URL: page.URL, SourceID: crawl.SourceID(page.URL)}

	chunks := p.chunker.Chunk(page.Markdown)

	// Re-crawled pages replace their previous content even when the new
	// version is empty.
	if err := p.store.DeleteChunksByURL(ctx, page.URL); err != nil {
		pr.Err = err
		return pr
	}
	if err := p.store.DeleteCodeExamplesByURL(ctx, page.URL); err != nil {
		pr.Err = err
		return pr
	}
	if len(chunks) == 0 {
		return pr
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
		pr.WordCount += c.WordCount
	}

	contextual := false
	if p.flags.ContextualEmbeddings {
		framed, err := p.frameChunks(ctx, page.Markdown, contents)
		if err != nil {
			p.log.Warn("contextual framing failed, embedding plain chunks", "url", page.URL, "error", err)
		} else {
			contents = framed
			contextual = true
		}
	}

	embeddings := embed.BatchWithFallback(ctx, p.embedder, contents)

	records := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{
			"headers":    c.HeaderPath,
			"word_count": c.WordCount,
			"char_count": c.CharCount,
		}
		if contextual {
			meta["contextual_embedding"] = true
		}
		records[i] = vectorstore.Chunk{
			URL:        page.URL,
			ChunkIndex: c.Index,
			Content:    contents[i],
			SourceID:   pr.SourceID,
			Embedding:  embeddings[i],
			Metadata:   meta,
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := p.store.UpsertChunks(ctx, records[start:end]); err != nil {
			pr.Err = err
			return pr
		}
	}
	pr.ChunkCount = len(records)

	if p.flags.AgenticRAG {
		n, err := p.ingestCodeExamples(ctx, page)
		if err != nil {
			pr.Err = err
			return pr
		}
		pr.CodeExampleCount = n
	}
	return pr
}

// frameChunks asks the model for a situating context per chunk and
// prepends it. Calls run in parallel under the LLM concurrency cap.
func (p *Pipeline) frameChunks(ctx context.Context, document string, contents []string) ([]string, error) {
	framed := make([]string, len(contents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.llmConcurrency)
	for i, content := range contents {
		g.Go(func() error {
			framing, err := p.summarizer.ChunkContext(gctx, document, content)
			if err != nil {
				return err
			}
			if framing == "" {
				framed[i] = content
			} else {
				framed[i] = framing + "\n---\n" + content
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return framed, nil
}

func (p *Pipeline) ingestCodeExamples(ctx context.Context, page *crawl.Page) (int, error) {
	blocks := p.extractor.Extract(page.Markdown)
	if len(blocks) == 0 {
		return 0, nil
	}
	sourceID := crawl.SourceID(page.URL)

	summaries := make([]string, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.llmConcurrency)
	for i, b := range blocks {
		g.Go(func() error {
			summary, err := p.summarizer.CodeSummary(gctx, b.Code, b.Context)
			if err != nil {
				p.log.Warn("code summary failed", "url", page.URL, "index", b.Index, "error", err)
				summary = ""
			}
			summaries[i] = summary
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return 0, lserrors.DeadlineExceeded("summarizing code examples", ctx.Err())
	}

	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.Code
		if summaries[i] != "" {
			texts[i] = b.Code + "\n\nSummary: " + summaries[i]
		}
	}
	embeddings := embed.BatchWithFallback(ctx, p.embedder, texts)

	records := make([]vectorstore.CodeExample, len(blocks))
	for i, b := range blocks {
		records[i] = vectorstore.CodeExample{
			URL:          page.URL,
			ExampleIndex: b.Index,
			Code:         b.Code,
			Language:     b.Language,
			Summary:      summaries[i],
			SourceID:     sourceID,
			Embedding:    embeddings[i],
			Metadata: map[string]any{
				"language":   b.Language,
				"char_count": len(b.Code),
			},
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := p.store.UpsertCodeExamples(ctx, records[start:end]); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// updateSource regenerates the source summary from this run's sample
// and recounts the word total across everything stored for the source.
func (p *Pipeline) updateSource(ctx context.Context, sourceID string, runWords int, sample string) error {
	summary, err := p.summarizer.SourceSummary(ctx, sourceID, sample)
	if err != nil {
		p.log.Warn("source summary failed, keeping placeholder", "source_id", sourceID, "error", err)
		summary = fmt.Sprintf("Content from %s", sourceID)
	}
	if summary == "" {
		summary = fmt.Sprintf("Content from %s", sourceID)
	}

	// Stored chunks are the truth for the total: pages from earlier runs
	// still count, replaced pages count once.
	total, err := p.store.SourceWordCount(ctx, sourceID)
	if err != nil {
		p.log.Warn("source word recount failed, using this run's count", "source_id", sourceID, "error", err)
		total = runWords
	}

	return p.store.UpsertSource(ctx, vectorstore.SourceRecord{
		SourceID:   sourceID,
		Summary:    summary,
		TotalWords: total,
	})
}

func truncateSample(s string) string {
	if len(s) <= sourceSampleChars {
		return s
	}
	return s[:sourceSampleChars]
}
