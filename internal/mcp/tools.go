package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lodestone-mcp/lodestone/internal/crawl"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/hallucinate"
	"github.com/lodestone-mcp/lodestone/internal/ingest"
	"github.com/lodestone-mcp/lodestone/internal/retrieve"
)

const (
	defaultMatchCount   = 5
	defaultNumResults   = 6
	defaultCrawlDepth   = 3
	maxMatchCount       = 50
	maxWebsearchResults = 20
)

// =============================================================================
// scrape_urls
// =============================================================================

// ScrapeInput accepts one URL or a list. Decoded from a raw argument
// map so a wrong-typed url yields a structured error.
type ScrapeInput struct {
	URL               StringList `json:"url"`
	ReturnRawMarkdown bool       `json:"return_raw_markdown,omitempty"`
	MaxConcurrent     int        `json:"max_concurrent,omitempty"`
	BatchSize         int        `json:"batch_size,omitempty"`
}

// PageOutcome is the per-URL result of a scrape.
type PageOutcome struct {
	URL                 string `json:"url"`
	OK                  bool   `json:"ok"`
	ChunksWritten       int    `json:"chunks_written"`
	CodeExamplesWritten int    `json:"code_examples_written"`
	WordCount           int    `json:"word_count,omitempty"`
	Error               string `json:"error,omitempty"`
}

// ScrapeOutput reports per-URL status plus the touched sources. Raw
// mode returns the markdown keyed by URL instead of storing anything.
type ScrapeOutput struct {
	Success        bool              `json:"success"`
	Results        []PageOutcome     `json:"results,omitempty"`
	MarkdownByURL  map[string]string `json:"markdown_by_url,omitempty"`
	SourcesUpdated []string          `json:"sources_updated,omitempty"`
}

func (s *Server) scrapeURLs(ctx context.Context, args map[string]any) (any, error) {
	var in ScrapeInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	urls := []string(in.URL)
	if len(urls) == 0 {
		return nil, lserrors.InvalidArgument("url list must not be empty")
	}

	crawler := s.app.Crawler.WithMaxConcurrent(in.MaxConcurrent)
	out := ScrapeOutput{Success: true}
	if in.ReturnRawMarkdown {
		out.MarkdownByURL = make(map[string]string)
	}

	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = len(urls)
	}
	sourcesSeen := make(map[string]struct{})

	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		results, err := crawler.CrawlBatch(ctx, urls[start:end])
		if err != nil {
			return nil, err
		}

		if in.ReturnRawMarkdown {
			for _, res := range results {
				if res.OK() {
					out.MarkdownByURL[res.URL] = res.Page.Markdown
				} else {
					out.Results = append(out.Results, PageOutcome{URL: res.URL, Error: res.Err.Error()})
				}
			}
			continue
		}

		report, err := s.app.Pipeline.IngestResults(ctx, results)
		if err != nil {
			return nil, err
		}
		for _, page := range report.Pages {
			out.Results = append(out.Results, pageOutcome(page))
		}
		for _, src := range report.SourcesUpdated {
			if _, seen := sourcesSeen[src]; !seen {
				sourcesSeen[src] = struct{}{}
				out.SourcesUpdated = append(out.SourcesUpdated, src)
			}
		}
	}
	return out, nil
}

func pageOutcome(page ingest.PageReport) PageOutcome {
	o := PageOutcome{
		URL:                 page.URL,
		OK:                  page.OK(),
		ChunksWritten:       page.ChunkCount,
		CodeExamplesWritten: page.CodeExampleCount,
		WordCount:           page.WordCount,
	}
	if page.Err != nil {
		o.Error = page.Err.Error()
	}
	return o
}

// =============================================================================
// smart_crawl_url
// =============================================================================

type SmartCrawlInput struct {
	URL           string `json:"url" jsonschema:"the URL to crawl; sitemaps and llms.txt files fan out automatically"`
	MaxDepth      int    `json:"max_depth,omitempty" jsonschema:"recursion depth for webpage crawls, default 3"`
	MaxConcurrent int    `json:"max_concurrent,omitempty" jsonschema:"parallel fetch cap, default 10"`
	ChunkSize     int    `json:"chunk_size,omitempty" jsonschema:"chunk size override in characters"`
}

type SmartCrawlOutput struct {
	Success             bool         `json:"success"`
	URL                 string       `json:"url"`
	Strategy            string       `json:"strategy"`
	URLsProcessed       int          `json:"urls_processed"`
	ChunksWritten       int          `json:"chunks_written"`
	CodeExamplesWritten int          `json:"code_examples_written"`
	SourcesUpdated      []string     `json:"sources_updated,omitempty"`
	Failures            []URLFailure `json:"failures,omitempty"`
}

func (s *Server) smartCrawl(ctx context.Context, in SmartCrawlInput) (any, error) {
	canonical, err := crawl.Canonicalize(in.URL)
	if err != nil {
		return nil, err
	}

	depth := in.MaxDepth
	if depth <= 0 {
		depth = defaultCrawlDepth
	}
	crawler := s.app.Crawler.WithMaxConcurrent(in.MaxConcurrent)

	strategy := crawl.DetectStrategy(canonical)
	strategyName := string(strategy)
	var results []crawl.PageResult
	switch strategy {
	case crawl.StrategyText, crawl.StrategySitemap:
		results, err = crawler.CrawlOne(ctx, canonical)
	default:
		strategyName = "recursive"
		results, err = crawler.CrawlRecursive(ctx, canonical, depth)
	}
	if err != nil {
		return nil, err
	}

	report, err := s.app.Pipeline.WithChunkSize(in.ChunkSize).IngestResults(ctx, results)
	if err != nil {
		return nil, err
	}

	out := SmartCrawlOutput{
		Success:        true,
		URL:            canonical,
		Strategy:       strategyName,
		SourcesUpdated: report.SourcesUpdated,
	}
	for _, page := range report.Pages {
		if page.OK() {
			out.URLsProcessed++
			out.ChunksWritten += page.ChunkCount
			out.CodeExamplesWritten += page.CodeExampleCount
		} else {
			out.Failures = append(out.Failures, URLFailure{URL: page.URL, Error: page.Err.Error()})
		}
	}
	return out, nil
}

// =============================================================================
// get_available_sources
// =============================================================================

type SourcesInput struct{}

type SourceOutput struct {
	SourceID   string `json:"source_id"`
	Summary    string `json:"summary"`
	TotalWords int    `json:"total_words"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type SourcesOutput struct {
	Success bool           `json:"success"`
	Sources []SourceOutput `json:"sources"`
	Count   int            `json:"count"`
}

func (s *Server) availableSources(ctx context.Context, _ SourcesInput) (any, error) {
	records, err := s.app.Store.GetSources(ctx)
	if err != nil {
		return nil, err
	}

	out := SourcesOutput{Success: true, Sources: make([]SourceOutput, 0, len(records))}
	for _, rec := range records {
		src := SourceOutput{
			SourceID:   rec.SourceID,
			Summary:    rec.Summary,
			TotalWords: rec.TotalWords,
		}
		if !rec.CreatedAt.IsZero() {
			src.CreatedAt = rec.CreatedAt.UTC().Format(timestampLayout)
		}
		if !rec.UpdatedAt.IsZero() {
			src.UpdatedAt = rec.UpdatedAt.UTC().Format(timestampLayout)
		}
		out.Sources = append(out.Sources, src)
	}
	out.Count = len(out.Sources)
	return out, nil
}

const timestampLayout = "2006-01-02T15:04:05Z07:00"

// =============================================================================
// perform_rag_query / search_code_examples
// =============================================================================

type RAGQueryInput struct {
	Query      string `json:"query" jsonschema:"the retrieval query"`
	Source     string `json:"source,omitempty" jsonschema:"restrict results to one source host"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"number of results, default 5"`
}

// RAGHit is one retrieval result on the wire.
type RAGHit struct {
	URL         string         `json:"url"`
	ChunkIndex  int            `json:"chunk_index"`
	Content     string         `json:"content"`
	SourceID    string         `json:"source_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Score       float64        `json:"score"`
	RerankScore *float64       `json:"rerank_score,omitempty"`
}

type RAGQueryOutput struct {
	Success bool     `json:"success"`
	Query   string   `json:"query"`
	Source  string   `json:"source,omitempty"`
	Mode    string   `json:"mode"`
	Results []RAGHit `json:"results"`
	Count   int      `json:"count"`
}

func (s *Server) performRAGQuery(ctx context.Context, in RAGQueryInput) (any, error) {
	hits, err := s.app.Engine.QueryChunks(ctx, in.Query, in.Source, clampMatchCount(in.MatchCount))
	if err != nil {
		return nil, err
	}
	return s.ragOutput(in, hits), nil
}

func (s *Server) searchCodeExamples(ctx context.Context, in RAGQueryInput) (any, error) {
	hits, err := s.app.Engine.QueryCodeExamples(ctx, in.Query, in.Source, clampMatchCount(in.MatchCount))
	if err != nil {
		return nil, err
	}
	return s.ragOutput(in, hits), nil
}

func (s *Server) ragOutput(in RAGQueryInput, hits []retrieve.Result) RAGQueryOutput {
	out := RAGQueryOutput{
		Success: true,
		Query:   in.Query,
		Source:  in.Source,
		Mode:    s.retrievalMode(),
		Results: toRAGHits(hits),
	}
	out.Count = len(out.Results)
	return out
}

func toRAGHits(hits []retrieve.Result) []RAGHit {
	out := make([]RAGHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, RAGHit{
			URL:         h.URL,
			ChunkIndex:  h.ChunkIndex,
			Content:     h.Content,
			SourceID:    h.SourceID,
			Metadata:    h.Metadata,
			Score:       h.Score,
			RerankScore: h.RerankScore,
		})
	}
	return out
}

func (s *Server) retrievalMode() string {
	flags := s.app.Config.Flags
	switch {
	case flags.HybridSearch && flags.Reranking:
		return "hybrid+rerank"
	case flags.HybridSearch:
		return "hybrid"
	case flags.Reranking:
		return "rerank"
	default:
		return "vector"
	}
}

func clampMatchCount(k int) int {
	if k <= 0 {
		return defaultMatchCount
	}
	if k > maxMatchCount {
		return maxMatchCount
	}
	return k
}

// =============================================================================
// search (metasearch + crawl + RAG)
// =============================================================================

type WebSearchInput struct {
	Query             string `json:"query" jsonschema:"the web search query"`
	ReturnRawMarkdown bool   `json:"return_raw_markdown,omitempty" jsonschema:"return crawled markdown instead of storing and querying"`
	NumResults        int    `json:"num_results,omitempty" jsonschema:"number of search results to crawl, default 6"`
	BatchSize         int    `json:"batch_size,omitempty"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty"`
}

type WebSearchOutput struct {
	Success       bool                `json:"success"`
	Query         string              `json:"query"`
	MarkdownByURL map[string]string   `json:"markdown_by_url,omitempty"`
	ResultsByURL  map[string][]RAGHit `json:"results_by_url,omitempty"`
	Failures      []URLFailure        `json:"failures,omitempty"`
}

func (s *Server) webSearch(ctx context.Context, in WebSearchInput) (any, error) {
	if !s.app.Websearch.Configured() {
		return nil, lserrors.Unavailable("metasearch backend is not configured", nil).
			WithSuggestion("set SEARXNG_URL to a reachable SearXNG instance")
	}

	numResults := in.NumResults
	if numResults <= 0 {
		numResults = defaultNumResults
	}
	if numResults > maxWebsearchResults {
		numResults = maxWebsearchResults
	}

	hits, err := s.app.Websearch.Search(ctx, in.Query, numResults)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(hits))
	for _, hit := range hits {
		urls = append(urls, hit.URL)
	}
	out := WebSearchOutput{Success: true, Query: in.Query}
	if len(urls) == 0 {
		return out, nil
	}

	crawler := s.app.Crawler.WithMaxConcurrent(in.MaxConcurrent)
	results, err := crawler.CrawlBatch(ctx, urls)
	if err != nil {
		return nil, err
	}

	if in.ReturnRawMarkdown {
		out.MarkdownByURL = make(map[string]string)
		for _, res := range results {
			if res.OK() {
				out.MarkdownByURL[res.URL] = res.Page.Markdown
			} else {
				out.Failures = append(out.Failures, URLFailure{URL: res.URL, Error: res.Err.Error()})
			}
		}
		return out, nil
	}

	report, err := s.app.Pipeline.IngestResults(ctx, results)
	if err != nil {
		return nil, err
	}

	out.ResultsByURL = make(map[string][]RAGHit)
	for _, page := range report.Pages {
		if !page.OK() {
			out.Failures = append(out.Failures, URLFailure{URL: page.URL, Error: page.Err.Error()})
			continue
		}
		ranked, err := s.app.Engine.QueryChunks(ctx, in.Query, page.SourceID, defaultMatchCount)
		if err != nil {
			out.Failures = append(out.Failures, URLFailure{URL: page.URL, Error: err.Error()})
			continue
		}
		// Keep only this page's chunks; the source filter can span URLs.
		pageHits := make([]RAGHit, 0)
		for _, hit := range toRAGHits(ranked) {
			if hit.URL == page.URL {
				pageHits = append(pageHits, hit)
			}
		}
		out.ResultsByURL[page.URL] = pageHits
	}
	return out, nil
}

// =============================================================================
// parse_github_repository
// =============================================================================

type ParseRepoInput struct {
	RepoURL string `json:"repo_url" jsonschema:"HTTPS clone URL of the repository"`
}

type ParseRepoOutput struct {
	Success    bool   `json:"success"`
	Repository string `json:"repository"`
	Files      int    `json:"files"`
	Classes    int    `json:"classes"`
	Methods    int    `json:"methods"`
	Functions  int    `json:"functions"`
	Attributes int    `json:"attributes"`
}

func (s *Server) parseRepository(ctx context.Context, in ParseRepoInput) (any, error) {
	summary, err := s.app.RepoParser.IngestRepository(ctx, in.RepoURL, s.app.Graph)
	if err != nil {
		return nil, err
	}
	return ParseRepoOutput{
		Success:    true,
		Repository: summary.Repository,
		Files:      summary.Files,
		Classes:    summary.Classes,
		Methods:    summary.Methods,
		Functions:  summary.Functions,
		Attributes: summary.Attributes,
	}, nil
}

// =============================================================================
// check_ai_script_hallucinations
// =============================================================================

type CheckScriptInput struct {
	ScriptPath string `json:"script_path" jsonschema:"path to the Python script to validate"`
	Mode       string `json:"mode,omitempty" jsonschema:"fast, balanced (default), or thorough"`
}

type CheckScriptOutput struct {
	Success bool `json:"success"`
	*hallucinate.Report
}

func (s *Server) checkScript(ctx context.Context, in CheckScriptInput) (any, error) {
	mode := hallucinate.Mode(strings.ToLower(strings.TrimSpace(in.Mode)))
	if mode == "" {
		mode = hallucinate.ModeBalanced
	}
	report, err := s.app.Checker.CheckScript(ctx, in.ScriptPath, mode)
	if err != nil {
		return nil, err
	}
	return CheckScriptOutput{Success: true, Report: report}, nil
}

// =============================================================================
// query_knowledge_graph
// =============================================================================

type GraphQueryInput struct {
	Command string `json:"command" jsonschema:"repos | classes <repo> | class <name> | method <class>.<method> | read-only Cypher"`
}

type GraphQueryOutput struct {
	Success bool             `json:"success"`
	Command string           `json:"command"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

func (s *Server) queryKnowledgeGraph(ctx context.Context, in GraphQueryInput) (any, error) {
	result, err := s.app.Graph.ExecuteCommand(ctx, in.Command)
	if err != nil {
		return nil, err
	}
	return GraphQueryOutput{
		Success: true,
		Command: result.Command,
		Rows:    result.Rows,
		Count:   len(result.Rows),
	}, nil
}

// =============================================================================
// Argument decoding
// =============================================================================

// decodeArgs re-marshals a raw argument map into a typed input so
// custom coercions (StringList) apply. Type mismatches come back as
// InvalidArgument.
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return lserrors.Internal("arguments are not representable as JSON", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		var lsErr *lserrors.Error
		if errors.As(err, &lsErr) {
			return lsErr
		}
		return lserrors.Wrap(lserrors.KindInvalidArgument, err)
	}
	return nil
}
