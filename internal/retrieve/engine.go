// Package retrieve answers RAG queries over the stored content:
// dense search, optional hybrid keyword fusion, and optional
// cross-encoder reranking.
package retrieve

import (
	"context"
	"log/slog"
	"sort"

	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
)

// Result is one retrieval hit. RerankScore is set only when reranking
// actually ran; ordering then follows it instead of the vector score.
type Result struct {
	vectorstore.SearchResult
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Engine runs retrieval with the configured strategy flags.
type Engine struct {
	store    vectorstore.Store
	embedder embed.Embedder
	reranker Reranker
	cache    *QueryCache

	matchCount    int
	vectorWeight  float64
	keywordWeight float64
	flags         config.FlagsConfig
	log           *slog.Logger
}

// NewEngine wires the retrieval engine. cache may be nil.
func NewEngine(store vectorstore.Store, embedder embed.Embedder, reranker Reranker, cache *QueryCache, cfg *config.Config, log *slog.Logger) *Engine {
	if reranker == nil {
		reranker = NoOpReranker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		cache:    cache,

		matchCount:    cfg.Retrieval.MatchCount,
		vectorWeight:  cfg.Retrieval.RankVectorWeight,
		keywordWeight: cfg.Retrieval.RankKeywordWeight,
		flags:         cfg.Flags,
		log:           log,
	}
}

// QueryChunks retrieves page chunks for a query, optionally restricted
// to one source.
func (e *Engine) QueryChunks(ctx context.Context, query, sourceID string, k int) ([]Result, error) {
	return e.query(ctx, vectorstore.CollectionChunks, query, sourceID, k,
		e.store.SearchChunks, e.store.KeywordSearchChunks)
}

// QueryCodeExamples retrieves code examples for a query.
func (e *Engine) QueryCodeExamples(ctx context.Context, query, sourceID string, k int) ([]Result, error) {
	return e.query(ctx, vectorstore.CollectionCodeExamples, query, sourceID, k,
		e.store.SearchCodeExamples, e.store.KeywordSearchCodeExamples)
}

type denseSearchFunc func(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]vectorstore.SearchResult, error)
type keywordSearchFunc func(ctx context.Context, query string, k int, sourceID string) ([]vectorstore.SearchResult, error)

func (e *Engine) query(ctx context.Context, collection, query, sourceID string, k int, dense denseSearchFunc, keyword keywordSearchFunc) ([]Result, error) {
	if query == "" {
		return nil, lserrors.InvalidArgument("query must not be empty")
	}
	if k <= 0 {
		k = e.matchCount
	}

	mode := e.modeLabel()
	key := cacheKey(collection, query, sourceID, k, mode)
	var cached []Result
	if e.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Hybrid and rerank both want a wider candidate pool to work with.
	kPrime := k
	if e.flags.HybridSearch || e.flags.Reranking {
		kPrime = 2 * k
	}

	var filterMetadata map[string]any
	if sourceID != "" {
		filterMetadata = map[string]any{"source_id": sourceID}
	}

	candidates, err := dense(ctx, embedding, kPrime, filterMetadata)
	if err != nil {
		return nil, err
	}

	if e.flags.HybridSearch {
		keywordHits, err := keyword(ctx, query, kPrime, sourceID)
		if err != nil {
			e.log.Warn("keyword search failed, using vector results only", "error", err)
		} else {
			candidates = vectorstore.FuseRanked(candidates, keywordHits, e.vectorWeight, e.keywordWeight, kPrime)
		}
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{SearchResult: c}
	}

	if e.flags.Reranking && len(results) > 0 {
		results = e.rerank(ctx, query, results)
	}

	if len(results) > k {
		results = results[:k]
	}

	e.cache.Set(ctx, key, results)
	return results, nil
}

// rerank reorders candidates by cross-encoder score. Any reranker
// failure keeps the incoming order.
func (e *Engine) rerank(ctx context.Context, query string, results []Result) []Result {
	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Content
	}

	scores, err := e.reranker.Rerank(ctx, query, documents)
	if err != nil {
		e.log.Warn("reranking failed, keeping vector order", "reranker", e.reranker.Name(), "error", err)
		return results
	}

	for i := range results {
		score := scores[i]
		results[i].RerankScore = &score
	}
	sort.SliceStable(results, func(i, j int) bool {
		if *results[i].RerankScore != *results[j].RerankScore {
			return *results[i].RerankScore > *results[j].RerankScore
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].URL < results[j].URL
	})
	return results
}

func (e *Engine) modeLabel() string {
	switch {
	case e.flags.HybridSearch && e.flags.Reranking:
		return "hybrid+rerank"
	case e.flags.Reranking:
		return "rerank"
	case e.flags.HybridSearch:
		return "hybrid"
	default:
		return "vector"
	}
}
