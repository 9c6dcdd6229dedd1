package mcp

import (
	"context"
	"log/slog"

	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/crawl"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/graph"
	"github.com/lodestone-mcp/lodestone/internal/hallucinate"
	"github.com/lodestone-mcp/lodestone/internal/ingest"
	"github.com/lodestone-mcp/lodestone/internal/llm"
	"github.com/lodestone-mcp/lodestone/internal/repoparse"
	"github.com/lodestone-mcp/lodestone/internal/retrieve"
	"github.com/lodestone-mcp/lodestone/internal/telemetry"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
	"github.com/lodestone-mcp/lodestone/internal/websearch"
)

// AppContext owns the process-wide backend singletons. Tool handlers
// reach every backend through it; its lifecycle is tied to serve
// start/stop.
type AppContext struct {
	Config *config.Config
	Log    *slog.Logger

	Store      vectorstore.Store
	Embedder   embed.Embedder
	Summarizer llm.Summarizer
	Crawler    *crawl.Crawler
	Pipeline   *ingest.Pipeline
	Engine     *retrieve.Engine
	Cache      *retrieve.QueryCache
	Websearch  *websearch.Client
	Metrics    *telemetry.ToolMetrics

	// Graph-backed components, nil unless USE_KNOWLEDGE_GRAPH is set.
	Graph      *graph.Store
	RepoParser *repoparse.Parser
	Checker    *hallucinate.Checker
}

// NewAppContext prepares an uninitialized context. Init must succeed
// before any tool handler runs.
func NewAppContext(cfg *config.Config, log *slog.Logger) *AppContext {
	if log == nil {
		log = slog.Default()
	}
	return &AppContext{Config: cfg, Log: log}
}

// Init connects every configured backend. A required backend that
// cannot be reached fails startup; optional ones (redis cache) degrade
// with a warning.
func (a *AppContext) Init(ctx context.Context) error {
	cfg := a.Config

	store, err := vectorstore.New(ctx, cfg)
	if err != nil {
		return lserrors.Wrap(lserrors.KindBackendUnavailable, err)
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	a.Store = store

	embedder, err := embed.New(cfg)
	if err != nil {
		return err
	}
	a.Embedder = embedder

	summarizer, err := llm.New(cfg)
	if err != nil {
		return err
	}
	a.Summarizer = summarizer

	a.Crawler = crawl.New(cfg, a.Log)
	a.Pipeline = ingest.New(a.Store, a.Embedder, a.Summarizer, cfg, a.Log)

	var reranker retrieve.Reranker
	if cfg.Flags.Reranking && cfg.Retrieval.RerankerURL != "" {
		reranker = retrieve.NewHTTPReranker(cfg.Retrieval.RerankerURL, cfg.Crawl.RequestTimeout)
	}

	cache, err := retrieve.NewQueryCache(cfg.Retrieval.RedisURL)
	if err != nil {
		a.Log.Warn("query cache disabled", "error", err)
	}
	a.Cache = cache

	a.Engine = retrieve.NewEngine(a.Store, a.Embedder, reranker, a.Cache, cfg, a.Log)
	a.Websearch = websearch.NewClient(cfg.Search.SearxngURL, cfg.Crawl.UserAgent, cfg.Crawl.RequestTimeout)
	a.Metrics = telemetry.NewToolMetrics(0)

	if cfg.Flags.KnowledgeGraph {
		graphStore, err := graph.NewStore(ctx, cfg.Graph, a.Log)
		if err != nil {
			return err
		}
		if err := graphStore.Init(ctx); err != nil {
			return err
		}
		a.Graph = graphStore
		a.RepoParser = repoparse.NewParser(a.Log)
		a.Checker = hallucinate.NewChecker(a.Graph, a.Store, a.Embedder, a.Log)
		if reranker != nil {
			a.Checker = a.Checker.WithReranker(reranker)
		}
	}

	a.Log.Info("backends initialized",
		"vector_db", cfg.VectorDB.Backend,
		"embedder", a.Embedder.ModelName(),
		"summarizer", a.Summarizer.Name(),
		"knowledge_graph", cfg.Flags.KnowledgeGraph,
		"searxng", a.Websearch.Configured(),
	)
	return nil
}

// Close releases backends in reverse dependency order and writes the
// metrics summary to the log.
func (a *AppContext) Close(ctx context.Context) {
	a.Metrics.LogSummary(a.Log)

	if a.Checker != nil {
		a.Checker.Close()
	}
	if a.RepoParser != nil {
		a.RepoParser.Close()
	}
	if a.Graph != nil {
		if err := a.Graph.Close(ctx); err != nil {
			a.Log.Warn("graph close failed", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Log.Warn("cache close failed", "error", err)
		}
	}
	if a.Crawler != nil {
		if err := a.Crawler.Close(); err != nil {
			a.Log.Warn("crawler close failed", "error", err)
		}
	}
	if a.Embedder != nil {
		if err := a.Embedder.Close(); err != nil {
			a.Log.Warn("embedder close failed", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
	}
}
