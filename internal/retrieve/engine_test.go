package retrieve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore/storetest"
)

func seedStore(t *testing.T, embedder embed.Embedder) *storetest.Fake {
	t.Helper()
	store := storetest.NewFake()
	ctx := context.Background()

	texts := map[string]struct {
		url      string
		index    int
		sourceID string
	}{
		"Install the client with pip install example-client": {"https://docs.example.com/install", 0, "docs.example.com"},
		"Authentication uses bearer tokens in the header":    {"https://docs.example.com/auth", 0, "docs.example.com"},
		"The changelog lists breaking changes per release":   {"https://other.example.org/changelog", 0, "other.example.org"},
	}
	var chunks []vectorstore.Chunk
	for text, loc := range texts {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		chunks = append(chunks, vectorstore.Chunk{
			URL:        loc.url,
			ChunkIndex: loc.index,
			Content:    text,
			SourceID:   loc.sourceID,
			Embedding:  vec,
			Metadata:   map[string]any{"headers": ""},
		})
	}
	require.NoError(t, store.UpsertChunks(ctx, chunks))
	return store
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *storetest.Fake) {
	t.Helper()
	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}
	embedder, err := embed.NewStaticEmbedder(64)
	require.NoError(t, err)
	store := seedStore(t, embedder)
	return NewEngine(store, embedder, nil, nil, cfg, nil), store
}

func TestQueryChunksVectorMode(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	results, err := engine.QueryChunks(context.Background(), "how do I install the client", "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)

	assert.Equal(t, "https://docs.example.com/install", results[0].URL)
	assert.Nil(t, results[0].RerankScore, "no rerank score in vector mode")

	// Scores are sorted descending.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestQueryChunksSourceFilter(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	results, err := engine.QueryChunks(context.Background(), "changelog breaking changes", "docs.example.com", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "docs.example.com", r.SourceID)
	}
}

func TestQueryChunksEmptyQuery(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.QueryChunks(context.Background(), "", "", 5)
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
}

func TestQueryChunksDefaultsMatchCount(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Retrieval.MatchCount = 1
	})

	results, err := engine.QueryChunks(context.Background(), "tokens", "", 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}

func TestQueryChunksHybridBoostsKeywordMatches(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Flags.HybridSearch = true
	})

	results, err := engine.QueryChunks(context.Background(), "bearer tokens", "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://docs.example.com/auth", results[0].URL,
		"exact keyword match fused to the top")
}

func TestQueryChunksRerank(t *testing.T) {
	// Reranker that inverts the incoming order.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		scores := make([]float64, len(req.Documents))
		for i := range scores {
			scores[i] = float64(i)
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: scores})
	}))
	defer srv.Close()

	cfg := config.New()
	cfg.Flags.Reranking = true
	embedder, err := embed.NewStaticEmbedder(64)
	require.NoError(t, err)
	store := seedStore(t, embedder)
	engine := NewEngine(store, embedder, NewHTTPReranker(srv.URL, time.Second), nil, cfg, nil)

	results, err := engine.QueryChunks(context.Background(), "install the client", "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		require.NotNil(t, r.RerankScore)
	}
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, *results[i-1].RerankScore, *results[i].RerankScore)
	}
	// The inverting reranker demotes the vector-best hit.
	assert.NotEqual(t, "https://docs.example.com/install", results[0].URL)
}

func TestQueryChunksRerankerFailureKeepsVectorOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.New()
	cfg.Flags.Reranking = true
	embedder, err := embed.NewStaticEmbedder(64)
	require.NoError(t, err)
	store := seedStore(t, embedder)
	engine := NewEngine(store, embedder, NewHTTPReranker(srv.URL, time.Second), nil, cfg, nil)

	results, err := engine.QueryChunks(context.Background(), "install the client", "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://docs.example.com/install", results[0].URL)
	assert.Nil(t, results[0].RerankScore)
}

func TestHTTPRerankerScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.5}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, time.Second)
	_, err := r.Rerank(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
}

func TestHTTPRerankerAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, NewHTTPReranker(srv.URL, time.Second).Available(context.Background()))
	assert.False(t, NewHTTPReranker("http://192.0.2.1:9", 500*time.Millisecond).Available(context.Background()))
}

func TestCacheKeyStability(t *testing.T) {
	a := cacheKey("crawled_pages", "query", "src", 5, "vector")
	b := cacheKey("crawled_pages", "query", "src", 5, "vector")
	c := cacheKey("crawled_pages", "query", "src", 5, "hybrid")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNilQueryCacheIsNoOp(t *testing.T) {
	var cache *QueryCache
	var out []Result
	assert.False(t, cache.Get(context.Background(), "k", &out))
	cache.Set(context.Background(), "k", out)
	assert.NoError(t, cache.Close())
}
