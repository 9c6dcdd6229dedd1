// Package vectorstore persists chunks, code examples, and source records
// behind a backend-neutral interface with qdrant and pgvector adapters.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/lodestone-mcp/lodestone/internal/config"
)

// Store is the persistence boundary for ingested content. Both adapters
// implement identical semantics: upserts are idempotent by natural key,
// deletes are by exact URL, vector search returns similarity in [0,1],
// and the metadata predicate parameter is named filterMetadata everywhere.
type Store interface {
	// Init ensures collections/tables exist with the configured dimension.
	Init(ctx context.Context) error
	// Close releases the backend connection.
	Close() error

	// UpsertChunks inserts or replaces chunks keyed on (url, chunk_index).
	UpsertChunks(ctx context.Context, chunks []Chunk) error
	// DeleteChunksByURL removes every chunk with the exact URL.
	DeleteChunksByURL(ctx context.Context, url string) error
	// SearchChunks runs dense similarity search over chunks. Every entry
	// of filterMetadata must match the stored metadata exactly.
	SearchChunks(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error)
	// KeywordSearchChunks runs a substring keyword match over chunk
	// content, optionally restricted to one source.
	KeywordSearchChunks(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error)

	// UpsertCodeExamples inserts or replaces code examples keyed on
	// (url, example_index).
	UpsertCodeExamples(ctx context.Context, examples []CodeExample) error
	// DeleteCodeExamplesByURL removes every code example with the URL.
	DeleteCodeExamplesByURL(ctx context.Context, url string) error
	// SearchCodeExamples runs dense similarity search over code examples.
	SearchCodeExamples(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error)
	// KeywordSearchCodeExamples matches code and summaries by substring.
	KeywordSearchCodeExamples(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error)

	// UpsertSource creates or updates a source registry record.
	UpsertSource(ctx context.Context, rec SourceRecord) error
	// GetSources lists all source records.
	GetSources(ctx context.Context) ([]SourceRecord, error)
	// SourceWordCount sums the word_count metadata over every stored
	// chunk of the source.
	SourceWordCount(ctx context.Context, sourceID string) (int, error)
}

// New builds the configured Store. The adapter is chosen at startup and
// never switched mid-process.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.VectorDB.Backend {
	case config.VectorBackendQdrant:
		return NewQdrantStore(cfg.VectorDB.QdrantURL, cfg.VectorDB.QdrantAPIKey, cfg.Embeddings.Dimensions)
	case config.VectorBackendPGVector:
		return NewPGVectorStore(ctx, cfg.VectorDB.DatabaseURL, cfg.Embeddings.Dimensions)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorDB.Backend)
	}
}
