// Package embed generates dense vector embeddings for text through an
// OpenAI-compatible HTTP API or a deterministic offline provider.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the smallest allowed embedding batch.
	MinBatchSize = 1

	// MaxBatchSize caps batches to stay within embedding API limits.
	MaxBatchSize = 256

	// DefaultBatchSize is the batch size used when none is configured.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding HTTP request.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text. All vectors returned by
// one embedder have the same dimension.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has
	// one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// ZeroVector returns an all-zero vector of the given dimension.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
