package embed

import (
	"context"
	"log/slog"
)

// BatchWithFallback embeds texts and substitutes zero vectors for the
// whole batch when the provider fails after retries. Ingestion keeps
// going with degraded recall instead of aborting a crawl; exactly one
// warning is logged per failed batch.
func BatchWithFallback(ctx context.Context, e Embedder, texts []string) [][]float32 {
	vectors, err := e.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors
	}

	slog.Warn("embedding batch failed, storing zero vectors",
		slog.Int("batch_size", len(texts)),
		slog.String("model", e.ModelName()),
		slog.String("error", err.Error()))

	vectors = make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = ZeroVector(e.Dimensions())
	}
	return vectors
}
