package embed

import (
	"github.com/lodestone-mcp/lodestone/internal/config"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// New builds the configured embedder wrapped in an LRU cache.
func New(cfg *config.Config) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Embeddings.Provider {
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
		})
	case "static":
		inner, err = NewStaticEmbedder(cfg.Embeddings.Dimensions)
	default:
		return nil, lserrors.InvalidArgumentf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}
