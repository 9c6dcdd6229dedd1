package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// failingEmbedder always fails batch calls.
type failingEmbedder struct {
	*StaticEmbedder
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, lserrors.Unavailable("provider down", nil)
}

func TestBatchWithFallback_SuccessPassesThrough(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)

	vectors := BatchWithFallback(context.Background(), e, []string{"one", "two"})
	require.Len(t, vectors, 2)
	assert.NotEqual(t, ZeroVector(32), vectors[0])
}

func TestBatchWithFallback_FailureYieldsZeroVectors(t *testing.T) {
	inner, err := NewStaticEmbedder(32)
	require.NoError(t, err)

	vectors := BatchWithFallback(context.Background(), &failingEmbedder{StaticEmbedder: inner}, []string{"one", "two", "three"})
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Equal(t, ZeroVector(32), v)
	}
}
