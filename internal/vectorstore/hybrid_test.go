package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id, url string, index int, score float64) SearchResult {
	return SearchResult{ID: id, URL: url, ChunkIndex: index, Score: score}
}

func TestFuseRanked_ItemInBothListsIsBoosted(t *testing.T) {
	// Given: "b" ranks second in vector results but first in keyword
	// results, while "a" appears only in vector results
	vector := []SearchResult{
		result("a", "https://x/1", 0, 0.9),
		result("b", "https://x/2", 0, 0.8),
	}
	keyword := []SearchResult{
		result("b", "https://x/2", 0, 3),
	}

	// When: fusing with equal channel weights
	fused := FuseRanked(vector, keyword, 1.0, 1.0, 10)

	// Then: b overtakes a (1/2 + 1/1 = 1.5 vs 1/1 = 1.0)
	require.Len(t, fused, 2)
	assert.Equal(t, "b", fused[0].ID)
	assert.Equal(t, "a", fused[1].ID)
	assert.InDelta(t, 1.5, fused[0].Score, 1e-9)
	assert.InDelta(t, 1.0, fused[1].Score, 1e-9)
}

func TestFuseRanked_ReciprocalRankWeighting(t *testing.T) {
	vector := []SearchResult{
		result("v1", "https://x/a", 0, 0.99),
		result("v2", "https://x/b", 0, 0.98),
		result("v3", "https://x/c", 0, 0.97),
	}
	keyword := []SearchResult{
		result("v3", "https://x/c", 0, 5),
		result("k1", "https://x/d", 0, 2),
	}

	fused := FuseRanked(vector, keyword, 1.0, 0.5, 10)

	// v3: 1/3 + 0.5/1 = 0.8333 beats v2 (1/2 = 0.5) but not v1 (1.0).
	require.Len(t, fused, 4)
	assert.Equal(t, "v1", fused[0].ID)
	assert.Equal(t, "v3", fused[1].ID)
	assert.Equal(t, "v2", fused[2].ID)
	assert.Equal(t, "k1", fused[3].ID)
	assert.InDelta(t, 1.0/3+0.5, fused[1].Score, 1e-9)
}

func TestFuseRanked_TruncatesToK(t *testing.T) {
	vector := []SearchResult{
		result("a", "https://x/1", 0, 0.9),
		result("b", "https://x/2", 0, 0.8),
		result("c", "https://x/3", 0, 0.7),
	}

	fused := FuseRanked(vector, nil, 1.0, 0.5, 2)

	assert.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
}

func TestFuseRanked_EmptyInputs(t *testing.T) {
	assert.Empty(t, FuseRanked(nil, nil, 1.0, 0.5, 5))

	keywordOnly := FuseRanked(nil, []SearchResult{result("k", "https://x/1", 0, 2)}, 1.0, 0.5, 5)
	require.Len(t, keywordOnly, 1)
	assert.InDelta(t, 0.5, keywordOnly[0].Score, 1e-9)
}

func TestSortResults_DeterministicTieBreaks(t *testing.T) {
	results := []SearchResult{
		result("c", "https://x/page-b", 2, 0.5),
		result("a", "https://x/page-b", 1, 0.5),
		result("b", "https://x/page-a", 1, 0.5),
		result("d", "https://x/page-z", 9, 0.9),
	}

	SortResults(results)

	// Highest score first; ties by chunk index, then URL.
	assert.Equal(t, "d", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "a", results[2].ID)
	assert.Equal(t, "c", results[3].ID)
}
