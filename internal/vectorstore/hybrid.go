package vectorstore

import (
	"sort"
)

// FuseRanked merges a vector result list with a keyword result list using
// reciprocal-rank weighting: an item at 1-based rank r contributes
// weight/r from each list it appears in, so items found by both channels
// are naturally boosted. Input order defines the ranks. Returns the top k
// by fused score with deterministic tie-breaking.
func FuseRanked(vector, keyword []SearchResult, vectorWeight, keywordWeight float64, k int) []SearchResult {
	type fused struct {
		result SearchResult
		score  float64
		inBoth bool
	}

	byID := make(map[string]*fused, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	for i, r := range vector {
		f := &fused{result: r, score: vectorWeight / float64(i+1)}
		byID[r.ID] = f
		order = append(order, r.ID)
	}
	for i, r := range keyword {
		if f, ok := byID[r.ID]; ok {
			f.score += keywordWeight / float64(i+1)
			f.inBoth = true
			continue
		}
		byID[r.ID] = &fused{result: r, score: keywordWeight / float64(i+1)}
		order = append(order, r.ID)
	}

	merged := make([]SearchResult, 0, len(order))
	for _, id := range order {
		f := byID[id]
		r := f.result
		r.Score = f.score
		merged = append(merged, r)
	}

	SortResults(merged)
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// SortResults orders results by score descending with deterministic
// tie-breaking: lower chunk index first, then lexicographic URL.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].URL < results[j].URL
	})
}
