// Package storetest provides an in-memory Store for tests.
package storetest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
)

// Fake is an in-memory vectorstore.Store with brute-force cosine search.
// It mirrors adapter semantics closely enough for pipeline and engine
// tests: idempotent upserts by natural key, delete by exact URL, and
// similarity scores in [0,1].
type Fake struct {
	mu           sync.Mutex
	chunks       map[string]vectorstore.Chunk
	codeExamples map[string]vectorstore.CodeExample
	sources      map[string]vectorstore.SourceRecord

	// FailNextUpsert makes the next chunk upsert fail with this error.
	FailNextUpsert error
}

// NewFake returns an empty fake store.
func NewFake() *Fake {
	return &Fake{
		chunks:       make(map[string]vectorstore.Chunk),
		codeExamples: make(map[string]vectorstore.CodeExample),
		sources:      make(map[string]vectorstore.SourceRecord),
	}
}

func (f *Fake) Init(ctx context.Context) error { return nil }
func (f *Fake) Close() error                   { return nil }

func (f *Fake) UpsertChunks(ctx context.Context, chunks []vectorstore.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNextUpsert != nil {
		err := f.FailNextUpsert
		f.FailNextUpsert = nil
		return err
	}
	for _, c := range chunks {
		f.chunks[vectorstore.ChunkPointID(c.URL, c.ChunkIndex)] = c
	}
	return nil
}

func (f *Fake) DeleteChunksByURL(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.chunks {
		if c.URL == url {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *Fake) SearchChunks(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var results []vectorstore.SearchResult
	for id, c := range f.chunks {
		if !matches(c.SourceID, c.Metadata, filterMetadata) {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:         id,
			URL:        c.URL,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			SourceID:   c.SourceID,
			Metadata:   c.Metadata,
			Score:      cosine(embedding, c.Embedding),
		})
	}
	vectorstore.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *Fake) KeywordSearchChunks(ctx context.Context, query string, k int, sourceID string) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	needle := strings.ToLower(query)
	var results []vectorstore.SearchResult
	for id, c := range f.chunks {
		if sourceID != "" && c.SourceID != sourceID {
			continue
		}
		hits := strings.Count(strings.ToLower(c.Content), needle)
		if hits == 0 {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:         id,
			URL:        c.URL,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			SourceID:   c.SourceID,
			Metadata:   c.Metadata,
			Score:      float64(hits),
		})
	}
	vectorstore.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *Fake) UpsertCodeExamples(ctx context.Context, examples []vectorstore.CodeExample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range examples {
		f.codeExamples[vectorstore.CodeExamplePointID(e.URL, e.ExampleIndex)] = e
	}
	return nil
}

func (f *Fake) DeleteCodeExamplesByURL(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.codeExamples {
		if e.URL == url {
			delete(f.codeExamples, id)
		}
	}
	return nil
}

func (f *Fake) SearchCodeExamples(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var results []vectorstore.SearchResult
	for id, e := range f.codeExamples {
		if !matches(e.SourceID, e.Metadata, filterMetadata) {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:         id,
			URL:        e.URL,
			ChunkIndex: e.ExampleIndex,
			Content:    e.Code,
			SourceID:   e.SourceID,
			Metadata:   map[string]any{"summary": e.Summary, "language": e.Language},
			Score:      cosine(embedding, e.Embedding),
		})
	}
	vectorstore.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *Fake) KeywordSearchCodeExamples(ctx context.Context, query string, k int, sourceID string) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	needle := strings.ToLower(query)
	var results []vectorstore.SearchResult
	for id, e := range f.codeExamples {
		if sourceID != "" && e.SourceID != sourceID {
			continue
		}
		text := strings.ToLower(e.Code + "\n" + e.Summary)
		hits := strings.Count(text, needle)
		if hits == 0 {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:         id,
			URL:        e.URL,
			ChunkIndex: e.ExampleIndex,
			Content:    e.Code,
			SourceID:   e.SourceID,
			Metadata:   map[string]any{"summary": e.Summary, "language": e.Language},
			Score:      float64(hits),
		})
	}
	vectorstore.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *Fake) UpsertSource(ctx context.Context, rec vectorstore.SourceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := f.sources[rec.SourceID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	f.sources[rec.SourceID] = rec
	return nil
}

func (f *Fake) GetSources(ctx context.Context) ([]vectorstore.SourceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]vectorstore.SourceRecord, 0, len(f.sources))
	for _, rec := range f.sources {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceID < records[j].SourceID
	})
	return records, nil
}

func (f *Fake) SourceWordCount(ctx context.Context, sourceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.chunks {
		if c.SourceID != sourceID {
			continue
		}
		if n, ok := c.Metadata["word_count"].(int); ok {
			total += n
		}
	}
	return total, nil
}

// ChunkCount reports how many chunks are stored for a URL.
func (f *Fake) ChunkCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.chunks {
		if c.URL == url {
			n++
		}
	}
	return n
}

// CodeExampleCount reports how many code examples are stored for a URL.
func (f *Fake) CodeExampleCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.codeExamples {
		if e.URL == url {
			n++
		}
	}
	return n
}

// Chunks returns all chunks for a URL ordered by chunk index.
func (f *Fake) Chunks(url string) []vectorstore.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vectorstore.Chunk
	for _, c := range f.chunks {
		if c.URL == url {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func matches(sourceID string, metadata, filter map[string]any) bool {
	for key, want := range filter {
		if key == "source_id" || key == "source" {
			if sourceID != want {
				return false
			}
			continue
		}
		got, ok := metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}

var _ vectorstore.Store = (*Fake)(nil)
