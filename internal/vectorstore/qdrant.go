package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// keywordScanLimit bounds the client-side keyword scan. Qdrant has no
// server-side substring search, so keyword matching scrolls up to this
// many points and scans their payloads locally.
const keywordScanLimit = 4096

// QdrantStore implements Store on a qdrant instance over gRPC.
type QdrantStore struct {
	client *qdrant.Client
	dim    int
}

// NewQdrantStore connects to qdrant at url ("host:port"). TLS is enabled
// when an API key is supplied, matching qdrant cloud expectations.
func NewQdrantStore(url, apiKey string, dim int) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, lserrors.InvalidArgumentf("invalid port in qdrant url %q", url)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		return nil, lserrors.Unavailable("failed to create qdrant client", err)
	}

	return &QdrantStore{client: client, dim: dim}, nil
}

// Init ensures all three collections exist with the configured dimension.
func (s *QdrantStore) Init(ctx context.Context) error {
	for _, name := range []string{CollectionChunks, CollectionCodeExamples, CollectionSources} {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return lserrors.Unavailable(fmt.Sprintf("checking collection %s", name), err)
		}
		if exists {
			continue
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return lserrors.Unavailable(fmt.Sprintf("creating collection %s", name), err)
		}
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// UpsertChunks inserts or replaces chunks keyed on (url, chunk_index).
func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if err := s.checkDim(len(c.Embedding)); err != nil {
			return err
		}
		payload := map[string]any{
			"url":         c.URL,
			"chunk_index": c.ChunkIndex,
			"content":     c.Content,
			"source_id":   c.SourceID,
		}
		for k, v := range c.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ChunkPointID(c.URL, c.ChunkIndex)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionChunks,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return lserrors.Unavailable("upserting chunks", err)
	}
	return nil
}

// DeleteChunksByURL removes every chunk with the exact URL.
func (s *QdrantStore) DeleteChunksByURL(ctx context.Context, url string) error {
	return s.deleteByURL(ctx, CollectionChunks, url)
}

// SearchChunks runs dense similarity search over chunks.
func (s *QdrantStore) SearchChunks(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	return s.search(ctx, CollectionChunks, embedding, k, filterMetadata)
}

// KeywordSearchChunks scans chunk content for the query substring.
func (s *QdrantStore) KeywordSearchChunks(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionChunks, query, k, sourceID, func(payload map[string]any) string {
		content, _ := payload["content"].(string)
		return content
	})
}

// UpsertCodeExamples inserts or replaces examples keyed on (url, example_index).
func (s *QdrantStore) UpsertCodeExamples(ctx context.Context, examples []CodeExample) error {
	if len(examples) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(examples))
	for _, e := range examples {
		if err := s.checkDim(len(e.Embedding)); err != nil {
			return err
		}
		payload := map[string]any{
			"url":         e.URL,
			"chunk_index": e.ExampleIndex,
			"content":     e.Code,
			"summary":     e.Summary,
			"language":    e.Language,
			"source_id":   e.SourceID,
		}
		for k, v := range e.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(CodeExamplePointID(e.URL, e.ExampleIndex)),
			Vectors: qdrant.NewVectors(e.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionCodeExamples,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return lserrors.Unavailable("upserting code examples", err)
	}
	return nil
}

// DeleteCodeExamplesByURL removes every code example with the URL.
func (s *QdrantStore) DeleteCodeExamplesByURL(ctx context.Context, url string) error {
	return s.deleteByURL(ctx, CollectionCodeExamples, url)
}

// SearchCodeExamples runs dense similarity search over code examples.
func (s *QdrantStore) SearchCodeExamples(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	return s.search(ctx, CollectionCodeExamples, embedding, k, filterMetadata)
}

// KeywordSearchCodeExamples scans code and summaries for the query substring.
func (s *QdrantStore) KeywordSearchCodeExamples(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionCodeExamples, query, k, sourceID, func(payload map[string]any) string {
		content, _ := payload["content"].(string)
		summary, _ := payload["summary"].(string)
		return content + "\n" + summary
	})
}

// UpsertSource creates or updates a source registry record. Sources live
// in a vector collection for backend uniformity, carrying a deterministic
// placeholder vector that is never searched.
func (s *QdrantStore) UpsertSource(ctx context.Context, rec SourceRecord) error {
	id := SourcePointID(rec.SourceID)

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		existing, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: CollectionSources,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err == nil && len(existing) > 0 {
			payload := valueMapToAny(existing[0].Payload)
			if ts, ok := payload["created_at"].(string); ok {
				if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
					createdAt = parsed
				}
			}
		}
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionSources,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(placeholderVector(rec.SourceID, s.dim)...),
			Payload: qdrant.NewValueMap(map[string]any{
				"source_id":   rec.SourceID,
				"summary":     rec.Summary,
				"total_words": rec.TotalWords,
				"created_at":  createdAt.Format(time.RFC3339),
				"updated_at":  updatedAt.Format(time.RFC3339),
			}),
		}},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return lserrors.Unavailable("upserting source", err)
	}
	return nil
}

// GetSources lists all source records, sorted by source ID.
func (s *QdrantStore) GetSources(ctx context.Context) ([]SourceRecord, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionSources,
		Limit:          qdrant.PtrOf(uint32(keywordScanLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, lserrors.Unavailable("listing sources", err)
	}

	records := make([]SourceRecord, 0, len(points))
	for _, p := range points {
		payload := valueMapToAny(p.Payload)
		rec := SourceRecord{}
		rec.SourceID, _ = payload["source_id"].(string)
		rec.Summary, _ = payload["summary"].(string)
		rec.TotalWords = intFromAny(payload["total_words"])
		if ts, ok := payload["created_at"].(string); ok {
			rec.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		if ts, ok := payload["updated_at"].(string); ok {
			rec.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceID < records[j].SourceID
	})
	return records, nil
}

// SourceWordCount scrolls the source's chunks and sums their
// word_count payloads client-side, like keyword search does.
func (s *QdrantStore) SourceWordCount(ctx context.Context, sourceID string) (int, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionChunks,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)},
		},
		Limit:       qdrant.PtrOf(uint32(keywordScanLimit)),
		WithPayload: qdrant.NewWithPayloadInclude("word_count"),
	})
	if err != nil {
		return 0, lserrors.Unavailable("summing source words", err)
	}

	total := 0
	for _, p := range points {
		total += intFromAny(valueToAny(p.Payload["word_count"]))
	}
	return total, nil
}

func (s *QdrantStore) search(ctx context.Context, collection string, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	if err := s.checkDim(len(embedding)); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, lserrors.InvalidArgumentf("k must be positive, got %d", k)
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter := buildFilter(filterMetadata); filter != nil {
		req.Filter = filter
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, lserrors.Unavailable("querying "+collection, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		r := resultFromPayload(valueMapToAny(p.Payload))
		r.ID = p.Id.GetUuid()
		// Cosine similarity can be slightly negative; clamp into [0,1].
		r.Score = math.Max(0, math.Min(1, float64(p.Score)))
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) keywordSearch(ctx context.Context, collection, query string, k int, sourceID string, textOf func(map[string]any) string) ([]SearchResult, error) {
	if k < 1 {
		return nil, lserrors.InvalidArgumentf("k must be positive, got %d", k)
	}

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(keywordScanLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if sourceID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)},
		}
	}

	points, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, lserrors.Unavailable("scrolling "+collection, err)
	}

	needle := strings.ToLower(query)
	var results []SearchResult
	for _, p := range points {
		payload := valueMapToAny(p.Payload)
		text := strings.ToLower(textOf(payload))
		hits := strings.Count(text, needle)
		if hits == 0 {
			continue
		}
		r := resultFromPayload(payload)
		r.ID = p.Id.GetUuid()
		// Rank by occurrence count; the absolute value is not a
		// similarity and is replaced during fusion.
		r.Score = float64(hits)
		results = append(results, r)
	}

	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *QdrantStore) deleteByURL(ctx context.Context, collection, url string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("url", url)},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return lserrors.Unavailable("deleting by url from "+collection, err)
	}
	return nil
}

func (s *QdrantStore) checkDim(got int) error {
	if got != s.dim {
		return lserrors.Rejected("embedding dimension mismatch", nil).
			WithDetail("want", strconv.Itoa(s.dim)).
			WithDetail("got", strconv.Itoa(got))
	}
	return nil
}

// buildFilter converts a metadata equality predicate into qdrant
// must-match conditions.
func buildFilter(filterMetadata map[string]any) *qdrant.Filter {
	if len(filterMetadata) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filterMetadata))
	for field, value := range filterMetadata {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatch(field, v))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(field, v))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(field, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(field, v))
		case float64:
			conditions = append(conditions, qdrant.NewMatchInt(field, int64(v)))
		default:
			conditions = append(conditions, qdrant.NewMatch(field, fmt.Sprintf("%v", v)))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

// resultFromPayload splits reserved payload fields from metadata.
func resultFromPayload(payload map[string]any) SearchResult {
	r := SearchResult{Metadata: make(map[string]any)}
	for k, v := range payload {
		switch k {
		case "url":
			r.URL, _ = v.(string)
		case "chunk_index":
			r.ChunkIndex = intFromAny(v)
		case "content":
			r.Content, _ = v.(string)
		case "source_id":
			r.SourceID, _ = v.(string)
		default:
			r.Metadata[k] = v
		}
	}
	return r
}

// valueMapToAny converts a qdrant payload into plain Go values.
func valueMapToAny(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// placeholderVector returns a deterministic unit vector derived from the
// key. Source records need a vector slot but are never similarity
// searched.
func placeholderVector(key string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		vec[i] = float32(rng.Float64()*2 - 1)
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

var _ Store = (*QdrantStore)(nil)
