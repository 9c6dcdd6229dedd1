package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// PGVectorStore implements Store on PostgreSQL with the pgvector
// extension. Chunks and code examples live in relational tables with a
// vector column; sources are a plain table.
type PGVectorStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPGVectorStore connects to PostgreSQL with the given DSN.
func NewPGVectorStore(ctx context.Context, dsn string, dim int) (*PGVectorStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, lserrors.InvalidArgumentf("invalid DATABASE_URL: %v", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, lserrors.Unavailable("connecting to postgres", err)
	}
	return &PGVectorStore{pool: pool, dim: dim}, nil
}

// Init creates the extension, tables, and indexes if missing.
func (s *PGVectorStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			source_id TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (url, chunk_index)
		)`, CollectionChunks, s.dim),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (url, chunk_index)
		)`, CollectionCodeExamples, s.dim),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			total_words INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, CollectionSources),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
			CollectionChunks, CollectionChunks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
			CollectionCodeExamples, CollectionCodeExamples),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source_id)`,
			CollectionChunks, CollectionChunks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source_id)`,
			CollectionCodeExamples, CollectionCodeExamples),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return lserrors.Unavailable("initializing postgres schema", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertChunks inserts or replaces chunks in one transaction.
func (s *PGVectorStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lserrors.Unavailable("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := fmt.Sprintf(`INSERT INTO %s (id, url, chunk_index, content, source_id, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			source_id = EXCLUDED.source_id,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, CollectionChunks)

	for _, c := range chunks {
		if err := s.checkDim(len(c.Embedding)); err != nil {
			return err
		}
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, sql,
			ChunkPointID(c.URL, c.ChunkIndex), c.URL, c.ChunkIndex,
			c.Content, c.SourceID, meta, pgvector.NewVector(c.Embedding))
		if err != nil {
			return lserrors.Unavailable("upserting chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return lserrors.Unavailable("committing chunk upsert", err)
	}
	return nil
}

// DeleteChunksByURL removes every chunk with the exact URL.
func (s *PGVectorStore) DeleteChunksByURL(ctx context.Context, url string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, CollectionChunks)
	if _, err := s.pool.Exec(ctx, sql, url); err != nil {
		return lserrors.Unavailable("deleting chunks by url", err)
	}
	return nil
}

// SearchChunks runs cosine similarity search with optional metadata
// filtering. Filtering happens server-side in SQL.
func (s *PGVectorStore) SearchChunks(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	return s.search(ctx, CollectionChunks, embedding, k, filterMetadata)
}

// KeywordSearchChunks runs a server-side ILIKE substring match over chunk
// content, ranked by occurrence count.
func (s *PGVectorStore) KeywordSearchChunks(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionChunks, "content", query, k, sourceID)
}

// UpsertCodeExamples inserts or replaces code examples in one transaction.
func (s *PGVectorStore) UpsertCodeExamples(ctx context.Context, examples []CodeExample) error {
	if len(examples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lserrors.Unavailable("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := fmt.Sprintf(`INSERT INTO %s (id, url, chunk_index, content, summary, language, source_id, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			summary = EXCLUDED.summary,
			language = EXCLUDED.language,
			source_id = EXCLUDED.source_id,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, CollectionCodeExamples)

	for _, e := range examples {
		if err := s.checkDim(len(e.Embedding)); err != nil {
			return err
		}
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, sql,
			CodeExamplePointID(e.URL, e.ExampleIndex), e.URL, e.ExampleIndex,
			e.Code, e.Summary, e.Language, e.SourceID, meta, pgvector.NewVector(e.Embedding))
		if err != nil {
			return lserrors.Unavailable("upserting code example", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return lserrors.Unavailable("committing code example upsert", err)
	}
	return nil
}

// DeleteCodeExamplesByURL removes every code example with the URL.
func (s *PGVectorStore) DeleteCodeExamplesByURL(ctx context.Context, url string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, CollectionCodeExamples)
	if _, err := s.pool.Exec(ctx, sql, url); err != nil {
		return lserrors.Unavailable("deleting code examples by url", err)
	}
	return nil
}

// SearchCodeExamples runs cosine similarity search over code examples.
func (s *PGVectorStore) SearchCodeExamples(ctx context.Context, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	return s.search(ctx, CollectionCodeExamples, embedding, k, filterMetadata)
}

// KeywordSearchCodeExamples matches code and summaries by substring.
func (s *PGVectorStore) KeywordSearchCodeExamples(ctx context.Context, query string, k int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionCodeExamples, "content || ' ' || summary", query, k, sourceID)
}

// UpsertSource creates or updates a source registry record. The conflict
// clause keeps the original created_at.
func (s *PGVectorStore) UpsertSource(ctx context.Context, rec SourceRecord) error {
	sql := fmt.Sprintf(`INSERT INTO %s (source_id, summary, total_words)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			total_words = EXCLUDED.total_words,
			updated_at = now()`, CollectionSources)
	if _, err := s.pool.Exec(ctx, sql, rec.SourceID, rec.Summary, rec.TotalWords); err != nil {
		return lserrors.Unavailable("upserting source", err)
	}
	return nil
}

// GetSources lists all source records sorted by source ID.
func (s *PGVectorStore) GetSources(ctx context.Context) ([]SourceRecord, error) {
	sql := fmt.Sprintf(`SELECT source_id, summary, total_words, created_at, updated_at
		FROM %s ORDER BY source_id`, CollectionSources)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, lserrors.Unavailable("listing sources", err)
	}
	defer rows.Close()

	var records []SourceRecord
	for rows.Next() {
		var rec SourceRecord
		if err := rows.Scan(&rec.SourceID, &rec.Summary, &rec.TotalWords, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, lserrors.Unavailable("scanning source row", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SourceWordCount sums word counts over the source's stored chunks.
func (s *PGVectorStore) SourceWordCount(ctx context.Context, sourceID string) (int, error) {
	sql := fmt.Sprintf(`SELECT COALESCE(SUM((metadata->>'word_count')::int), 0)
		FROM %s WHERE source_id = $1`, CollectionChunks)
	var total int
	if err := s.pool.QueryRow(ctx, sql, sourceID).Scan(&total); err != nil {
		return 0, lserrors.Unavailable("summing source words", err)
	}
	return total, nil
}

func (s *PGVectorStore) search(ctx context.Context, table string, embedding []float32, k int, filterMetadata map[string]any) ([]SearchResult, error) {
	if err := s.checkDim(len(embedding)); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, lserrors.InvalidArgumentf("k must be positive, got %d", k)
	}

	args := []any{pgvector.NewVector(embedding)}
	where := make([]string, 0, 2)

	// source_id is a column; remaining filter keys match the metadata
	// JSONB by containment.
	meta := make(map[string]any)
	for key, value := range filterMetadata {
		if key == "source_id" || key == "source" {
			args = append(args, fmt.Sprintf("%v", value))
			where = append(where, fmt.Sprintf("source_id = $%d", len(args)))
			continue
		}
		meta[key] = value
	}
	if len(meta) > 0 {
		blob, err := json.Marshal(meta)
		if err != nil {
			return nil, lserrors.InvalidArgumentf("unencodable filter metadata: %v", err)
		}
		args = append(args, string(blob))
		where = append(where, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, k)

	sql := fmt.Sprintf(`SELECT id, url, chunk_index, content, source_id, metadata,
			1 - (embedding <=> $1) AS similarity
		FROM %s %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, whereClause, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, lserrors.Unavailable("querying "+table, err)
	}
	defer rows.Close()

	return scanResults(rows, true)
}

func (s *PGVectorStore) keywordSearch(ctx context.Context, table, textExpr, query string, k int, sourceID string) ([]SearchResult, error) {
	if k < 1 {
		return nil, lserrors.InvalidArgumentf("k must be positive, got %d", k)
	}

	args := []any{query}
	where := fmt.Sprintf("(%s) ILIKE '%%' || $1 || '%%'", textExpr)
	if sourceID != "" {
		args = append(args, sourceID)
		where += fmt.Sprintf(" AND source_id = $%d", len(args))
	}
	args = append(args, k)

	// Rank by occurrence count computed in SQL so pagination stays
	// server-side and deterministic.
	sql := fmt.Sprintf(`SELECT id, url, chunk_index, content, source_id, metadata,
			((length(lower(%s)) - length(replace(lower(%s), lower($1), ''))) / greatest(length($1), 1))::float AS hits
		FROM %s
		WHERE %s
		ORDER BY hits DESC, chunk_index ASC, url ASC
		LIMIT $%d`, textExpr, textExpr, table, where, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, lserrors.Unavailable("keyword searching "+table, err)
	}
	defer rows.Close()

	return scanResults(rows, false)
}

func (s *PGVectorStore) checkDim(got int) error {
	if got != s.dim {
		return lserrors.Rejected("embedding dimension mismatch", nil).
			WithDetail("want", strconv.Itoa(s.dim)).
			WithDetail("got", strconv.Itoa(got))
	}
	return nil
}

// scanResults reads (id, url, chunk_index, content, source_id, metadata,
// score) rows. Similarity scores are clamped into [0,1]; keyword hit
// counts pass through for rank fusion.
func scanResults(rows pgx.Rows, clamp bool) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metaBytes []byte
		var score float64
		if err := rows.Scan(&r.ID, &r.URL, &r.ChunkIndex, &r.Content, &r.SourceID, &metaBytes, &score); err != nil {
			return nil, lserrors.Unavailable("scanning result row", err)
		}
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &r.Metadata); err != nil {
				r.Metadata = map[string]any{}
			}
		} else {
			r.Metadata = map[string]any{}
		}
		if clamp {
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
		}
		r.Score = score
		results = append(results, r)
	}
	return results, rows.Err()
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return "", lserrors.InvalidArgumentf("unencodable metadata: %v", err)
	}
	return string(blob), nil
}

var _ Store = (*PGVectorStore)(nil)
