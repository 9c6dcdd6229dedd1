package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// Reranker scores candidate documents against a query. Higher is more
// relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
	// Available probes the backing service so callers can fall back to
	// vector ordering instead of failing queries.
	Available(ctx context.Context) bool
	Name() string
}

// HTTPReranker talks to a local cross-encoder service.
type HTTPReranker struct {
	baseURL string
	client  *http.Client
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker points at a reranker service base URL.
func NewHTTPReranker(baseURL string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank posts (query, documents) and returns one score per document.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, lserrors.Internal("encoding rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, lserrors.Internal("building rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, lserrors.DeadlineExceeded("reranking", err)
		}
		return nil, lserrors.Unavailable("reranker unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, lserrors.Rejected(
			fmt.Sprintf("reranker returned status %d", resp.StatusCode), nil).
			WithDetail("body", string(snippet))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, lserrors.Rejected("decoding reranker response", err)
	}
	if len(out.Scores) != len(documents) {
		return nil, lserrors.Rejected(
			fmt.Sprintf("reranker returned %d scores for %d documents", len(out.Scores), len(documents)), nil)
	}
	return out.Scores, nil
}

// Available probes the service health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *HTTPReranker) Name() string { return "http:" + r.baseURL }

// NoOpReranker keeps the vector ordering. Used when no reranker URL is
// configured.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i := range scores {
		scores[i] = float64(len(documents)-i) / float64(len(documents))
	}
	return scores, nil
}

func (NoOpReranker) Available(context.Context) bool { return false }
func (NoOpReranker) Name() string                   { return "noop" }
