package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedding client. Any
// service speaking the /embeddings wire format works: OpenAI itself,
// Azure deployments, or local servers such as Ollama's compat endpoint.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is the embedding model identifier.
	Model string
	// Dimensions is the expected vector dimension. Responses with any
	// other dimension are rejected.
	Dimensions int
	// BatchSize caps texts per request, clamped to [MinBatchSize, MaxBatchSize].
	BatchSize int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// OpenAIEmbedder generates embeddings through an OpenAI-compatible API.
// Transient failures (429, 5xx, transport errors) are retried three
// times with exponential backoff; Retry-After is honored when present.
type OpenAIEmbedder struct {
	client *http.Client
	config OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// retryAfterError carries a server-requested delay up to the retry loop.
type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// NewOpenAIEmbedder creates the client. No network call is made here;
// reachability is probed lazily through Available.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, lserrors.InvalidArgument("embeddings base URL is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, lserrors.InvalidArgumentf("embedding dimension must be positive, got %d", cfg.Dimensions)
	}
	if cfg.BatchSize < MinBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// requests of at most BatchSize. Empty inputs embed to zero vectors
// without a network call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, lserrors.Internal("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Empty strings are not sent to the API; the provider would reject
	// them and their embedding is definitionally contentless.
	var pendingIdx []int
	var pendingTexts []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = ZeroVector(e.config.Dimensions)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, text)
	}

	for start := 0; start < len(pendingTexts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pendingTexts) {
			end = len(pendingTexts)
		}

		vectors, err := e.embedWithRetry(ctx, pendingTexts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			results[pendingIdx[start+i]] = vec
		}
	}

	return results, nil
}

// embedWithRetry runs one API request under the standard 1s/2s/4s
// backoff schedule. Only retryable failures are reattempted.
func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := lserrors.DefaultRetryConfig()
	cfg.Jitter = true
	cfg.RetryIf = lserrors.IsRetryable
	cfg.DelayHint = func(err error) (time.Duration, bool) {
		var ra *retryAfterError
		if stderrors.As(err, &ra) {
			return ra.delay, true
		}
		return 0, false
	}

	return lserrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

// doEmbed performs a single embeddings request.
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, lserrors.Internal("marshaling embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, lserrors.Internal("building embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, lserrors.DeadlineExceeded("embedding request", err)
		}
		return nil, lserrors.Unavailable("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(snippet))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			wrapped := lserrors.Unavailable("embedding API overloaded", statusErr)
			if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
				return nil, &retryAfterError{err: wrapped, delay: delay}
			}
			return nil, wrapped
		default:
			return nil, lserrors.Rejected("embedding API rejected request", statusErr)
		}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, lserrors.Rejected("malformed embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, lserrors.Rejected(
			fmt.Sprintf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts)), nil)
	}

	// The API is allowed to reorder; the index field restores input order.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != e.config.Dimensions {
			return nil, lserrors.Rejected("embedding dimension mismatch", nil).
				WithDetail("want", strconv.Itoa(e.config.Dimensions)).
				WithDetail("got", strconv.Itoa(len(d.Embedding)))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the provider with a one-word embedding request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := e.doEmbed(probeCtx, []string{"ping"})
	return err == nil
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// parseRetryAfter reads a Retry-After header in seconds form.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
