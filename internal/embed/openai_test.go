package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

const testDims = 8

// embedServer returns an httptest server that answers /embeddings with
// deterministic vectors, after running the optional gate on each request.
func embedServer(t *testing.T, dims int, gate func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		if gate != nil && !gate(w, r) {
			return
		}

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[i%dims] = 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestEmbedder(t *testing.T, baseURL string) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    baseURL,
		Model:      "test-model",
		Dimensions: testDims,
		BatchSize:  4,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return e
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv := embedServer(t, testDims, nil)
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL)
	defer func() { _ = e.Close() }()

	vectors, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, testDims)
	}
}

func TestOpenAIEmbedder_EmptyTextSkipsAPI(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, testDims, func(w http.ResponseWriter, r *http.Request) bool {
		calls.Add(1)
		return true
	})
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL)
	vectors, err := e.EmbedBatch(context.Background(), []string{"", "  ", "real text"})
	require.NoError(t, err)

	assert.Equal(t, ZeroVector(testDims), vectors[0])
	assert.Equal(t, ZeroVector(testDims), vectors[1])
	assert.NotEqual(t, ZeroVector(testDims), vectors[2])
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, testDims, func(w http.ResponseWriter, r *http.Request) bool {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return false
		}
		return true
	})
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL)
	vectors, err := e.EmbedBatch(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedder_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, testDims, func(w http.ResponseWriter, r *http.Request) bool {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
		return false
	})
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL)
	_, err := e.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIEmbedder_WrongDimensionRejected(t *testing.T) {
	srv := embedServer(t, testDims+1, nil)
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL)
	_, err := e.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
}

func TestOpenAIEmbedder_BatchSplitting(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, testDims, func(w http.ResponseWriter, r *http.Request) bool {
		calls.Add(1)
		return true
	})
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL) // batch size 4

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "text"
	}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 10)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Dimensions: 1536})
	assert.Error(t, err, "missing base URL")

	_, err = NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://localhost"})
	assert.Error(t, err, "missing dimensions")
}
