package websearch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

func searxngServer(t *testing.T, hits []SearchHit) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "general", r.URL.Query().Get("categories"))
		assert.NotEmpty(t, r.URL.Query().Get("limit"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "application/json")
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))

		_ = json.NewEncoder(w).Encode(searxngResponse{Results: hits})
	}))
}

func TestSearch(t *testing.T) {
	srv := searxngServer(t, []SearchHit{
		{URL: "https://docs.example.com/guide", Title: "Guide"},
		{URL: "https://blog.example.org/post", Title: "Post"},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	hits, err := c.Search(context.Background(), "example guide", 6)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://docs.example.com/guide", hits[0].URL)
}

func TestSearchFiltersAndCaps(t *testing.T) {
	srv := searxngServer(t, []SearchHit{
		{URL: "https://docs.example.com/a"},
		{URL: "https://www.youtube.com/watch?v=x"},
		{URL: "https://docs.example.com/a"},
		{URL: "ftp://example.com/file"},
		{URL: "https://docs.example.com/b"},
		{URL: "https://docs.example.com/c"},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	hits, err := c.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://docs.example.com/a", hits[0].URL)
	assert.Equal(t, "https://docs.example.com/b", hits[1].URL)
}

func TestSearchPassesLimitToBackend(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(searxngResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Search(context.Background(), "query", 4)
	require.NoError(t, err)
	assert.Equal(t, "4", gotLimit)
}

func TestSearchGzipEncodedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(searxngResponse{Results: []SearchHit{
			{URL: "https://docs.example.com/guide", Title: "Guide"},
		}})
		_ = gz.Close()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	hits, err := c.Search(context.Background(), "example guide", 6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://docs.example.com/guide", hits[0].URL)
}

func TestSearchNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Rate limit exceeded</body></html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Search(context.Background(), "query", 6)
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))

	var lsErr *lserrors.Error
	require.ErrorAs(t, err, &lsErr)
	assert.Contains(t, lsErr.Details["body"], "Rate limit")
}

func TestSearchErrorStatusCarriesSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(strings.Repeat("blocked ", 200)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Search(context.Background(), "query", 6)
	require.Error(t, err)

	var lsErr *lserrors.Error
	require.ErrorAs(t, err, &lsErr)
	assert.LessOrEqual(t, len(lsErr.Details["body"]), bodySnippetLimit)
}

func TestSearchCircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Search(ctx, "query", 6)
		require.Error(t, err)
		assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
	}

	// Fourth call fails fast without hitting the server.
	_, err := c.Search(ctx, "query", 6)
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendUnavailable))
}

func TestSearchValidation(t *testing.T) {
	c := NewClient("", "", time.Second)
	_, err := c.Search(context.Background(), "query", 6)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
	assert.False(t, c.Configured())

	c = NewClient("http://localhost:8080", "", time.Second)
	_, err = c.Search(context.Background(), "  ", 6)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
}
