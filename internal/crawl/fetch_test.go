package crawl

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

func TestHTTPFetcherConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "text/html")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Install Guide</title></head><body>
<article>
<h1>Install Guide</h1>
<p>Run the installer and follow the prompts. This paragraph needs enough
text for readability to treat the article as the main content of the page,
so it rambles on for a few more clauses about configuration files,
environment variables, and where the logs end up after a failed run.</p>
<a href="/next-steps">Next steps</a>
</article>
</body></html>`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	page, err := f.Fetch(context.Background(), srv.URL+"/guide")
	require.NoError(t, err)

	assert.Contains(t, page.Markdown, "# Install Guide")
	assert.Contains(t, page.Markdown, "Run the installer")
	assert.NotContains(t, page.Markdown, "<p>")
	assert.Contains(t, page.Links, srv.URL+"/next-steps")
}

func TestHTTPFetcherPassesThroughPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# Docs\n\nplain body"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	page, err := f.Fetch(context.Background(), srv.URL+"/llms.txt")
	require.NoError(t, err)
	assert.Equal(t, "# Docs\n\nplain body", page.Markdown)
	assert.Empty(t, page.Links)
}

func TestHTTPFetcherDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("# Docs\n\ncompressed body"))
		_ = gz.Close()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	page, err := f.Fetch(context.Background(), srv.URL+"/docs")
	require.NoError(t, err)
	assert.Equal(t, "# Docs\n\ncompressed body", page.Markdown)
}

func TestHTTPFetcherDecompressesDeflate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Encoding", "deflate")
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("deflated body"))
		_ = fw.Close()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	body, _, err := f.FetchRaw(context.Background(), srv.URL+"/docs")
	require.NoError(t, err)
	assert.Equal(t, "deflated body", body)
}

func TestHTTPFetcherRejectsUnknownEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write([]byte("not really brotli"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	_, _, err := f.FetchRaw(context.Background(), srv.URL+"/docs")
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
}

func TestHTTPFetcherStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "")
	defer func() { _ = f.Close() }()

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindBackendRejected))
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	f := NewHTTPFetcher(500*time.Millisecond, "")
	defer func() { _ = f.Close() }()

	// Reserved TEST-NET-1 address, nothing listens there.
	_, err := f.Fetch(context.Background(), "http://192.0.2.1:9/page")
	require.Error(t, err)
}

func TestHTTPFetcherContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(30*time.Second, "")
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL+"/slow")
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindTimeout))
}

func TestHarvestLinksDeduplicates(t *testing.T) {
	links := harvestLinks("https://example.com/base", `<html><body>
<a href="/a">one</a>
<a href="/a#frag">same after canonicalization</a>
<a href="/b/">two</a>
</body></html>`)

	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
	}, links)
}

func TestHostGateSerializesPerHost(t *testing.T) {
	gate := newHostGate()
	ctx := context.Background()

	release, err := gate.acquire(ctx, "example.com")
	require.NoError(t, err)

	// Second acquire on the same host blocks until release.
	acquired := make(chan struct{})
	go func() {
		r2, err2 := gate.acquire(ctx, "example.com")
		assert.NoError(t, err2)
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while token is held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different host is not blocked.
	r3, err := gate.acquire(ctx, "other.org")
	require.NoError(t, err)
	r3()

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestHostGateHonorsContext(t *testing.T) {
	gate := newHostGate()
	release, err := gate.acquire(context.Background(), "example.com")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = gate.acquire(ctx, "example.com")
	assert.Error(t, err)
}
