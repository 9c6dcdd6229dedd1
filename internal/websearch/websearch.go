// Package websearch queries a SearXNG metasearch instance for URLs to
// crawl. The instance applies bot detection, so requests carry a
// browser-plausible header set; repeated failures trip a circuit
// breaker so tool calls fail fast instead of stacking timeouts.
package websearch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// bodySnippetLimit caps diagnostic body excerpts attached to errors.
const bodySnippetLimit = 512

// denylistedHosts are aggregator and paywall hosts whose pages crawl
// poorly; their results are dropped before ingestion.
var denylistedHosts = map[string]struct{}{
	"www.youtube.com":     {},
	"youtube.com":         {},
	"youtu.be":            {},
	"twitter.com":         {},
	"x.com":               {},
	"www.facebook.com":    {},
	"www.instagram.com":   {},
	"www.pinterest.com":   {},
	"www.linkedin.com":    {},
	"accounts.google.com": {},
}

// SearchHit is one metasearch result.
type SearchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Client queries one SearXNG instance.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	breaker   *lserrors.CircuitBreaker
}

// NewClient points at a SearXNG base URL.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
		breaker: lserrors.NewCircuitBreaker("searxng",
			lserrors.WithMaxFailures(3),
			lserrors.WithResetTimeout(30*time.Second)),
	}
}

// Configured reports whether a search backend URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

type searxngResponse struct {
	Results []SearchHit `json:"results"`
}

// Search runs a general-category query and returns up to numResults
// deduplicated, denylist-filtered hits.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]SearchHit, error) {
	if !c.Configured() {
		return nil, lserrors.InvalidArgument("SEARXNG_URL is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, lserrors.InvalidArgument("query must not be empty")
	}
	if numResults <= 0 {
		numResults = 6
	}

	hits, err := lserrors.CircuitExecute(c.breaker, func() ([]SearchHit, error) {
		return c.search(ctx, query, numResults)
	})
	if err != nil {
		if err == lserrors.ErrCircuitOpen {
			return nil, lserrors.Unavailable("search backend circuit is open", err).
				WithSuggestion("wait for the search backend to recover or check SEARXNG_URL")
		}
		return nil, err
	}

	return filterHits(hits, numResults), nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	// The limit lets the instance bound its own work; denylist filtering
	// happens client-side afterwards.
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&categories=general&limit=%d",
		c.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, lserrors.Internal("building search request", err)
	}
	// SearXNG rejects clients that do not look like browsers.
	userAgent := c.userAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, lserrors.DeadlineExceeded("searching", err)
		}
		return nil, lserrors.Unavailable("search backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, lserrors.Rejected("search backend sent an undecodable body", err)
	}

	body, err := io.ReadAll(io.LimitReader(reader, 1<<20))
	if err != nil {
		return nil, lserrors.Unavailable("reading search response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, lserrors.Rejected(
			fmt.Sprintf("search backend returned status %d", resp.StatusCode), nil).
			WithDetail("body", snippet(body)).
			WithSuggestion("the instance may have bot detection enabled; check its limiter settings")
	}

	var out searxngResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// HTML instead of JSON usually means the instance blocked us.
		return nil, lserrors.Rejected("search backend returned non-JSON response", err).
			WithDetail("body", snippet(body))
	}
	return out.Results, nil
}

// filterHits deduplicates by URL, drops denylisted and unparsable
// hosts, and caps the result count.
func filterHits(hits []SearchHit, limit int) []SearchHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]SearchHit, 0, limit)
	for _, hit := range hits {
		u, err := url.Parse(hit.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if _, blocked := denylistedHosts[host]; blocked {
			continue
		}
		if _, dup := seen[hit.URL]; dup {
			continue
		}
		seen[hit.URL] = struct{}{}
		out = append(out, hit)
		if len(out) == limit {
			break
		}
	}
	return out
}

// decodeBody undoes the response Content-Encoding. The explicit
// Accept-Encoding header disables the transport's transparent gzip
// handling, so compressed bodies arrive exactly as the server sent them.
func decodeBody(body io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		return gzip.NewReader(body)
	case "deflate":
		return flate.NewReader(body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func snippet(body []byte) string {
	if len(body) > bodySnippetLimit {
		body = body[:bodySnippetLimit]
	}
	return string(body)
}
