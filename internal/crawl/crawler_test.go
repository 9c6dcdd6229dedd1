package crawl

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// fakeFetcher serves canned pages and records fetch order.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*Page
	raw     map[string]string
	fetched []string
	fail    map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]*Page),
		raw:   make(map[string]string),
		fail:  make(map[string]error),
	}
}

func (f *fakeFetcher) addPage(url, markdown string, links ...string) {
	f.pages[url] = &Page{URL: url, Markdown: markdown, Links: links, ContentType: "text/html"}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, lserrors.NotFound("no page for " + url)
}

func (f *fakeFetcher) FetchRaw(_ context.Context, url string) (string, string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if err, ok := f.fail[url]; ok {
		return "", "", err
	}
	if body, ok := f.raw[url]; ok {
		return body, "application/xml", nil
	}
	return "", "", lserrors.NotFound("no raw body for " + url)
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func newTestCrawler(f Fetcher) *Crawler {
	return NewWithFetcher(f, 4, 3, nil)
}

func TestCrawlOneWebpage(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://docs.example.com/guide", "# Guide\n\nHello.")
	c := newTestCrawler(fake)

	results, err := c.CrawlOne(context.Background(), "https://docs.example.com/guide#intro")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].OK())
	assert.Equal(t, "https://docs.example.com/guide", results[0].URL, "fragment stripped before fetch")
	assert.Equal(t, StrategyWebpage, results[0].Strategy)
	assert.Equal(t, "# Guide\n\nHello.", results[0].Page.Markdown)
}

func TestCrawlOneTextFile(t *testing.T) {
	fake := newFakeFetcher()
	fake.raw["https://docs.example.com/llms.txt"] = "# Docs\n\nEverything inline."
	c := newTestCrawler(fake)

	results, err := c.CrawlOne(context.Background(), "https://docs.example.com/llms.txt")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, StrategyText, results[0].Strategy)
	assert.Equal(t, "# Docs\n\nEverything inline.", results[0].Page.Markdown)
}

func TestCrawlOneRejectsInvalidURL(t *testing.T) {
	c := newTestCrawler(newFakeFetcher())

	_, err := c.CrawlOne(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
}

func TestCrawlBatchIsolatesFailures(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://a.example.com/one", "one")
	fake.fail["https://a.example.com/two"] = lserrors.Rejected("status 404", nil)
	fake.addPage("https://a.example.com/three", "three")
	c := newTestCrawler(fake)

	results, err := c.CrawlBatch(context.Background(), []string{
		"https://a.example.com/one",
		"https://a.example.com/two",
		"https://a.example.com/three",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.True(t, lserrors.IsKind(results[1].Err, lserrors.KindBackendRejected))
	assert.True(t, results[2].OK())
}

func TestCrawlBatchDeduplicates(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://a.example.com/page", "body")
	c := newTestCrawler(fake)

	results, err := c.CrawlBatch(context.Background(), []string{
		"https://a.example.com/page",
		"https://a.example.com/page/",
		"https://a.example.com/page#section",
	})
	require.NoError(t, err)
	assert.Len(t, results, 1, "canonically identical URLs collapse")
	assert.Equal(t, 1, fake.fetchCount())
}

func TestCrawlBatchEmptyInput(t *testing.T) {
	c := newTestCrawler(newFakeFetcher())

	_, err := c.CrawlBatch(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
}

func TestCrawlSitemap(t *testing.T) {
	fake := newFakeFetcher()
	fake.raw["https://docs.example.com/sitemap.xml"] = `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://docs.example.com/a</loc></url>
  <url><loc>https://docs.example.com/b</loc></url>
</urlset>`
	fake.addPage("https://docs.example.com/a", "A")
	fake.addPage("https://docs.example.com/b", "B")
	c := newTestCrawler(fake)

	results, err := c.CrawlOne(context.Background(), "https://docs.example.com/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, results, 2)

	urls := []string{results[0].URL, results[1].URL}
	assert.ElementsMatch(t, []string{"https://docs.example.com/a", "https://docs.example.com/b"}, urls)
}

func TestCrawlSitemapIndex(t *testing.T) {
	fake := newFakeFetcher()
	fake.raw["https://docs.example.com/sitemap.xml"] = `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://docs.example.com/sitemap-pages.xml</loc></sitemap>
</sitemapindex>`
	fake.raw["https://docs.example.com/sitemap-pages.xml"] = `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://docs.example.com/page</loc></url>
</urlset>`
	fake.addPage("https://docs.example.com/page", "content")
	c := newTestCrawler(fake)

	results, err := c.CrawlSitemap(context.Background(), "https://docs.example.com/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://docs.example.com/page", results[0].URL)
}

func TestCrawlSitemapEmpty(t *testing.T) {
	fake := newFakeFetcher()
	fake.raw["https://docs.example.com/sitemap.xml"] = `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`
	c := newTestCrawler(fake)

	_, err := c.CrawlSitemap(context.Background(), "https://docs.example.com/sitemap.xml")
	require.Error(t, err)
}

func TestCrawlRecursiveStaysOnSite(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://docs.example.com/", "root",
		"https://docs.example.com/a",
		"https://other.example.org/external")
	fake.addPage("https://docs.example.com/a", "A",
		"https://docs.example.com/b")
	fake.addPage("https://docs.example.com/b", "B")
	c := newTestCrawler(fake)

	results, err := c.CrawlRecursive(context.Background(), "https://docs.example.com/", 3)
	require.NoError(t, err)

	urls := make([]string, 0, len(results))
	for _, r := range results {
		require.True(t, r.OK())
		urls = append(urls, r.URL)
	}
	assert.ElementsMatch(t, []string{
		"https://docs.example.com/",
		"https://docs.example.com/a",
		"https://docs.example.com/b",
	}, urls, "cross-site link not followed")
}

func TestCrawlRecursiveRespectsDepth(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://docs.example.com/", "root", "https://docs.example.com/a")
	fake.addPage("https://docs.example.com/a", "A", "https://docs.example.com/b")
	fake.addPage("https://docs.example.com/b", "B")
	c := newTestCrawler(fake)

	results, err := c.CrawlRecursive(context.Background(), "https://docs.example.com/", 2)
	require.NoError(t, err)
	require.Len(t, results, 2, "depth 2 stops before the grandchild")

	for _, r := range results {
		assert.Less(t, r.Depth, 2)
	}
}

func TestCrawlRecursiveDoesNotRevisit(t *testing.T) {
	fake := newFakeFetcher()
	// a and b link back to each other and to the root.
	fake.addPage("https://docs.example.com/", "root",
		"https://docs.example.com/a", "https://docs.example.com/b")
	fake.addPage("https://docs.example.com/a", "A",
		"https://docs.example.com/b", "https://docs.example.com/")
	fake.addPage("https://docs.example.com/b", "B",
		"https://docs.example.com/a", "https://docs.example.com/")
	c := newTestCrawler(fake)

	results, err := c.CrawlRecursive(context.Background(), "https://docs.example.com/", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, fake.fetchCount(), "each page fetched once")
}

func TestCrawlRecursiveBoundsFrontier(t *testing.T) {
	fake := newFakeFetcher()
	links := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		u := fmt.Sprintf("https://docs.example.com/p%d", i)
		links = append(links, u)
		fake.addPage(u, "page")
	}
	fake.addPage("https://docs.example.com/", "root", links...)
	c := NewWithFetcher(fake, 4, 3, nil)

	results, err := c.CrawlRecursive(context.Background(), "https://docs.example.com/", 2)
	require.NoError(t, err)

	// A link-dense page queues at most twice the concurrency cap for
	// the next level.
	assert.Len(t, results, 1+2*4)
	assert.Equal(t, 1+2*4, fake.fetchCount())
}

func TestCrawlRecursiveContinuesPastFailures(t *testing.T) {
	fake := newFakeFetcher()
	fake.addPage("https://docs.example.com/", "root",
		"https://docs.example.com/broken", "https://docs.example.com/ok")
	fake.fail["https://docs.example.com/broken"] = lserrors.Unavailable("connection refused", nil)
	fake.addPage("https://docs.example.com/ok", "fine")
	c := newTestCrawler(fake)

	results, err := c.CrawlRecursive(context.Background(), "https://docs.example.com/", 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	var failed, succeeded int
	for _, r := range results {
		if r.OK() {
			succeeded++
		} else {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
}
