package crawl

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lodestone-mcp/lodestone/internal/config"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// PageResult is the per-URL outcome of a crawl. Failed URLs carry their
// error instead of aborting the batch.
type PageResult struct {
	URL      string
	Page     *Page
	Err      error
	Depth    int
	Strategy Strategy
}

// OK reports whether the page was fetched and converted.
func (r PageResult) OK() bool { return r.Err == nil }

// Crawler drives single-page, batch, sitemap, and recursive crawls over
// a Fetcher with per-host politeness and a global concurrency cap.
type Crawler struct {
	fetcher       Fetcher
	gate          *hostGate
	maxConcurrent int
	maxDepth      int
	log           *slog.Logger
}

// New builds the crawler for the configured engine.
func New(cfg *config.Config, log *slog.Logger) *Crawler {
	var fetcher Fetcher
	switch cfg.Crawl.Engine {
	case config.CrawlEngineBrowser:
		fetcher = NewBrowserFetcher(cfg.Crawl.RequestTimeout, cfg.Crawl.UserAgent)
	default:
		fetcher = NewHTTPFetcher(cfg.Crawl.RequestTimeout, cfg.Crawl.UserAgent)
	}
	return NewWithFetcher(fetcher, cfg.Crawl.MaxConcurrent, cfg.Crawl.MaxDepth, log)
}

// NewWithFetcher wires a crawler around an existing fetcher. Tests use
// this with a fake.
func NewWithFetcher(fetcher Fetcher, maxConcurrent, maxDepth int, log *slog.Logger) *Crawler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxDepth < 1 {
		maxDepth = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Crawler{
		fetcher:       fetcher,
		gate:          newHostGate(),
		maxConcurrent: maxConcurrent,
		maxDepth:      maxDepth,
		log:           log,
	}
}

// Close releases the underlying fetcher.
func (c *Crawler) Close() error { return c.fetcher.Close() }

// WithMaxConcurrent returns a crawler view with a different global
// concurrency cap. The fetcher and the per-host gate are shared, so the
// politeness guarantee holds across views.
func (c *Crawler) WithMaxConcurrent(n int) *Crawler {
	if n < 1 {
		return c
	}
	view := *c
	view.maxConcurrent = n
	return &view
}

// CrawlOne dispatches a single URL by its detected strategy. Text and
// sitemap URLs fan out into multiple results.
func (c *Crawler) CrawlOne(ctx context.Context, rawURL string) ([]PageResult, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}

	switch DetectStrategy(canonical) {
	case StrategyText:
		res := c.crawlTextFile(ctx, canonical)
		return []PageResult{res}, nil
	case StrategySitemap:
		return c.CrawlSitemap(ctx, canonical)
	default:
		res := c.fetchOne(ctx, canonical, 0, StrategyWebpage)
		// Servers sometimes serve sitemaps under unconventional paths.
		if res.OK() && strings.Contains(res.Page.ContentType, "xml") && LooksLikeSitemap(res.Page.Markdown) {
			return c.CrawlSitemap(ctx, canonical)
		}
		return []PageResult{res}, nil
	}
}

// CrawlBatch fetches a list of URLs in parallel. Per-URL failures are
// recorded in their result; the only batch-level errors are input
// validation and context cancellation.
func (c *Crawler) CrawlBatch(ctx context.Context, rawURLs []string) ([]PageResult, error) {
	if len(rawURLs) == 0 {
		return nil, lserrors.InvalidArgument("no URLs to crawl")
	}

	canonicals := make([]string, 0, len(rawURLs))
	seen := make(map[string]struct{}, len(rawURLs))
	for _, raw := range rawURLs {
		canonical, err := Canonicalize(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		canonicals = append(canonicals, canonical)
	}

	results := make([]PageResult, len(canonicals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)
	for i, u := range canonicals {
		g.Go(func() error {
			results[i] = c.fetchOne(gctx, u, 0, StrategyWebpage)
			// Cancellation is the one per-URL error that stops the batch.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, lserrors.DeadlineExceeded("batch crawl interrupted", err)
	}
	return results, nil
}

// CrawlSitemap fetches a sitemap, resolves nested sitemap indexes, and
// crawls every listed location.
func (c *Crawler) CrawlSitemap(ctx context.Context, sitemapURL string) ([]PageResult, error) {
	locs, err := c.collectSitemapLocs(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, lserrors.NotFound("sitemap " + sitemapURL + " lists no URLs")
	}
	c.log.Info("crawling sitemap", "url", sitemapURL, "pages", len(locs))
	return c.CrawlBatch(ctx, locs)
}

// maxSitemapNesting bounds sitemap-index recursion.
const maxSitemapNesting = 3

func (c *Crawler) collectSitemapLocs(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > maxSitemapNesting {
		return nil, lserrors.Rejected("sitemap index nested too deep: "+sitemapURL, nil)
	}

	body, _, err := c.fetchRawGated(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	locs, nested, err := ParseSitemap(body)
	if err != nil {
		return nil, lserrors.Wrap(lserrors.KindBackendRejected, err).WithDetail("url", sitemapURL)
	}
	if !nested {
		return locs, nil
	}

	// A sitemap index: gather children, tolerating individual failures.
	var all []string
	for _, child := range locs {
		childLocs, err := c.collectSitemapLocs(ctx, child, depth+1)
		if err != nil {
			c.log.Warn("skipping nested sitemap", "url", child, "error", err)
			continue
		}
		all = append(all, childLocs...)
	}
	return all, nil
}

// CrawlRecursive breadth-first crawls from the start URL, following
// links within the same registrable domain up to maxDepth levels. The
// start page is depth 0.
func (c *Crawler) CrawlRecursive(ctx context.Context, startURL string, maxDepth int) ([]PageResult, error) {
	start, err := Canonicalize(startURL)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > c.maxDepth {
		maxDepth = c.maxDepth
	}

	var (
		visited = map[string]struct{}{start: {}}
		results []PageResult
	)

	frontier := []string{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		levelResults := make([]PageResult, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.maxConcurrent)
		for i, u := range frontier {
			g.Go(func() error {
				levelResults[i] = c.fetchOne(gctx, u, depth, StrategyWebpage)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			results = append(results, levelResults...)
			return results, lserrors.DeadlineExceeded("recursive crawl interrupted", err)
		}

		// The next frontier is capped at twice the concurrency; links
		// beyond the cap are dropped, not deferred.
		frontierCap := 2 * c.maxConcurrent

		var next []string
		for _, res := range levelResults {
			results = append(results, res)
			if !res.OK() {
				c.log.Warn("page failed during recursive crawl", "url", res.URL, "depth", depth, "error", res.Err)
				continue
			}
			if depth+1 >= maxDepth {
				continue
			}
			for _, link := range res.Page.Links {
				if len(next) >= frontierCap {
					break
				}
				if !SameSite(start, link) {
					continue
				}
				if _, dup := visited[link]; dup {
					continue
				}
				visited[link] = struct{}{}
				next = append(next, link)
			}
		}

		frontier = next
	}

	c.log.Info("recursive crawl complete", "start", start, "pages", len(results))
	return results, nil
}

// crawlTextFile fetches a raw text document (llms.txt and similar) and
// presents the body as one markdown page.
func (c *Crawler) crawlTextFile(ctx context.Context, textURL string) PageResult {
	body, contentType, err := c.fetchRawGated(ctx, textURL)
	if err != nil {
		return PageResult{URL: textURL, Err: err, Strategy: StrategyText}
	}
	return PageResult{
		URL:      textURL,
		Strategy: StrategyText,
		Page: &Page{
			URL:         textURL,
			Markdown:    body,
			ContentType: contentType,
		},
	}
}

func (c *Crawler) fetchOne(ctx context.Context, canonical string, depth int, strategy Strategy) PageResult {
	res := PageResult{URL: canonical, Depth: depth, Strategy: strategy}

	release, err := c.gate.acquire(ctx, SourceID(canonical))
	if err != nil {
		res.Err = lserrors.DeadlineExceeded("waiting for host slot", err)
		return res
	}
	defer release()

	res.Page, res.Err = c.fetcher.Fetch(ctx, canonical)
	return res
}

func (c *Crawler) fetchRawGated(ctx context.Context, canonical string) (string, string, error) {
	release, err := c.gate.acquire(ctx, SourceID(canonical))
	if err != nil {
		return "", "", lserrors.DeadlineExceeded("waiting for host slot", err)
	}
	defer release()
	return c.fetcher.FetchRaw(ctx, canonical)
}
