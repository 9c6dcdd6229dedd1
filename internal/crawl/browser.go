package crawl

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// BrowserFetcher renders pages in headless Chrome before conversion,
// for sites that assemble their content with JavaScript. Slower and
// heavier than HTTPFetcher; selected with CRAWLER_ENGINE=browser.
type BrowserFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	userAgent   string

	// raw fetches (sitemaps, text files) skip the browser entirely.
	httpFallback *HTTPFetcher
}

var _ Fetcher = (*BrowserFetcher)(nil)

// NewBrowserFetcher starts a shared headless-Chrome allocator. Each
// Fetch runs in a fresh tab.
func NewBrowserFetcher(timeout time.Duration, userAgent string) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{
		allocCtx:     allocCtx,
		allocCancel:  cancel,
		timeout:      timeout,
		userAgent:    userAgent,
		httpFallback: NewHTTPFetcher(timeout, userAgent),
	}
}

// Fetch renders the page and converts the resulting DOM.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx)
	defer cancelTab()

	runCtx, cancel := context.WithTimeout(tabCtx, f.timeout)
	defer cancel()

	// Propagate caller cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	var outerHTML string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &outerHTML),
	)
	if err != nil {
		if ctx.Err() != nil || runCtx.Err() == context.DeadlineExceeded {
			return nil, lserrors.DeadlineExceeded("rendering "+pageURL, err)
		}
		return nil, lserrors.Unavailable("rendering "+pageURL, err)
	}

	markdown, err := htmlToMarkdown(pageURL, outerHTML)
	if err != nil {
		return nil, lserrors.Rejected("converting page to markdown", err).WithDetail("url", pageURL)
	}

	return &Page{
		URL:         pageURL,
		Markdown:    markdown,
		Links:       harvestLinks(pageURL, outerHTML),
		ContentType: "text/html",
	}, nil
}

// FetchRaw bypasses the browser; raw documents never need rendering.
func (f *BrowserFetcher) FetchRaw(ctx context.Context, pageURL string) (string, string, error) {
	return f.httpFallback.FetchRaw(ctx, pageURL)
}

// Close shuts down the browser allocator.
func (f *BrowserFetcher) Close() error {
	f.allocCancel()
	return f.httpFallback.Close()
}
