package crawl

import (
	"net/url"
	"strings"
)

// Strategy selects how a URL is acquired and interpreted.
type Strategy string

const (
	// StrategyText fetches the URL raw and treats the body as one
	// markdown document (llms.txt and friends).
	StrategyText Strategy = "text"
	// StrategySitemap parses the URL as an XML sitemap and crawls the
	// listed locations.
	StrategySitemap Strategy = "sitemap"
	// StrategyWebpage fetches and converts a single HTML page.
	StrategyWebpage Strategy = "webpage"
)

// DetectStrategy classifies a URL by its path. Content sniffed at fetch
// time can still upgrade a webpage to a sitemap when the server returns
// XML without the conventional name.
func DetectStrategy(raw string) Strategy {
	u, err := url.Parse(raw)
	if err != nil {
		return StrategyWebpage
	}
	path := strings.ToLower(u.Path)

	switch {
	case strings.HasSuffix(path, ".txt"):
		return StrategyText
	case strings.HasSuffix(path, "sitemap.xml") || strings.HasSuffix(path, "sitemap_index.xml"):
		return StrategySitemap
	default:
		return StrategyWebpage
	}
}
