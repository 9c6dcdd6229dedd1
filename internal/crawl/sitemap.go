package crawl

import (
	"encoding/xml"
	"strings"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// sitemapURLSet is the <urlset> document of the sitemap protocol.
type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapIndex is the <sitemapindex> document listing child sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ParseSitemap extracts the page URLs of a sitemap document. For a
// sitemap index the child sitemap URLs are returned with nested=true;
// the caller fetches and parses those in turn.
func ParseSitemap(body string) (locs []string, nested bool, err error) {
	trimmed := strings.TrimSpace(body)

	var urlset sitemapURLSet
	if err := xml.Unmarshal([]byte(trimmed), &urlset); err == nil && len(urlset.URLs) > 0 {
		for _, u := range urlset.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				locs = append(locs, loc)
			}
		}
		return locs, false, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal([]byte(trimmed), &index); err == nil && len(index.Sitemaps) > 0 {
		for _, s := range index.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				locs = append(locs, loc)
			}
		}
		return locs, true, nil
	}

	return nil, false, lserrors.Rejected("response is not a sitemap", nil)
}

// LooksLikeSitemap sniffs a payload for the sitemap XML namespace
// elements, for servers that serve sitemaps under unconventional paths.
func LooksLikeSitemap(body string) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<urlset") || strings.Contains(head, "<sitemapindex")
}
