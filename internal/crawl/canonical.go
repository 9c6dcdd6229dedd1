package crawl

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// Canonicalize normalizes a URL for visited-set and storage keys:
// fragment stripped, host lowercased, default port dropped, trailing
// slash removed from non-root paths. The scheme is preserved.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", lserrors.InvalidArgumentf("invalid URL %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", lserrors.InvalidArgumentf("unsupported URL scheme %q", raw)
	}
	if u.Host == "" {
		return "", lserrors.InvalidArgumentf("URL %q has no host", raw)
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// SourceID returns the host-only source identifier for a URL.
func SourceID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameSite reports whether two URLs share a registrable domain
// (eTLD+1), the boundary recursive crawls stay inside.
func SameSite(a, b string) bool {
	ha, hb := SourceID(a), SourceID(b)
	if ha == "" || hb == "" {
		return false
	}

	ea, errA := publicsuffix.EffectiveTLDPlusOne(ha)
	eb, errB := publicsuffix.EffectiveTLDPlusOne(hb)
	if errA != nil || errB != nil {
		// Hosts without a public suffix (localhost, IPs) compare exactly.
		return ha == hb
	}
	return ea == eb
}

// ResolveLink resolves href against the page URL and canonicalizes the
// result. Non-http(s) and unparsable links return empty.
func ResolveLink(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	canonical, err := Canonicalize(resolved.String())
	if err != nil {
		return ""
	}
	return canonical
}
