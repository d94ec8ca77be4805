package scraper

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL canonicalizes an absolute http(s) URL so that equivalent
// spellings admit into a job exactly once:
//   - scheme and host lowercased
//   - default ports stripped
//   - fragment removed
//   - query parameters sorted by key
//   - empty path canonicalized to "/"
//
// Paths stay case-sensitive; servers routinely distinguish them.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("URL is not absolute: %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return normalizeParsed(u), nil
}

// ResolveLink resolves href against the page it appeared on and
// normalizes the result
func ResolveLink(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", resolved.Scheme)
	}
	return normalizeParsed(resolved), nil
}

func normalizeParsed(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Strip default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	// Sort query parameters for consistent comparison
	if u.RawQuery != "" {
		query := u.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		values := url.Values{}
		for _, k := range keys {
			values[k] = query[k]
		}
		u.RawQuery = values.Encode()
	}

	return u.String()
}
