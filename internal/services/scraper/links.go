package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// LinkExtractor discovers outbound links from fetched HTML
type LinkExtractor struct {
	logger arbor.ILogger
}

// NewLinkExtractor creates a new link extractor
func NewLinkExtractor(logger arbor.ILogger) *LinkExtractor {
	return &LinkExtractor{
		logger: logger,
	}
}

// ExtractLinks returns the unique, normalized absolute URLs linked from
// the page. Relative hrefs resolve against pageURL (the final URL after
// redirects, so relative links on redirected pages resolve correctly).
func (le *LinkExtractor) ExtractLinks(html string, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for link extraction: %w", err)
	}

	var links []string
	linkSet := make(map[string]bool)

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}

		if shouldSkipLink(href) {
			return
		}

		normalized, err := ResolveLink(pageURL, href)
		if err != nil {
			return
		}

		if isFileDownload(normalized) {
			return
		}

		if !linkSet[normalized] {
			linkSet[normalized] = true
			links = append(links, normalized)
		}
	})

	le.logger.Debug().
		Str("page_url", pageURL).
		Int("links_found", len(links)).
		Msg("Links extracted from HTML content")

	return links, nil
}

// shouldSkipLink filters hrefs that can never become crawl targets
func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))

	if href == "" {
		return true
	}

	// Non-navigational schemes
	if strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "sms:") ||
		strings.HasPrefix(href, "ftp:") ||
		strings.HasPrefix(href, "data:") {
		return true
	}

	// Fragment-only links (anchors)
	if strings.HasPrefix(href, "#") {
		return true
	}

	return false
}

// isFileDownload reports whether a URL points at media or a file
// download rather than a page
func isFileDownload(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)

	downloadExtensions := []string{
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
		".css", ".js", ".pdf", ".zip", ".tar", ".gz", ".rar", ".7z",
		".exe", ".dmg", ".pkg", ".deb", ".rpm", ".iso",
		".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
		".mp3", ".mp4", ".avi", ".mov", ".webm",
	}
	for _, ext := range downloadExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
