package scraper

import (
	"testing"

	"github.com/ternarybob/arbor"
)

func TestLinkExtractor_ExtractLinks(t *testing.T) {
	extractor := NewLinkExtractor(arbor.NewLogger())

	html := `<!DOCTYPE html>
<html>
<body>
	<a href="/about">About</a>
	<a href="setup">Setup</a>
	<a href="https://other.example.org/page">External</a>
	<a href="#section">Anchor</a>
	<a href="mailto:team@example.com">Mail</a>
	<a href="javascript:void(0)">JS</a>
	<a href="tel:+1234567890">Phone</a>
	<a href="/files/report.pdf">Report</a>
	<a href="/images/logo.png">Logo</a>
	<a href="/about">Duplicate</a>
	<a href="/About">Different case path</a>
	<a>No href</a>
</body>
</html>`

	links, err := extractor.ExtractLinks(html, "https://example.com/docs/")
	if err != nil {
		t.Fatalf("ExtractLinks failed: %v", err)
	}

	want := map[string]bool{
		"https://example.com/about":      true,
		"https://example.com/docs/setup": true,
		"https://other.example.org/page": true,
		"https://example.com/About":      true,
	}

	if len(links) != len(want) {
		t.Errorf("got %d links, want %d: %v", len(links), len(want), links)
	}
	for _, link := range links {
		if !want[link] {
			t.Errorf("unexpected link: %s", link)
		}
	}
}

func TestLinkExtractor_RelativeLinksResolveAgainstFinalURL(t *testing.T) {
	// After a redirect, relative links must resolve against the URL the
	// content was actually served from
	extractor := NewLinkExtractor(arbor.NewLogger())

	html := `<html><body><a href="chapter-2">Next</a></body></html>`
	links, err := extractor.ExtractLinks(html, "https://example.com/book/v2/chapter-1")
	if err != nil {
		t.Fatalf("ExtractLinks failed: %v", err)
	}

	if len(links) != 1 || links[0] != "https://example.com/book/v2/chapter-2" {
		t.Errorf("links = %v, want [https://example.com/book/v2/chapter-2]", links)
	}
}

func TestLinkExtractor_EmptyDocument(t *testing.T) {
	extractor := NewLinkExtractor(arbor.NewLogger())

	links, err := extractor.ExtractLinks("<html><body><p>no links here</p></body></html>", "https://example.com/")
	if err != nil {
		t.Fatalf("ExtractLinks failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestShouldSkipLink(t *testing.T) {
	skip := []string{
		"",
		"#top",
		"javascript:alert(1)",
		"mailto:a@b.c",
		"tel:123",
		"sms:123",
		"ftp://example.com/file",
		"data:text/plain;base64,aGk=",
		"MAILTO:A@B.C",
	}
	for _, href := range skip {
		if !shouldSkipLink(href) {
			t.Errorf("shouldSkipLink(%q) = false, want true", href)
		}
	}

	keep := []string{"/about", "page", "https://example.com/x", "//cdn.example.com/x"}
	for _, href := range keep {
		if shouldSkipLink(href) {
			t.Errorf("shouldSkipLink(%q) = true, want false", href)
		}
	}
}

func TestIsFileDownload(t *testing.T) {
	downloads := []string{
		"https://example.com/report.pdf",
		"https://example.com/archive.tar.gz",
		"https://example.com/IMAGE.PNG",
		"https://example.com/video.mp4",
	}
	for _, u := range downloads {
		if !isFileDownload(u) {
			t.Errorf("isFileDownload(%q) = false, want true", u)
		}
	}

	pages := []string{
		"https://example.com/docs/pdf-guide",
		"https://example.com/page.html",
		"https://example.com/",
	}
	for _, u := range pages {
		if isFileDownload(u) {
			t.Errorf("isFileDownload(%q) = true, want false", u)
		}
	}
}
