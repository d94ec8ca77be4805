package scraper

import (
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

// ContentProcessor normalizes fetched HTML into markdown plus metadata.
// The markdown is the canonical content representation: the content hash
// and the dedup decision both derive from it, so the normalization here
// must be deterministic for identical input.
type ContentProcessor struct {
	logger arbor.ILogger
}

// NewContentProcessor creates a new content processor
func NewContentProcessor(logger arbor.ILogger) *ContentProcessor {
	return &ContentProcessor{
		logger: logger,
	}
}

// ProcessedContent is the result of normalizing one fetched page
type ProcessedContent struct {
	Title     string
	Markdown  string
	Hash      string // SHA-256 hex of the markdown; doubles as the content ref
	Metadata  map[string]interface{}
	WordCount int
}

var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// Process strips boilerplate, converts the main content to markdown,
// and extracts the title and page metadata
func (p *ContentProcessor) Process(html string, pageURL string) (*ProcessedContent, error) {
	startTime := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &common.ParseError{URL: pageURL, Err: err}
	}

	title := extractTitle(doc)
	metadata := extractMetadata(doc, pageURL)

	// Boilerplate never reaches the markdown, so chrome changes on a
	// site do not defeat content dedup
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	content := doc.Find("main, article, [role=main]").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	fragment, err := content.Html()
	if err != nil {
		return nil, &common.ParseError{URL: pageURL, Err: err}
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(fragment)
	if err != nil {
		return nil, &common.ParseError{URL: pageURL, Err: err}
	}

	markdown = cleanMarkdown(markdown)
	wordCount := len(strings.Fields(markdown))

	result := &ProcessedContent{
		Title:     title,
		Markdown:  markdown,
		Hash:      common.ContentHash([]byte(markdown)),
		Metadata:  metadata,
		WordCount: wordCount,
	}

	p.logger.Debug().
		Str("page_url", pageURL).
		Str("title", title).
		Int("markdown_size", len(markdown)).
		Int("word_count", wordCount).
		Dur("process_time", time.Since(startTime)).
		Msg("HTML content processed")

	return result, nil
}

// extractTitle extracts the page title from various sources
func extractTitle(doc *goquery.Document) string {
	if title := doc.Find("title").First().Text(); title != "" {
		return strings.TrimSpace(title)
	}

	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}

	if h1 := doc.Find("h1").First().Text(); h1 != "" {
		return strings.TrimSpace(h1)
	}

	if twitterTitle, exists := doc.Find("meta[name='twitter:title']").Attr("content"); exists && twitterTitle != "" {
		return strings.TrimSpace(twitterTitle)
	}

	return "Untitled"
}

// cleanMarkdown collapses excess blank lines and trims the edges
func cleanMarkdown(markdown string) string {
	markdown = excessiveNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// extractMetadata extracts page metadata from the HTML document
func extractMetadata(doc *goquery.Document, pageURL string) map[string]interface{} {
	metadata := make(map[string]interface{})

	metadata["source_url"] = pageURL

	if description, exists := doc.Find("meta[name='description']").Attr("content"); exists {
		metadata["description"] = strings.TrimSpace(description)
	}

	if keywords, exists := doc.Find("meta[name='keywords']").Attr("content"); exists {
		keywordList := strings.Split(keywords, ",")
		for i, keyword := range keywordList {
			keywordList[i] = strings.TrimSpace(keyword)
		}
		metadata["keywords"] = keywordList
	}

	if lang, exists := doc.Find("html").Attr("lang"); exists {
		metadata["language"] = lang
	}

	if author, exists := doc.Find("meta[name='author']").Attr("content"); exists {
		metadata["author"] = strings.TrimSpace(author)
	}

	if canonical, exists := doc.Find("link[rel='canonical']").Attr("href"); exists {
		metadata["canonical_url"] = canonical
	}

	ogMetadata := make(map[string]string)
	doc.Find("meta[property^='og:']").Each(func(i int, s *goquery.Selection) {
		if property, exists := s.Attr("property"); exists {
			if content, exists := s.Attr("content"); exists {
				ogMetadata[property] = content
			}
		}
	})
	if len(ogMetadata) > 0 {
		metadata["open_graph"] = ogMetadata
	}

	return metadata
}
