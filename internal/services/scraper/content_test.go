package scraper

import (
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
	<title>Getting Started</title>
	<meta name="description" content="A quick introduction">
	<meta name="author" content="Docs Team">
	<meta property="og:title" content="Getting Started Guide">
	<link rel="canonical" href="https://example.com/docs/start">
	<style>body { color: red; }</style>
	<script>console.log("tracking");</script>
</head>
<body>
	<nav><a href="/">Home</a> | <a href="/docs">Docs</a></nav>
	<header>Site Header</header>
	<main>
		<h1>Getting Started</h1>
		<p>Install the tool and run it against your site.</p>
		<ul><li>First step</li><li>Second step</li></ul>
	</main>
	<footer>Copyright 2026</footer>
</body>
</html>`

func TestContentProcessor_Process(t *testing.T) {
	processor := NewContentProcessor(arbor.NewLogger())

	result, err := processor.Process(samplePage, "https://example.com/docs/start")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Title != "Getting Started" {
		t.Errorf("Title = %q, want %q", result.Title, "Getting Started")
	}

	if !strings.Contains(result.Markdown, "Install the tool") {
		t.Errorf("markdown missing body text: %q", result.Markdown)
	}
	if !strings.Contains(result.Markdown, "Getting Started") {
		t.Errorf("markdown missing heading: %q", result.Markdown)
	}

	// Boilerplate must never reach the canonical content
	for _, boilerplate := range []string{"Site Header", "Copyright 2026", "console.log", "color: red"} {
		if strings.Contains(result.Markdown, boilerplate) {
			t.Errorf("markdown contains boilerplate %q", boilerplate)
		}
	}

	if result.Hash == "" || len(result.Hash) != 64 {
		t.Errorf("Hash = %q, want 64-char sha256 hex", result.Hash)
	}
	if result.WordCount == 0 {
		t.Error("WordCount = 0, want > 0")
	}

	if result.Metadata["description"] != "A quick introduction" {
		t.Errorf("description = %v", result.Metadata["description"])
	}
	if result.Metadata["author"] != "Docs Team" {
		t.Errorf("author = %v", result.Metadata["author"])
	}
	if result.Metadata["language"] != "en" {
		t.Errorf("language = %v", result.Metadata["language"])
	}
	if result.Metadata["canonical_url"] != "https://example.com/docs/start" {
		t.Errorf("canonical_url = %v", result.Metadata["canonical_url"])
	}
	if result.Metadata["source_url"] != "https://example.com/docs/start" {
		t.Errorf("source_url = %v", result.Metadata["source_url"])
	}
}

func TestContentProcessor_Deterministic(t *testing.T) {
	// The hash is the dedup key and the content ref, so identical input
	// must always produce the identical hash
	processor := NewContentProcessor(arbor.NewLogger())

	first, err := processor.Process(samplePage, "https://example.com/docs/start")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	second, err := processor.Process(samplePage, "https://example.com/docs/start")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if first.Hash != second.Hash {
		t.Errorf("hashes differ: %s vs %s", first.Hash, second.Hash)
	}
	if first.Markdown != second.Markdown {
		t.Error("markdown differs between identical inputs")
	}
}

func TestContentProcessor_ChromeChangesDoNotChangeHash(t *testing.T) {
	processor := NewContentProcessor(arbor.NewLogger())

	variant := strings.Replace(samplePage, "Site Header", "Redesigned Header", 1)
	variant = strings.Replace(variant, "Copyright 2026", "Copyright 2027", 1)

	original, err := processor.Process(samplePage, "https://example.com/docs/start")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	changed, err := processor.Process(variant, "https://example.com/docs/start")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if original.Hash != changed.Hash {
		t.Error("nav/header/footer changes must not defeat content dedup")
	}
}

func TestContentProcessor_TitleFallbacks(t *testing.T) {
	processor := NewContentProcessor(arbor.NewLogger())

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og:title when no title tag",
			html: `<html><head><meta property="og:title" content="OG Title"></head><body><p>x</p></body></html>`,
			want: "OG Title",
		},
		{
			name: "h1 when no title or og:title",
			html: `<html><body><h1>Heading Title</h1><p>x</p></body></html>`,
			want: "Heading Title",
		},
		{
			name: "untitled when nothing available",
			html: `<html><body><p>x</p></body></html>`,
			want: "Untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := processor.Process(tt.html, "https://example.com/")
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if result.Title != tt.want {
				t.Errorf("Title = %q, want %q", result.Title, tt.want)
			}
		})
	}
}

func TestContentProcessor_FallsBackToBody(t *testing.T) {
	// Pages without a main/article landmark convert the whole body
	processor := NewContentProcessor(arbor.NewLogger())

	html := `<html><body><div><p>Plain old page content.</p></div></body></html>`
	result, err := processor.Process(html, "https://example.com/")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(result.Markdown, "Plain old page content.") {
		t.Errorf("markdown missing body fallback content: %q", result.Markdown)
	}
}

func TestCleanMarkdown(t *testing.T) {
	input := "# Title\n\n\n\n\nParagraph\n\n\n"
	got := cleanMarkdown(input)
	want := "# Title\n\nParagraph"
	if got != want {
		t.Errorf("cleanMarkdown = %q, want %q", got, want)
	}
}
