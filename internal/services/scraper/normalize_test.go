package scraper

import (
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lowercases scheme and host",
			input: "HTTPS://Example.COM/Docs",
			want:  "https://example.com/Docs",
		},
		{
			name:  "preserves path case",
			input: "https://example.com/Docs/API",
			want:  "https://example.com/Docs/API",
		},
		{
			name:  "strips default http port",
			input: "http://example.com:80/page",
			want:  "http://example.com/page",
		},
		{
			name:  "strips default https port",
			input: "https://example.com:443/page",
			want:  "https://example.com/page",
		},
		{
			name:  "keeps non-default port",
			input: "https://example.com:8443/page",
			want:  "https://example.com:8443/page",
		},
		{
			name:  "strips fragment",
			input: "https://example.com/page#section-2",
			want:  "https://example.com/page",
		},
		{
			name:  "sorts query parameters",
			input: "https://example.com/search?z=1&a=2&m=3",
			want:  "https://example.com/search?a=2&m=3&z=1",
		},
		{
			name:  "empty path becomes slash",
			input: "https://example.com",
			want:  "https://example.com/",
		},
		{
			name:  "trims surrounding whitespace",
			input: "  https://example.com/page  ",
			want:  "https://example.com/page",
		},
		{
			name:    "rejects relative URL",
			input:   "/docs/page",
			wantErr: true,
		},
		{
			name:    "rejects ftp scheme",
			input:   "ftp://example.com/file",
			wantErr: true,
		},
		{
			name:    "rejects empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeURL(%q) = %q, expected error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeURL(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL_EquivalentSpellings(t *testing.T) {
	// Different spellings of the same resource must normalize identically,
	// otherwise a page gets admitted into a job more than once
	spellings := []string{
		"https://example.com/docs?b=2&a=1",
		"HTTPS://EXAMPLE.COM/docs?a=1&b=2",
		"https://example.com:443/docs?b=2&a=1#intro",
	}

	first, err := NormalizeURL(spellings[0])
	if err != nil {
		t.Fatalf("NormalizeURL failed: %v", err)
	}
	for _, s := range spellings[1:] {
		got, err := NormalizeURL(s)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) failed: %v", s, err)
		}
		if got != first {
			t.Errorf("NormalizeURL(%q) = %q, want %q", s, got, first)
		}
	}
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		name    string
		pageURL string
		href    string
		want    string
		wantErr bool
	}{
		{
			name:    "relative path",
			pageURL: "https://example.com/docs/intro",
			href:    "setup",
			want:    "https://example.com/docs/setup",
		},
		{
			name:    "root-relative path",
			pageURL: "https://example.com/docs/intro",
			href:    "/about",
			want:    "https://example.com/about",
		},
		{
			name:    "absolute URL",
			pageURL: "https://example.com/docs/",
			href:    "https://other.example.org/page",
			want:    "https://other.example.org/page",
		},
		{
			name:    "parent traversal",
			pageURL: "https://example.com/a/b/c",
			href:    "../d",
			want:    "https://example.com/a/d",
		},
		{
			name:    "resolved link is normalized",
			pageURL: "https://example.com/docs/",
			href:    "Page?z=1&a=2#frag",
			want:    "https://example.com/docs/Page?a=2&z=1",
		},
		{
			name:    "mailto rejected",
			pageURL: "https://example.com/",
			href:    "mailto:team@example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLink(tt.pageURL, tt.href)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveLink(%q, %q) = %q, expected error", tt.pageURL, tt.href, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveLink(%q, %q) failed: %v", tt.pageURL, tt.href, err)
			}
			if got != tt.want {
				t.Errorf("ResolveLink(%q, %q) = %q, want %q", tt.pageURL, tt.href, got, tt.want)
			}
		})
	}
}
