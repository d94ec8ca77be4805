package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// FetchResult holds one fetched page
type FetchResult struct {
	HTML       string
	FinalURL   string // URL after following redirects
	StatusCode int
	Rendered   bool // true when a headless browser produced the HTML
}

// Fetcher retrieves one page. Implementations cover the three fetch
// strategies: plain HTTP, headless browser render, and the auto fallback
// that promotes script-shell responses to the browser.
type Fetcher interface {
	// Fetch retrieves url. Network failures come back as *common.FetchError
	// (retryable), HTTP error statuses as *common.HTTPStatusError (not
	// retried). cfg supplies per-job cookies and fetch options.
	Fetch(ctx context.Context, url string, cfg *models.ScrapeConfig) (*FetchResult, error)

	// Name identifies the strategy for logging
	Name() string

	Close() error
}

// FetcherFactory returns the fetcher for a fetch mode
type FetcherFactory interface {
	ForMode(mode models.FetchMode) Fetcher
	Close() error
}
