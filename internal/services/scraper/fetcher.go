package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Factory hands out the fetcher for each fetch mode. All three
// strategies share one browser pool, which stays cold until a job
// actually needs rendering.
type Factory struct {
	fast    *FastFetcher
	browser *BrowserFetcher
	auto    *AutoFetcher
}

// NewFactory creates the fetchers for all fetch modes
func NewFactory(cfg *common.ScraperConfig, logger arbor.ILogger) *Factory {
	pool := NewBrowserPool(cfg, logger)
	fast := NewFastFetcher(cfg, logger)
	browser := NewBrowserFetcher(pool, cfg, logger)
	auto := NewAutoFetcher(fast, browser, cfg, logger)
	return &Factory{
		fast:    fast,
		browser: browser,
		auto:    auto,
	}
}

// ForMode returns the fetcher implementing the given fetch mode
func (f *Factory) ForMode(mode models.FetchMode) interfaces.Fetcher {
	switch mode {
	case models.FetchModeFull:
		return f.browser
	case models.FetchModeAuto:
		return f.auto
	default:
		return f.fast
	}
}

// Close shuts down all fetchers, including the shared browser pool
func (f *Factory) Close() error {
	var firstErr error
	if err := f.fast.Close(); err != nil {
		firstErr = err
	}
	if err := f.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AutoFetcher tries the fast path first and promotes to a browser render
// when the response looks like a script shell without server-rendered
// content. A failed render falls back to the fast result rather than
// failing the page.
type AutoFetcher struct {
	fast    *FastFetcher
	browser *BrowserFetcher
	cfg     *common.ScraperConfig
	logger  arbor.ILogger
}

// NewAutoFetcher creates the promoting fetcher
func NewAutoFetcher(fast *FastFetcher, browser *BrowserFetcher, cfg *common.ScraperConfig, logger arbor.ILogger) *AutoFetcher {
	return &AutoFetcher{
		fast:    fast,
		browser: browser,
		cfg:     cfg,
		logger:  logger,
	}
}

// Name identifies the strategy for logging
func (f *AutoFetcher) Name() string {
	return "auto"
}

// Close is a no-op; the underlying fetchers belong to the factory
func (f *AutoFetcher) Close() error {
	return nil
}

// Fetch retrieves the page over plain HTTP, then re-fetches with the
// browser when the result needs rendering
func (f *AutoFetcher) Fetch(ctx context.Context, pageURL string, cfg *models.ScrapeConfig) (*interfaces.FetchResult, error) {
	result, err := f.fast.Fetch(ctx, pageURL, cfg)
	if err != nil {
		return nil, err
	}

	minBytes := f.cfg.AutoPromoteMinBytes
	if minBytes <= 0 {
		minBytes = 2048
	}
	promote, reason := needsRendering(result.HTML, minBytes)
	if !promote {
		return result, nil
	}

	f.logger.Debug().
		Str("url", pageURL).
		Str("reason", reason).
		Msg("Promoting fetch to browser render")

	rendered, err := f.browser.Fetch(ctx, pageURL, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn().
			Str("url", pageURL).
			Err(err).
			Msg("Browser render failed, keeping fast result")
		return result, nil
	}
	return rendered, nil
}

// Visible text below this length, with scripts present, reads as a
// client-rendered shell
const renderedTextThreshold = 200

var spaMarkers = []string{
	`id="root"`, `id='root'`,
	`id="app"`, `id='app'`,
	`id="__next"`, `id='__next'`,
	"data-reactroot",
	"ng-app",
}

// needsRendering reports whether fast-path HTML is a script shell that
// only a browser can materialize, and why. Pages without scripts never
// promote; a browser would produce the same document.
func needsRendering(html string, minBytes int) (bool, string) {
	trimmed := strings.TrimSpace(html)
	if trimmed == "" {
		return true, "empty body"
	}

	lower := strings.ToLower(trimmed)
	hasScript := strings.Contains(lower, "<script")
	if !hasScript {
		return false, ""
	}

	// Visible text decides before size does: a small page carrying real
	// server-rendered content is not a shell
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, ""
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	if len(text) >= renderedTextThreshold {
		return false, ""
	}

	if len(trimmed) < minBytes {
		return true, "small script-dominated body"
	}

	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true, "spa mount point without server-rendered text"
		}
	}
	return true, "scripts without server-rendered text"
}
