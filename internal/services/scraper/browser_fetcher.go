package scraper

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// BrowserFetcher renders pages in a pooled headless Chrome instance so
// JavaScript-built content is present in the returned HTML. Each fetch
// opens a fresh tab and closes it when done; the pooled browser process
// stays warm across fetches.
type BrowserFetcher struct {
	pool   *BrowserPool
	cfg    *common.ScraperConfig
	logger arbor.ILogger
}

// NewBrowserFetcher creates a rendering fetcher backed by the pool
func NewBrowserFetcher(pool *BrowserPool, cfg *common.ScraperConfig, logger arbor.ILogger) *BrowserFetcher {
	return &BrowserFetcher{
		pool:   pool,
		cfg:    cfg,
		logger: logger,
	}
}

// Name identifies the strategy for logging
func (f *BrowserFetcher) Name() string {
	return "browser"
}

// Close shuts down the pooled browsers
func (f *BrowserFetcher) Close() error {
	return f.pool.Shutdown()
}

// Fetch renders a single page and returns the post-JavaScript HTML
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string, cfg *models.ScrapeConfig) (*interfaces.FetchResult, error) {
	if err := f.pool.Init(); err != nil {
		return nil, &common.FetchError{URL: pageURL, Err: err}
	}
	browserCtx, err := f.pool.Get()
	if err != nil {
		return nil, &common.FetchError{URL: pageURL, Err: err}
	}

	// Tab contexts must derive from the pooled browser, not the caller's
	// context, so caller cancellation is bridged in explicitly
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	timeout := f.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	waitTime := f.cfg.BrowserWaitTime
	if waitTime <= 0 {
		waitTime = 2 * time.Second
	}

	tasks := chromedp.Tasks{}
	if cfg != nil && cfg.Cookies != "" {
		host := hostOf(pageURL)
		for _, ck := range parseCookieHeader(cfg.Cookies) {
			tasks = append(tasks, network.SetCookie(ck[0], ck[1]).
				WithDomain(host).
				WithPath("/"))
		}
	}
	tasks = append(tasks,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(waitTime),
	)

	startTime := time.Now()
	if err := chromedp.Run(runCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &common.FetchError{URL: pageURL, Err: err}
	}

	var html, title, finalURL string
	if err := chromedp.Run(runCtx,
		chromedp.OuterHTML("html", &html),
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &common.ParseError{URL: pageURL, Err: err}
	}

	if finalURL == "" {
		finalURL = pageURL
	}

	f.logger.Debug().
		Str("url", pageURL).
		Str("final_url", finalURL).
		Str("title", title).
		Int("body_size", len(html)).
		Dur("render_time", time.Since(startTime)).
		Msg("Browser fetch complete")

	return &interfaces.FetchResult{
		HTML:     html,
		FinalURL: finalURL,
		// The render path does not observe network status; reaching DOM
		// extraction means navigation committed
		StatusCode: http.StatusOK,
		Rendered:   true,
	}, nil
}

// parseCookieHeader splits a Cookie header value into name/value pairs
func parseCookieHeader(header string) [][2]string {
	var cookies [][2]string
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		cookies = append(cookies, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	}
	return cookies
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
