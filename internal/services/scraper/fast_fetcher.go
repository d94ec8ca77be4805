package scraper

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// FastFetcher retrieves pages over plain HTTP without executing
// JavaScript. Each fetch gets its own collector because colly clones
// share one HTTP backend, which cannot carry per-request contexts
// safely under concurrent workers. Pacing and robots enforcement live
// in HostGate, so the collector itself carries no limit rules.
type FastFetcher struct {
	cfg    *common.ScraperConfig
	logger arbor.ILogger
}

// NewFastFetcher creates a plain-HTTP fetcher
func NewFastFetcher(cfg *common.ScraperConfig, logger arbor.ILogger) *FastFetcher {
	return &FastFetcher{
		cfg:    cfg,
		logger: logger,
	}
}

// Name identifies the strategy for logging
func (f *FastFetcher) Name() string {
	return "fast"
}

// Close releases resources held by the fetcher
func (f *FastFetcher) Close() error {
	return nil
}

// Fetch retrieves a single page over HTTP
func (f *FastFetcher) Fetch(ctx context.Context, url string, cfg *models.ScrapeConfig) (*interfaces.FetchResult, error) {
	c := f.newCollector(ctx)

	var (
		result   *interfaces.FetchResult
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if cfg != nil && cfg.Cookies != "" {
			r.Headers.Set("Cookie", cfg.Cookies)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if !f.allowedContentType(contentType) {
			fetchErr = &common.ParseError{
				URL: url,
				Err: fmt.Errorf("unsupported content type %q", contentType),
			}
			return
		}
		result = &interfaces.FetchResult{
			HTML: string(r.Body),
			// colly rewrites Request.URL while following redirects
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Rendered:   false,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &common.HTTPStatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		fetchErr = &common.FetchError{URL: url, Err: err}
	})

	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = &common.FetchError{URL: url, Err: err}
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, &common.FetchError{URL: url, Err: fmt.Errorf("no response received")}
	}

	f.logger.Debug().
		Str("url", url).
		Str("final_url", result.FinalURL).
		Int("status_code", result.StatusCode).
		Int("body_size", len(result.HTML)).
		Msg("Fast fetch complete")

	return result, nil
}

func (f *FastFetcher) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxBodySize(f.cfg.MaxBodySize),
		colly.AllowURLRevisit(),
		// HostGate owns the robots decision, including the config toggle
		// and the allow-on-error policy
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(f.cfg.RequestTimeout)
	c.WithTransport(&contextAwareTransport{base: http.DefaultTransport, ctx: ctx})

	if f.cfg.UserAgentRotation {
		extensions.RandomUserAgent(c)
		extensions.Referer(c)
	}

	return c
}

func (f *FastFetcher) allowedContentType(contentType string) bool {
	// Servers that omit the header get the benefit of the doubt; the
	// parser decides downstream
	if contentType == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}

	allowed := f.cfg.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = []string{"text/html", "application/xhtml+xml"}
	}
	for _, t := range allowed {
		if strings.EqualFold(mediaType, t) {
			return true
		}
	}
	return false
}

// contextAwareTransport propagates the caller's context into requests the
// collector makes, which otherwise run detached from it
type contextAwareTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	default:
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
