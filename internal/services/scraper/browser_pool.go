package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

// BrowserPool manages a pool of headless Chrome contexts for JavaScript
// rendering. Contexts are allocated round-robin; each fetch opens its own
// tab from the pooled browser, so concurrent fetches never share a page.
// Init is lazy and idempotent: Chrome only launches once a job actually
// needs rendering.
type BrowserPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	size             int
	currentIndex     int
	cfg              *common.ScraperConfig
	logger           arbor.ILogger
	initialized      bool
}

// NewBrowserPool creates an uninitialized browser pool
func NewBrowserPool(cfg *common.ScraperConfig, logger arbor.ILogger) *BrowserPool {
	size := cfg.BrowserPoolSize
	if size < 1 {
		size = 1
	}
	return &BrowserPool{
		size:   size,
		cfg:    cfg,
		logger: logger,
	}
}

// Init launches the pooled browser instances. Safe to call more than
// once; only the first call does work.
func (p *BrowserPool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	p.browsers = make([]context.Context, 0, p.size)
	p.browserCancels = make([]context.CancelFunc, 0, p.size)
	p.allocatorCancels = make([]context.CancelFunc, 0, p.size)
	p.currentIndex = 0

	p.logger.Info().
		Int("pool_size", p.size).
		Str("user_agent", p.cfg.UserAgent).
		Msg("Initializing browser pool")

	successCount := 0
	var lastErr error
	for i := 0; i < p.size; i++ {
		if err := p.createBrowserInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Int("successful_instances", successCount).
				Msg("Failed to create browser instance")
			continue
		}
		successCount++
	}

	if successCount == 0 {
		p.cleanupInstances()
		return fmt.Errorf("failed to create any browser instances, last error: %w", lastErr)
	}
	if successCount < p.size {
		p.logger.Warn().
			Int("requested", p.size).
			Int("created", successCount).
			Msg("Created fewer browser instances than requested")
		p.size = successCount
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Msg("Browser pool initialized")

	return nil
}

// createBrowserInstance launches one browser and verifies it responds
// (must be called with mutex held)
func (p *BrowserPool) createBrowserInstance(index int) error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.cfg.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(
		context.Background(),
		allocatorOpts...,
	)

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testTimeout := 30 * time.Second
	if p.cfg.RequestTimeout > 0 {
		testTimeout = p.cfg.RequestTimeout
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, testTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")

	return nil
}

// Get returns a pooled browser context using round-robin allocation.
// New tabs are derived from the returned context with chromedp.NewContext.
func (p *BrowserPool) Get() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	if len(p.browsers) == 0 {
		return nil, fmt.Errorf("no browser instances available")
	}

	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)

	p.logger.Debug().
		Int("browser_index", index).
		Int("total_browsers", len(p.browsers)).
		Msg("Browser context allocated from pool")

	return p.browsers[index], nil
}

// Shutdown cleans up all browser instances in the pool
func (p *BrowserPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	startTime := time.Now()
	browserCount := len(p.browsers)

	p.logger.Info().
		Int("browser_count", browserCount).
		Msg("Shutting down browser pool")

	// Chrome can hang on exit; cap how long shutdown blocks
	done := make(chan struct{})
	go func() {
		p.cleanupInstances()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().
			Int("browser_count", browserCount).
			Msg("Browser pool shutdown timed out")
	}

	p.initialized = false

	p.logger.Info().
		Int("browsers_shutdown", browserCount).
		Dur("shutdown_time", time.Since(startTime)).
		Msg("Browser pool shut down")

	return nil
}

// cleanupInstances cancels every browser and allocator context (must be
// called with mutex held)
func (p *BrowserPool) cleanupInstances() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}

	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}

// Stats returns pool statistics for the status endpoint
func (p *BrowserPool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"pool_size":        p.size,
		"active_instances": len(p.browsers),
		"initialized":      p.initialized,
	}
}
