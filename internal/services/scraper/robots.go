package scraper

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
)

// HostGate applies per-host politeness before any fetch: a token-bucket
// rate limit and, when enabled, the host's robots.txt directives.
// Robots data is fetched once per host and cached for the process
// lifetime; a host whose robots.txt cannot be fetched is treated as
// allow-all so an unreachable robots endpoint never stalls a crawl.
type HostGate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   sync.Map // host -> *robotstxt.RobotsData
	client   *http.Client
	cfg      *common.ScraperConfig
	logger   arbor.ILogger
	perHost  rate.Limit
	burst    int
}

// NewHostGate creates a host gate from scraper configuration.
// PerHostRPS caps sustained throughput per host and RequestDelay sets a
// floor on the gap between requests; the stricter of the two wins.
func NewHostGate(cfg *common.ScraperConfig, logger arbor.ILogger) *HostGate {
	perHost := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		perHost = rate.Inf
	}
	if cfg.RequestDelay > 0 {
		if fromDelay := rate.Every(cfg.RequestDelay); fromDelay < perHost {
			perHost = fromDelay
		}
	}
	burst := cfg.PerHostBurst
	if burst < 1 {
		burst = 1
	}
	return &HostGate{
		limiters: make(map[string]*rate.Limiter),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cfg:     cfg,
		logger:  logger,
		perHost: perHost,
		burst:   burst,
	}
}

// Wait blocks until the host's rate limit grants a token, or the
// context is cancelled
func (g *HostGate) Wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(parsed.Host)

	g.mu.Lock()
	limiter, exists := g.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(g.perHost, g.burst)
		g.limiters[host] = limiter
	}
	g.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	if g.cfg.RandomDelay > 0 {
		jitter := time.Duration(rand.Int63n(int64(g.cfg.RandomDelay)))
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// Allowed reports whether the host's robots.txt permits fetching the URL
func (g *HostGate) Allowed(ctx context.Context, rawURL string) bool {
	if g.cfg == nil || !g.cfg.FollowRobotsTxt {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	data := g.robotsFor(ctx, parsed)
	return data.TestAgent(parsed.RequestURI(), g.cfg.UserAgent)
}

// robotsFor returns the cached robots data for the URL's host,
// fetching it on first use
func (g *HostGate) robotsFor(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := g.robots.Load(hostKey); ok {
		return cached.(*robotstxt.RobotsData)
	}

	data, err := g.fetchRobots(ctx, parsed)
	if err != nil {
		g.logger.Warn().
			Str("host", parsed.Host).
			Err(err).
			Msg("Robots fetch failed, allowing access")
		data, _ = robotstxt.FromString("")
	}

	g.robots.Store(hostKey, data)
	return data
}

func (g *HostGate) fetchRobots(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	g.logger.Debug().
		Str("host", parsed.Host).
		Int("status_code", resp.StatusCode).
		Msg("Robots policy cached")

	return data, nil
}
