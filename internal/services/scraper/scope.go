package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// FilterResult contains filtering outcome and metadata
type FilterResult struct {
	Allowed    bool
	Reason     string
	ExcludedBy string // Pattern that excluded the URL (if applicable)
}

// LinkPolicy decides which discovered links stay eligible for a job. It
// is compiled once per job from the config snapshot: scope rule against
// the base URL, then include patterns (must match at least one if any),
// then exclude patterns (must match none).
type LinkPolicy struct {
	base           *url.URL
	basePathPrefix string
	baseDomain     string
	scope          models.ScrapeScope
	includeRegexes []*regexp.Regexp
	excludeRegexes []*regexp.Regexp
	logger         arbor.ILogger
}

// NewLinkPolicy compiles a link policy for a job. Invalid patterns are
// skipped with a warning rather than failing the whole job.
func NewLinkPolicy(baseURL string, config *models.ScrapeConfig, logger arbor.ILogger) (*LinkPolicy, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	policy := &LinkPolicy{
		base:           base,
		basePathPrefix: pathPrefix(base.Path),
		baseDomain:     registrableDomain(base.Hostname()),
		scope:          config.Scope,
		logger:         logger,
		includeRegexes: make([]*regexp.Regexp, 0, len(config.IncludePatterns)),
		excludeRegexes: make([]*regexp.Regexp, 0, len(config.ExcludePatterns)),
	}

	for _, pattern := range config.IncludePatterns {
		if pattern == "" {
			continue
		}
		if re, err := regexp.Compile(pattern); err == nil {
			policy.includeRegexes = append(policy.includeRegexes, re)
		} else {
			logger.Warn().
				Err(err).
				Str("pattern", pattern).
				Msg("Failed to compile include pattern")
		}
	}

	for _, pattern := range config.ExcludePatterns {
		if pattern == "" {
			continue
		}
		if re, err := regexp.Compile(pattern); err == nil {
			policy.excludeRegexes = append(policy.excludeRegexes, re)
		} else {
			logger.Warn().
				Err(err).
				Str("pattern", pattern).
				Msg("Failed to compile exclude pattern")
		}
	}

	return policy, nil
}

// Evaluate applies scope and pattern rules to a normalized URL
func (p *LinkPolicy) Evaluate(rawURL string) FilterResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FilterResult{Allowed: false, Reason: "invalid URL"}
	}

	if !p.inScope(u) {
		return FilterResult{Allowed: false, Reason: fmt.Sprintf("outside %s scope", p.scope)}
	}

	if len(p.includeRegexes) > 0 {
		matched := false
		for _, re := range p.includeRegexes {
			if re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return FilterResult{Allowed: false, Reason: "does not match include patterns"}
		}
	}

	for _, re := range p.excludeRegexes {
		if re.MatchString(rawURL) {
			return FilterResult{
				Allowed:    false,
				Reason:     "matches exclude pattern",
				ExcludedBy: re.String(),
			}
		}
	}

	return FilterResult{Allowed: true}
}

func (p *LinkPolicy) inScope(u *url.URL) bool {
	switch p.scope {
	case models.ScopeSubpages:
		if !strings.EqualFold(u.Host, p.base.Host) {
			return false
		}
		if p.basePathPrefix == "/" {
			return true
		}
		return u.Path == p.basePathPrefix || strings.HasPrefix(u.Path, p.basePathPrefix+"/")
	case models.ScopeHostname:
		return strings.EqualFold(u.Host, p.base.Host)
	case models.ScopeDomain:
		host := strings.ToLower(u.Hostname())
		return host == p.baseDomain || strings.HasSuffix(host, "."+p.baseDomain)
	}
	return false
}

// pathPrefix derives the scope prefix from the base URL's path: the path
// itself minus any trailing slash, with the root collapsing to "/"
func pathPrefix(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// registrableDomain approximates the registrable domain as the last two
// labels of the hostname. Multi-part public suffixes (co.uk) are treated
// as registrable; acceptable for a tool aimed at ordinary site crawls.
func registrableDomain(hostname string) string {
	hostname = strings.ToLower(hostname)
	parts := strings.Split(hostname, ".")
	if len(parts) <= 2 {
		return hostname
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
