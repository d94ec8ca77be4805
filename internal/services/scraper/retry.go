package scraper

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// RetryPolicy defines retry behavior with exponential backoff.
// Only network-level failures are retried; an HTTP error status or a
// parse failure is a definitive answer from the server and repeating
// the request would just burn the host's rate budget.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy builds the policy from scraper configuration
func NewRetryPolicy(cfg *common.ScraperConfig) *RetryPolicy {
	policy := &RetryPolicy{
		MaxAttempts:       cfg.MaxRetries,
		InitialBackoff:    cfg.RetryBackoff,
		MaxBackoff:        cfg.RetryMaxBackoff,
		BackoffMultiplier: 2.0,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = time.Second
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = 30 * time.Second
	}
	return policy
}

// CalculateBackoff calculates the backoff duration with exponential backoff and jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	// Add jitter (±25%)
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Execute runs fn until it succeeds, fails with a non-retryable error,
// or exhausts the attempt budget
func (p *RetryPolicy) Execute(ctx context.Context, logger arbor.ILogger, fn func() (*interfaces.FetchResult, error)) (*interfaces.FetchResult, error) {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !common.IsRetryableFetch(err) {
			logger.Debug().
				Int("attempt", attempt+1).
				Err(err).
				Msg("Non-retryable error, failing immediately")
			return nil, err
		}

		if attempt < p.MaxAttempts-1 {
			backoff := p.CalculateBackoff(attempt)
			logger.Debug().
				Int("attempt", attempt+1).
				Err(err).
				Dur("backoff", backoff).
				Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	logger.Warn().
		Int("max_attempts", p.MaxAttempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return nil, lastErr
}

// pow calculates base^exp for float64
func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
