package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

func fastRetryPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	policy := fastRetryPolicy(3)
	attempts := 0

	result, err := policy.Execute(context.Background(), arbor.NewLogger(), func() (*interfaces.FetchResult, error) {
		attempts++
		if attempts < 3 {
			return nil, &common.FetchError{URL: "https://example.com/", Err: errors.New("connection reset")}
		}
		return &interfaces.FetchResult{HTML: "<html></html>", StatusCode: 200}, nil
	})

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
}

func TestRetryPolicy_NonRetryableFailsImmediately(t *testing.T) {
	policy := fastRetryPolicy(3)
	attempts := 0

	_, err := policy.Execute(context.Background(), arbor.NewLogger(), func() (*interfaces.FetchResult, error) {
		attempts++
		return nil, &common.HTTPStatusError{URL: "https://example.com/", StatusCode: 404}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (HTTP status errors are definitive)", attempts)
	}
	var statusErr *common.HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("error type = %T, want *common.HTTPStatusError", err)
	}
}

func TestRetryPolicy_ParseErrorNotRetried(t *testing.T) {
	policy := fastRetryPolicy(3)
	attempts := 0

	_, err := policy.Execute(context.Background(), arbor.NewLogger(), func() (*interfaces.FetchResult, error) {
		attempts++
		return nil, &common.ParseError{URL: "https://example.com/", Err: errors.New("bad content type")}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_ExhaustsBudget(t *testing.T) {
	policy := fastRetryPolicy(3)
	attempts := 0
	wantErr := &common.FetchError{URL: "https://example.com/", Err: errors.New("timeout")}

	_, err := policy.Execute(context.Background(), arbor.NewLogger(), func() (*interfaces.FetchResult, error) {
		attempts++
		return nil, wantErr
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, wantErr) && err != wantErr {
		var fetchErr *common.FetchError
		if !errors.As(err, &fetchErr) {
			t.Errorf("error = %v, want last fetch error", err)
		}
	}
}

func TestRetryPolicy_ContextCancellationStopsRetries(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour, // Would hang without cancellation
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := policy.Execute(ctx, arbor.NewLogger(), func() (*interfaces.FetchResult, error) {
		return nil, &common.FetchError{URL: "https://example.com/", Err: errors.New("down")}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute took %v, cancellation did not interrupt backoff", elapsed)
	}
}

func TestRetryPolicy_CalculateBackoffBounded(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	for attempt := 0; attempt < 10; attempt++ {
		backoff := policy.CalculateBackoff(attempt)
		if backoff < 0 {
			t.Errorf("attempt %d: negative backoff %v", attempt, backoff)
		}
		// Cap plus 25% jitter headroom
		if backoff > time.Second+250*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds cap with jitter", attempt, backoff)
		}
	}
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(&common.ScraperConfig{})

	if policy.MaxAttempts < 1 {
		t.Errorf("MaxAttempts = %d, want >= 1", policy.MaxAttempts)
	}
	if policy.InitialBackoff <= 0 {
		t.Errorf("InitialBackoff = %v, want > 0", policy.InitialBackoff)
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		t.Errorf("MaxBackoff %v below InitialBackoff %v", policy.MaxBackoff, policy.InitialBackoff)
	}
}
