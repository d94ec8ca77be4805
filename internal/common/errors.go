package common

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrStoreContention signals a serializable transaction conflict in the
// store. Callers retry the transaction; this error never crosses the API
// boundary.
var ErrStoreContention = errors.New("store transaction conflict")

// ErrJobNotFound is returned when a job ID does not resolve to a stored job.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when an operation requires a non-terminal job.
var ErrJobTerminal = errors.New("job already in terminal state")

// ValidationError represents a rejected scrape configuration. No job record
// is created when validation fails.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a specific field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// FetchError represents a network-level failure (DNS, connect, TLS, timeout)
// while fetching a URL. Fetch errors are retryable.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPStatusError represents a non-success HTTP status. The server answered,
// so these are never retried.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// ParseError represents a failure to extract content or links from a
// fetched response body.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed for %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IndexingError represents a failed handoff to the indexing pipeline after
// retries were exhausted.
type IndexingError struct {
	ContentRef string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing failed for %s: %v", e.ContentRef, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}

// IsStoreContention reports whether err is a transaction conflict, either
// our sentinel or the underlying badger conflict error.
func IsStoreContention(err error) bool {
	return errors.Is(err, ErrStoreContention) || errors.Is(err, badger.ErrConflict)
}

// IsRetryableFetch reports whether err warrants another fetch attempt.
// Network-level failures are retryable; HTTP status errors and parse
// errors are not, because the server gave a definitive answer.
func IsRetryableFetch(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
