package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Service is the in-process endpoint of the indexing pipeline. The
// crawler hands it content references; it resolves each against the
// document store and stamps the document as indexed, which makes it
// visible to search. Deployments that index externally swap this for a
// client of their pipeline; the crawler only ever sees
// interfaces.Indexer.
type Service struct {
	docs         interfaces.DocumentStorage
	logger       arbor.ILogger
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// NewService creates the in-process indexer
func NewService(docs interfaces.DocumentStorage, cfg *common.IndexerConfig, logger arbor.ILogger) *Service {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	retryBackoff := 500 * time.Millisecond
	if cfg != nil && cfg.RetryBackoff != "" {
		if d, err := time.ParseDuration(cfg.RetryBackoff); err == nil && d > 0 {
			retryBackoff = d
		}
	}
	maxRetries := 0
	if cfg != nil && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	return &Service{
		docs:         docs,
		logger:       logger,
		timeout:      timeout,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// Ingest accepts one content reference into the index. Retries up to
// max_retries times before reporting failure; the caller marks the page
// failed when this returns an error.
func (s *Service) Ingest(ctx context.Context, contentRef string, meta interfaces.IndexMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryBackoff * time.Duration(attempt)):
			}
		}

		if err := s.ingestOnce(contentRef, meta); err != nil {
			lastErr = err
			s.logger.Debug().
				Str("content_ref", contentRef).
				Str("url", meta.URL).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Index attempt failed")
			continue
		}

		s.logger.Debug().
			Str("content_ref", contentRef).
			Str("url", meta.URL).
			Str("job_id", meta.JobID).
			Msg("Content indexed")
		return nil
	}

	return lastErr
}

// ingestOnce resolves the reference and stamps the document
func (s *Service) ingestOnce(contentRef string, meta interfaces.IndexMetadata) error {
	doc, err := s.docs.GetDocument(contentRef)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", contentRef, err)
	}
	if doc == nil {
		return fmt.Errorf("content ref %s does not resolve to a stored document", contentRef)
	}

	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{})
	}
	doc.Metadata["indexed_at"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata["indexed_for_job"] = meta.JobID
	doc.UpdatedAt = time.Now().UTC()

	if err := s.docs.SaveDocument(doc); err != nil {
		return fmt.Errorf("failed to stamp document %s: %w", contentRef, err)
	}
	return nil
}
