package scraper

// ingest_worker.go contains the content side of the crawl. Workers claim
// ingest tasks, normalize the fetched HTML to markdown, consult the
// cross-job dedup index, persist the document, and hand the content
// reference to the indexing pipeline. The dedup entry for a URL is only
// written in the same transaction that resolves the page, after the
// indexer call succeeded: an entry's existence always means its content
// reached the index.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func (s *Service) ingestLoop(workerIndex int) {
	defer s.wg.Done()

	workerStartTime := time.Now()
	tasksProcessed := 0

	s.logger.Debug().
		Int("worker_index", workerIndex).
		Msg("Ingest worker started")

	defer func() {
		s.logger.Debug().
			Int("worker_index", workerIndex).
			Int("tasks_processed", tasksProcessed).
			Dur("duration", time.Since(workerStartTime)).
			Msg("Ingest worker exiting")
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		received, ack, err := s.ingestQueue.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, models.ErrNoMessage) {
				s.logger.Warn().Err(err).Msg("Ingest queue receive failed")
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}

		s.processIngestTask(s.ctx, received, ack)
		tasksProcessed++
	}
}

// processIngestTask handles one claimed ingest task. The pending status
// on the page record is the resolution latch: a redelivered task whose
// page already moved off pending acks without touching counters or the
// indexer.
func (s *Service) processIngestTask(ctx context.Context, received *interfaces.ReceivedTask, ack func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task_id", received.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Panic while processing ingest task")
		}
	}()

	if received.Task.Type != models.TaskTypeIngest {
		s.logger.Warn().
			Str("task_id", received.ID).
			Str("type", received.Task.Type).
			Msg("Unexpected task type on ingest queue, dropping")
		s.ackTask(ack, received.ID)
		return
	}

	var task models.IngestTask
	if err := json.Unmarshal(received.Task.Payload, &task); err != nil {
		s.logger.Error().
			Str("task_id", received.ID).
			Err(err).
			Msg("Malformed ingest payload, dropping")
		s.ackTask(ack, received.ID)
		return
	}

	job, err := s.jobStorage.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, common.ErrJobNotFound) {
			s.logger.Warn().
				Str("job_id", task.JobID).
				Str("url", task.URL).
				Msg("Ingest task for unknown job, dropping")
			s.ackTask(ack, received.ID)
			return
		}
		s.logger.Warn().Str("job_id", task.JobID).Err(err).Msg("Failed to load job for ingest task")
		return
	}

	page, err := s.jobStorage.GetPage(ctx, task.JobID, task.URL)
	if err != nil {
		s.logger.Warn().Str("job_id", task.JobID).Str("url", task.URL).Err(err).Msg("Failed to load page for ingest task")
		return
	}
	if page == nil {
		s.logger.Error().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Msg("Ingest task without page record, dropping")
		s.ackTask(ack, received.ID)
		return
	}
	if page.Status != models.PageStatusPending {
		// Redelivery of an already-resolved page
		s.ackTask(ack, received.ID)
		return
	}

	// A terminal job drains its remaining ingest backlog without
	// processing or indexing
	if job.Status.IsTerminal() {
		s.resolveIngest(ctx, job, &task, ack, received.ID, &interfaces.IngestOutcome{
			Status: models.PageStatusSkipped,
		})
		return
	}

	outcome := s.buildIngestOutcome(ctx, job, &task)
	if outcome == nil {
		// Transient failure, leave the task for redelivery
		return
	}
	s.resolveIngest(ctx, job, &task, ack, received.ID, outcome)
}

// buildIngestOutcome runs normalization, dedup, persistence, and the
// indexer handoff, returning how the page should resolve. A nil return
// means a transient store failure where redelivery is the right recovery.
func (s *Service) buildIngestOutcome(ctx context.Context, job *models.ScrapeJob, task *models.IngestTask) *interfaces.IngestOutcome {
	sourceURL := task.FinalURL
	if sourceURL == "" {
		sourceURL = task.URL
	}

	processed, err := s.processor.Process(task.Content, sourceURL)
	if err != nil {
		s.logger.Warn().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Err(err).
			Msg("Content processing failed")
		return &interfaces.IngestOutcome{
			Status: models.PageStatusFailed,
			Error:  err.Error(),
		}
	}

	entry, err := s.dedupStorage.Get(ctx, task.URL)
	if err != nil {
		s.logger.Warn().Str("url", task.URL).Err(err).Msg("Dedup lookup failed")
		return nil
	}

	if entry != nil && entry.ContentHash == processed.Hash {
		if entry.JobID == task.JobID {
			// Redelivery of our own already-indexed content; the page
			// resolves fetched without calling the indexer again
			return &interfaces.IngestOutcome{
				Status:     models.PageStatusFetched,
				Title:      processed.Title,
				ContentRef: entry.ContentRef,
			}
		}
		if !job.Config.ForceRescrape {
			s.logger.Debug().
				Str("job_id", task.JobID).
				Str("url", task.URL).
				Str("prior_job_id", entry.JobID).
				Msg("Content unchanged since last scrape, skipping indexer")
			return &interfaces.IngestOutcome{
				Status:     models.PageStatusSkipped,
				Title:      processed.Title,
				ContentRef: entry.ContentRef,
			}
		}
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:              processed.Hash,
		Title:           processed.Title,
		ContentMarkdown: processed.Markdown,
		URL:             task.URL,
		JobID:           task.JobID,
		Depth:           task.Depth,
		Metadata:        processed.Metadata,
		Size:            len(processed.Markdown),
		WordCount:       processed.WordCount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.docStorage.SaveDocument(doc); err != nil {
		s.logger.Warn().Str("url", task.URL).Err(err).Msg("Document save failed")
		return nil
	}

	meta := interfaces.IndexMetadata{
		URL:   task.URL,
		Title: processed.Title,
		JobID: task.JobID,
		Depth: task.Depth,
	}
	if err := s.indexer.Ingest(ctx, processed.Hash, meta); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Str("content_ref", processed.Hash).
			Err(err).
			Msg("Indexer handoff failed")
		// No dedup entry: the content never reached the index, so a
		// future scrape of this URL must try again
		return &interfaces.IngestOutcome{
			Status: models.PageStatusFailed,
			Error:  (&common.IndexingError{ContentRef: processed.Hash, Err: err}).Error(),
		}
	}

	return &interfaces.IngestOutcome{
		Status:     models.PageStatusFetched,
		Title:      processed.Title,
		ContentRef: processed.Hash,
		Dedup: &models.DedupEntry{
			URL:         task.URL,
			ContentHash: processed.Hash,
			ContentRef:  processed.Hash,
			JobID:       task.JobID,
			Title:       processed.Title,
			ScrapedAt:   now,
		},
	}
}

// resolveIngest applies the outcome and publishes progress
func (s *Service) resolveIngest(ctx context.Context, job *models.ScrapeJob, task *models.IngestTask, ack func() error, taskID string, outcome *interfaces.IngestOutcome) {
	post, resolved, err := s.jobStorage.ResolveIngest(ctx, task.JobID, task.URL, outcome)
	if err != nil {
		s.logger.Warn().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Err(err).
			Msg("Failed to resolve ingest")
		return
	}
	if resolved {
		s.logger.Debug().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Str("status", string(outcome.Status)).
			Msg("Page resolved")
		s.publishJobProgress(job, post)
	}
	s.ackTask(ack, taskID)
}
