// -----------------------------------------------------------------------
// Last Modified: Tuesday, 18th August 2026 9:44:12 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package scraper

// discovery_worker.go contains the frontier side of the crawl. Workers
// claim frontier tasks from the durable queue, fetch the page, admit its
// outbound links, and hand the fetched content to the ingest queue. Every
// counter change runs through a conditional store transaction, so any
// number of workers can process the same job concurrently.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func (s *Service) discoveryLoop(workerIndex int) {
	defer s.wg.Done()

	workerStartTime := time.Now()
	tasksProcessed := 0

	s.logger.Debug().
		Int("worker_index", workerIndex).
		Msg("Discovery worker started")

	defer func() {
		s.logger.Debug().
			Int("worker_index", workerIndex).
			Int("tasks_processed", tasksProcessed).
			Dur("duration", time.Since(workerStartTime)).
			Msg("Discovery worker exiting")
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		received, ack, err := s.discoveryQueue.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, models.ErrNoMessage) {
				s.logger.Warn().Err(err).Msg("Discovery queue receive failed")
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}

		s.processFrontierTask(s.ctx, received, ack)
		tasksProcessed++
	}
}

// processFrontierTask handles one claimed frontier task end to end.
// Leaving without acking returns the task to the queue after the
// visibility timeout; the discovered latch on the page record makes the
// redelivery safe.
func (s *Service) processFrontierTask(ctx context.Context, received *interfaces.ReceivedTask, ack func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task_id", received.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Panic while processing frontier task")
		}
	}()

	// The discovery queue carries only frontier tasks
	if received.Task.Type != models.TaskTypeFrontier {
		s.logger.Warn().
			Str("task_id", received.ID).
			Str("type", received.Task.Type).
			Msg("Unexpected task type on discovery queue, dropping")
		s.ackTask(ack, received.ID)
		return
	}

	var task models.FrontierTask
	if err := json.Unmarshal(received.Task.Payload, &task); err != nil {
		s.logger.Error().
			Str("task_id", received.ID).
			Err(err).
			Msg("Malformed frontier payload, dropping")
		s.ackTask(ack, received.ID)
		return
	}

	job, err := s.jobStorage.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, common.ErrJobNotFound) {
			s.logger.Warn().
				Str("job_id", task.JobID).
				Str("url", task.URL).
				Msg("Frontier task for unknown job, dropping")
			s.ackTask(ack, received.ID)
			return
		}
		s.logger.Warn().Str("job_id", task.JobID).Err(err).Msg("Failed to load job for frontier task")
		return
	}

	if received.ReceiveCount > 1 {
		s.logger.Debug().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Int("receive_count", received.ReceiveCount).
			Msg("Frontier task redelivered")
	}

	// A terminal job drains its remaining frontier without fetching
	if job.Status.IsTerminal() {
		s.dropFrontierTask(ctx, job, &task, ack, received.ID, "job terminal")
		return
	}

	page, err := s.jobStorage.GetPage(ctx, task.JobID, task.URL)
	if err != nil {
		s.logger.Warn().Str("job_id", task.JobID).Str("url", task.URL).Err(err).Msg("Failed to load page for frontier task")
		return
	}
	if page == nil {
		s.logger.Error().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Msg("Frontier task without page record, dropping")
		s.ackTask(ack, received.ID)
		return
	}
	if page.Discovered {
		// Redelivery of an already-expanded task; the ingest task was
		// enqueued in the same transaction that set the latch
		s.ackTask(ack, received.ID)
		return
	}

	if !s.gate.Allowed(ctx, task.URL) {
		s.logger.Debug().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Msg("URL disallowed by robots.txt, dropping")
		s.dropFrontierTask(ctx, job, &task, ack, received.ID, "robots disallowed")
		return
	}

	if err := s.gate.Wait(ctx, task.URL); err != nil {
		return
	}

	// Browser renders can outlive the visibility timeout; push it out
	// before fetching
	if job.Config.FetchMode != models.FetchModeFast {
		if err := s.discoveryQueue.Extend(ctx, received.ID, s.extendBy); err != nil {
			s.logger.Debug().Str("task_id", received.ID).Err(err).Msg("Failed to extend task visibility")
		}
	}

	fetcher := s.fetchers.ForMode(job.Config.FetchMode)
	startTime := time.Now()
	result, err := s.retry.Execute(ctx, s.logger, func() (*interfaces.FetchResult, error) {
		return fetcher.Fetch(ctx, task.URL, &job.Config)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failFrontierTask(ctx, job, &task, ack, received.ID, err)
		return
	}

	s.logger.Debug().
		Str("job_id", task.JobID).
		Str("url", task.URL).
		Str("fetcher", fetcher.Name()).
		Int("depth", task.Depth).
		Int("body_size", len(result.HTML)).
		Bool("rendered", result.Rendered).
		Dur("fetch_time", time.Since(startTime)).
		Msg("Page fetched")

	if task.Depth < job.Config.MaxDepth {
		s.expandLinks(ctx, job, &task, result)
	}

	ingestMsg, err := models.NewIngestMessage(&models.IngestTask{
		JobID:     task.JobID,
		URL:       task.URL,
		Depth:     task.Depth,
		Content:   result.HTML,
		FinalURL:  result.FinalURL,
		Rendered:  result.Rendered,
		FetchedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Str("job_id", task.JobID).Str("url", task.URL).Err(err).Msg("Failed to build ingest task")
		return
	}

	post, resolved, err := s.jobStorage.ResolveDiscovery(ctx, task.JobID, task.URL, func(txn *badgerdb.Txn) error {
		return s.ingestQueue.EnqueueTxn(txn, ingestMsg)
	})
	if err != nil {
		s.logger.Warn().Str("job_id", task.JobID).Str("url", task.URL).Err(err).Msg("Failed to resolve discovery")
		return
	}
	if resolved {
		s.publishJobProgress(job, post)
	}
	s.ackTask(ack, received.ID)
}

// expandLinks extracts, filters, and admits the page's outbound links.
// Each admitted link enqueues its frontier task atomically with the
// counter increment.
func (s *Service) expandLinks(ctx context.Context, job *models.ScrapeJob, task *models.FrontierTask, result *interfaces.FetchResult) {
	baseForLinks := result.FinalURL
	if baseForLinks == "" {
		baseForLinks = task.URL
	}

	links, err := s.extractor.ExtractLinks(result.HTML, baseForLinks)
	if err != nil {
		s.logger.Warn().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Err(err).
			Msg("Link extraction failed, continuing without expansion")
		return
	}

	policy, err := NewLinkPolicy(job.BaseURL, &job.Config, s.logger)
	if err != nil {
		s.logger.Error().Str("job_id", task.JobID).Err(err).Msg("Invalid base URL for link policy")
		return
	}

	accepted := 0
	for _, link := range links {
		filter := policy.Evaluate(link)
		if !filter.Allowed {
			continue
		}
		if !s.gate.Allowed(ctx, link) {
			continue
		}

		msg, err := models.NewFrontierMessage(&models.FrontierTask{
			JobID: task.JobID,
			URL:   link,
			Depth: task.Depth + 1,
		})
		if err != nil {
			s.logger.Error().Str("url", link).Err(err).Msg("Failed to build frontier task")
			continue
		}

		ok, post, err := s.jobStorage.AcceptLink(ctx, task.JobID, link, task.Depth+1, func(txn *badgerdb.Txn) error {
			return s.discoveryQueue.EnqueueTxn(txn, msg)
		})
		if err != nil {
			s.logger.Warn().
				Str("job_id", task.JobID).
				Str("url", link).
				Err(err).
				Msg("Failed to admit link")
			continue
		}
		if ok {
			accepted++
			s.publishJobProgress(job, post)
		}
	}

	s.logger.Debug().
		Str("job_id", task.JobID).
		Str("url", task.URL).
		Int("links_found", len(links)).
		Int("links_accepted", accepted).
		Int("depth", task.Depth).
		Msg("Links expanded")
}

// dropFrontierTask resolves a frontier task without fetching
func (s *Service) dropFrontierTask(ctx context.Context, job *models.ScrapeJob, task *models.FrontierTask, ack func() error, taskID, reason string) {
	post, err := s.jobStorage.DropDiscovery(ctx, task.JobID, task.URL)
	if err != nil {
		s.logger.Warn().
			Str("job_id", task.JobID).
			Str("url", task.URL).
			Str("reason", reason).
			Err(err).
			Msg("Failed to drop frontier task")
		return
	}
	s.publishJobProgress(job, post)
	s.ackTask(ack, taskID)
}

// failFrontierTask records a fetch failure against the page and the job
func (s *Service) failFrontierTask(ctx context.Context, job *models.ScrapeJob, task *models.FrontierTask, ack func() error, taskID string, fetchErr error) {
	s.logger.Warn().
		Str("job_id", task.JobID).
		Str("url", task.URL).
		Int("depth", task.Depth).
		Err(fetchErr).
		Msg("Fetch failed")

	post, err := s.jobStorage.FailDiscovery(ctx, task.JobID, task.URL, task.Depth, fetchErr.Error())
	if err != nil {
		s.logger.Warn().Str("job_id", task.JobID).Str("url", task.URL).Err(err).Msg("Failed to record fetch failure")
		return
	}
	s.publishJobProgress(job, post)
	s.ackTask(ack, taskID)
}

func (s *Service) ackTask(ack func() error, taskID string) {
	if err := ack(); err != nil {
		s.logger.Warn().Str("task_id", taskID).Err(err).Msg("Failed to ack task")
	}
}
