package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// txnMaxRetries bounds conflict retries on the serializable transactions
// that carry counter updates. Conflicts are expected under concurrent
// workers and resolve in a handful of attempts.
const txnMaxRetries = 10

// Key layout, all JSON values:
//   - job:{id}                        one ScrapeJob record
//   - jobidx:{created %020d}:{id}     list index, lexical order = creation order
//   - page:{jobID}:{url}              one ScrapePage per accepted URL
//
// The page record is created when a URL is accepted into the job, so its
// existence doubles as the per-job seen mark: a URL admits at most once,
// which is what keeps total_urls equal to the number of unique URLs.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// update runs fn in a serializable transaction, retrying on conflict with
// jittered backoff. Exhausted retries surface as ErrStoreContention.
func (s *JobStorage) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < txnMaxRetries; attempt++ {
		err = s.db.Store().Badger().Update(fn)
		if err == nil || !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(rand.Intn(4)+1) * time.Millisecond * time.Duration(attempt+1))
	}
	return fmt.Errorf("%w after %d attempts: %v", common.ErrStoreContention, txnMaxRetries, err)
}

func jobKey(jobID string) []byte {
	return []byte("job:" + jobID)
}

func jobIndexKey(createdAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("jobidx:%020d:%s", createdAt.UnixNano(), jobID))
}

func pageKey(jobID, url string) []byte {
	return []byte(fmt.Sprintf("page:%s:%s", jobID, url))
}

func getJobTxn(txn *badgerdb.Txn, jobID string) (*models.ScrapeJob, error) {
	item, err := txn.Get(jobKey(jobID))
	if err != nil {
		if err == badgerdb.ErrKeyNotFound {
			return nil, common.ErrJobNotFound
		}
		return nil, err
	}
	var job models.ScrapeJob
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, err
	}
	return &job, nil
}

func setJobTxn(txn *badgerdb.Txn, job *models.ScrapeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return txn.Set(jobKey(job.ID), data)
}

func getPageTxn(txn *badgerdb.Txn, jobID, url string) (*models.ScrapePage, error) {
	item, err := txn.Get(pageKey(jobID, url))
	if err != nil {
		if err == badgerdb.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var page models.ScrapePage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &page)
	}); err != nil {
		return nil, err
	}
	return &page, nil
}

func setPageTxn(txn *badgerdb.Txn, page *models.ScrapePage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return txn.Set(pageKey(page.JobID, page.URL), data)
}

// evaluateProgress advances the job's status from its counters: into
// processing once the frontier drains, into a terminal state once every
// accepted URL is resolved. Terminal and not-yet-started jobs never move.
// Returns true when the job just became terminal.
func evaluateProgress(job *models.ScrapeJob, now time.Time) bool {
	if job.Status == models.JobStatusPending || job.Status.IsTerminal() {
		return false
	}
	if job.TerminationDue() {
		job.Status = job.TerminalStatus()
		job.CompletedAt = now
		return true
	}
	if job.InFlightDiscovery == 0 && job.Status == models.JobStatusDiscovering {
		job.Status = models.JobStatusProcessing
	}
	return false
}

// CreateJob persists a new job record with its list index entry
func (s *JobStorage) CreateJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	return s.update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(jobKey(job.ID)); err == nil {
			return fmt.Errorf("job already exists: %s", job.ID)
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		return txn.Set(jobIndexKey(job.CreatedAt, job.ID), []byte{})
	})
}

// StartJob admits the seed URL and opens discovery. The status change,
// both counter increments, the seed page record, and the frontier enqueue
// commit in one transaction, so a started job always has exactly one
// outstanding discovery task.
func (s *JobStorage) StartJob(ctx context.Context, jobID, seedURL string, enqueue interfaces.TxnOp) (*models.ScrapeJob, error) {
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusPending {
			return fmt.Errorf("job %s is not pending (status %s)", jobID, job.Status)
		}

		now := time.Now()
		job.Status = models.JobStatusDiscovering
		job.TotalURLs = 1
		job.InFlightDiscovery = 1
		job.StartedAt = now
		job.UpdatedAt = now

		page := &models.ScrapePage{
			JobID:     jobID,
			URL:       seedURL,
			Status:    models.PageStatusPending,
			Depth:     0,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := setPageTxn(txn, page); err != nil {
			return err
		}
		if err := enqueue(txn); err != nil {
			return err
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetJob returns the stored job
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	var job *models.ScrapeJob
	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		found, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		job = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs newest-first with cursor pagination. The cursor
// is the index key of the last returned job; callers pass it back
// verbatim to continue.
func (s *JobStorage) ListJobs(ctx context.Context, limit int, cursor string) ([]*models.ScrapeJob, string, error) {
	if limit <= 0 {
		limit = 50
	}

	prefix := []byte("jobidx:")
	var jobIDs []string
	var nextCursor string

	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration: seek past the prefix range, or resume just
		// before the cursor key
		seek := append(append([]byte{}, prefix...), 0xff)
		if cursor != "" {
			seek = []byte(cursor)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if key == cursor {
				continue // Cursor itself was returned by the previous page
			}
			parts := strings.SplitN(key, ":", 3)
			if len(parts) != 3 {
				continue
			}
			jobIDs = append(jobIDs, parts[2])
			if len(jobIDs) == limit {
				nextCursor = key
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	jobs := make([]*models.ScrapeJob, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrJobNotFound) {
				continue // Index entry without record, skip
			}
			return nil, "", err
		}
		jobs = append(jobs, job)
	}

	// No continuation when the page came back short
	if len(jobIDs) < limit {
		nextCursor = ""
	}
	return jobs, nextCursor, nil
}

// CancelJob moves a non-terminal job to cancelled. Terminal jobs are
// returned unchanged; cancellation is cooperative, so in-flight tasks
// drain against the cancelled status instead of being preempted.
func (s *JobStorage) CancelJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			updated = job
			return nil
		}
		now := time.Now()
		job.Status = models.JobStatusCancelled
		job.CompletedAt = now
		job.UpdatedAt = now
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FailJob force-fails a non-terminal job (stale sweep, startup recovery).
// zeroCounters resets the counters for jobs that never crawled anything.
func (s *JobStorage) FailJob(ctx context.Context, jobID, reason string, zeroCounters bool) (*models.ScrapeJob, error) {
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			updated = job
			return nil
		}
		now := time.Now()
		job.Status = models.JobStatusFailed
		job.Error = reason
		job.CompletedAt = now
		job.UpdatedAt = now
		if zeroCounters {
			job.TotalURLs = 0
			job.InFlightDiscovery = 0
			job.ProcessedCount = 0
			job.FailedCount = 0
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AcceptLink admits one discovered URL. The seen check, the max_pages
// check-and-increment, the in-flight increment, the pending page record,
// and the frontier enqueue are a single transaction: concurrent workers
// racing on the same URL or on the last page slot serialize here.
func (s *JobStorage) AcceptLink(ctx context.Context, jobID, url string, depth int, enqueue interfaces.TxnOp) (bool, *models.ScrapeJob, error) {
	accepted := false
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		accepted = false
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		updated = job
		if job.Status.IsTerminal() {
			return nil // No growth after a terminal state is observed
		}
		existing, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil // Already seen within this job
		}
		if job.TotalURLs >= job.Config.MaxPages {
			return nil // Page cap reached, discard instead of enqueue
		}

		now := time.Now()
		job.TotalURLs++
		job.InFlightDiscovery++
		job.UpdatedAt = now

		page := &models.ScrapePage{
			JobID:     jobID,
			URL:       url,
			Status:    models.PageStatusPending,
			Depth:     depth,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := setPageTxn(txn, page); err != nil {
			return err
		}
		if err := enqueue(txn); err != nil {
			return err
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return accepted, updated, nil
}

// ResolveDiscovery completes one frontier task after a successful fetch:
// the discovered latch flips, the ingest task enqueues, in-flight
// decrements, and termination is evaluated, all atomically. A page whose
// latch is already set resolves to a no-op, which is what makes frontier
// redelivery safe.
func (s *JobStorage) ResolveDiscovery(ctx context.Context, jobID, url string, enqueue interfaces.TxnOp) (*models.ScrapeJob, bool, error) {
	resolved := false
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		resolved = false
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		updated = job
		page, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		if page == nil || page.Discovered {
			return nil // Unknown page or already resolved
		}

		now := time.Now()
		page.Discovered = true
		page.UpdatedAt = now
		if err := setPageTxn(txn, page); err != nil {
			return err
		}

		// A job that went terminal mid-fetch drains without spawning
		// ingest work
		if !job.Status.IsTerminal() {
			if err := enqueue(txn); err != nil {
				return err
			}
		}

		if job.InFlightDiscovery > 0 {
			job.InFlightDiscovery--
		}
		job.UpdatedAt = now
		evaluateProgress(job, now)
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, resolved, nil
}

// DropDiscovery abandons one frontier task without expanding it, used
// when the job is cancelled or a URL is robots-disallowed. The discovered
// latch still flips so a redelivered copy cannot double-decrement. On a
// live job the skipped page counts as processed; it will never reach the
// ingest queue, so nothing else can resolve it and termination would
// otherwise never hold.
func (s *JobStorage) DropDiscovery(ctx context.Context, jobID, url string) (*models.ScrapeJob, error) {
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		updated = job
		page, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		if page == nil || page.Discovered {
			return nil
		}

		now := time.Now()
		page.Discovered = true
		page.Status = models.PageStatusSkipped
		page.UpdatedAt = now
		if err := setPageTxn(txn, page); err != nil {
			return err
		}

		if job.InFlightDiscovery > 0 {
			job.InFlightDiscovery--
		}
		if !job.Status.IsTerminal() {
			job.ProcessedCount++
		}
		job.UpdatedAt = now
		evaluateProgress(job, now)
		return setJobTxn(txn, job)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FailDiscovery records an unrecoverable fetch failure. A failed page
// never blocks the rest of the crawl; a failed seed fails the whole job
// with zeroed counters, since nothing was crawled.
func (s *JobStorage) FailDiscovery(ctx context.Context, jobID, url string, depth int, reason string) (*models.ScrapeJob, error) {
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		updated = job
		page, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		if page == nil || page.Discovered {
			return nil
		}

		now := time.Now()
		page.Discovered = true
		page.Status = models.PageStatusFailed
		page.Error = reason
		page.UpdatedAt = now
		if err := setPageTxn(txn, page); err != nil {
			return err
		}

		if depth == 0 && !job.Status.IsTerminal() {
			job.Status = models.JobStatusFailed
			job.Error = fmt.Sprintf("seed fetch failed: %s", reason)
			job.TotalURLs = 0
			job.InFlightDiscovery = 0
			job.ProcessedCount = 0
			job.FailedCount = 0
			job.CompletedAt = now
			job.UpdatedAt = now
			return setJobTxn(txn, job)
		}

		job.FailedCount++
		if job.InFlightDiscovery > 0 {
			job.InFlightDiscovery--
		}
		job.UpdatedAt = now
		evaluateProgress(job, now)
		return setJobTxn(txn, job)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResolveIngest applies an ingest outcome to a pending page. The status
// change, the counter increment, the optional dedup upsert, and the
// termination evaluation commit together. Pages already off pending
// resolve to a no-op, which makes ingest redelivery safe.
func (s *JobStorage) ResolveIngest(ctx context.Context, jobID, url string, outcome *interfaces.IngestOutcome) (*models.ScrapeJob, bool, error) {
	resolved := false
	var updated *models.ScrapeJob
	err := s.update(func(txn *badgerdb.Txn) error {
		resolved = false
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		updated = job
		page, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		if page == nil || page.Status != models.PageStatusPending {
			return nil // Already resolved by an earlier delivery
		}

		now := time.Now()
		page.Status = outcome.Status
		page.UpdatedAt = now
		if outcome.Title != "" {
			page.Title = outcome.Title
		}
		if outcome.ContentRef != "" {
			page.ContentRef = outcome.ContentRef
		}
		if outcome.Error != "" {
			page.Error = outcome.Error
		}
		if err := setPageTxn(txn, page); err != nil {
			return err
		}

		if outcome.Dedup != nil {
			if err := upsertDedupTxn(s.db.Store(), txn, outcome.Dedup); err != nil {
				return err
			}
		}

		if outcome.Status == models.PageStatusFailed {
			job.FailedCount++
		} else {
			job.ProcessedCount++
		}
		job.UpdatedAt = now
		evaluateProgress(job, now)
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, resolved, nil
}

// GetPage returns one page record, or nil when the URL was never
// accepted into the job
func (s *JobStorage) GetPage(ctx context.Context, jobID, url string) (*models.ScrapePage, error) {
	var page *models.ScrapePage
	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		found, err := getPageTxn(txn, jobID, url)
		if err != nil {
			return err
		}
		page = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetPages returns all page records for a job
func (s *JobStorage) GetPages(ctx context.Context, jobID string) ([]*models.ScrapePage, error) {
	prefix := []byte(fmt.Sprintf("page:%s:", jobID))
	var pages []*models.ScrapePage

	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var page models.ScrapePage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &page)
			}); err != nil {
				return err
			}
			pages = append(pages, &page)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// GetActiveJobs returns all jobs not yet in a terminal state
func (s *JobStorage) GetActiveJobs(ctx context.Context) ([]*models.ScrapeJob, error) {
	var jobs []*models.ScrapeJob
	err := s.iterateJobs(func(job *models.ScrapeJob) {
		if !job.Status.IsTerminal() {
			jobs = append(jobs, job)
		}
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountJobs returns the total number of stored jobs
func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count := 0
	err := s.iterateJobs(func(job *models.ScrapeJob) {
		count++
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountActiveJobs returns the number of jobs not yet terminal
func (s *JobStorage) CountActiveJobs(ctx context.Context) (int, error) {
	count := 0
	err := s.iterateJobs(func(job *models.ScrapeJob) {
		if !job.Status.IsTerminal() {
			count++
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *JobStorage) iterateJobs(visit func(job *models.ScrapeJob)) error {
	prefix := []byte("job:")
	return s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.ScrapeJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			visit(&job)
		}
		return nil
	})
}

// DeleteAll removes all job, index, and page records
func (s *JobStorage) DeleteAll(ctx context.Context) error {
	db := s.db.Store().Badger()
	for _, prefix := range []string{"job:", "jobidx:", "page:"} {
		if err := deletePrefix(db, []byte(prefix)); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(db *badgerdb.DB, prefix []byte) error {
	var keys [][]byte
	err := db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}
