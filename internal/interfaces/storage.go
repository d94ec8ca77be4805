// -----------------------------------------------------------------------
// Last Modified: Tuesday, 19th August 2025 4:12:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/colligo/internal/models"
)

// TxnOp is an operation applied inside an already-open store transaction.
// Used to fold queue enqueues into the same atomic commit as counter
// updates, so a task is enqueued if and only if its counters moved.
type TxnOp func(txn *badger.Txn) error

// IngestOutcome describes how an ingest worker resolved one page. Applied
// atomically: page status, job counters, and the optional dedup upsert
// commit together or not at all.
type IngestOutcome struct {
	Status     models.PageStatus // fetched, skipped, or failed
	Title      string
	ContentRef string
	Error      string
	Dedup      *models.DedupEntry // Upserted in the same transaction when non-nil
}

// JobStorage - interface for scrape job and page persistence.
//
// Every mutating operation is a single conditional store transaction,
// retried internally on conflict. Job counters are never updated through
// read-then-write without the transaction guard: arbitrarily many workers
// mutate the same record concurrently.
type JobStorage interface {
	// CreateJob persists a new job record with status pending
	CreateJob(ctx context.Context, job *models.ScrapeJob) error

	// StartJob atomically moves pending -> discovering, admits the seed URL
	// (total_urls=1, in_flight_discovery=1, pending page record), and runs
	// enqueue inside the same transaction
	StartJob(ctx context.Context, jobID, seedURL string, enqueue TxnOp) (*models.ScrapeJob, error)

	// GetJob returns the stored job or common.ErrJobNotFound
	GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error)

	// ListJobs returns jobs newest-first. cursor is the opaque continuation
	// token from a previous call; empty starts from the newest job. The
	// returned cursor is empty when no more jobs remain.
	ListJobs(ctx context.Context, limit int, cursor string) ([]*models.ScrapeJob, string, error)

	// CancelJob moves a non-terminal job to cancelled; terminal jobs are
	// returned unchanged
	CancelJob(ctx context.Context, jobID string) (*models.ScrapeJob, error)

	// FailJob force-fails a non-terminal job. zeroCounters resets all
	// counters, used when the seed fetch fails and nothing was crawled.
	FailJob(ctx context.Context, jobID, reason string, zeroCounters bool) (*models.ScrapeJob, error)

	// AcceptLink admits url into the job: if no page record exists and
	// total_urls < max_pages, it increments total_urls and
	// in_flight_discovery, creates the pending page record, and runs
	// enqueue, all in one transaction. Returns false when the URL was
	// already seen or the page cap is reached.
	AcceptLink(ctx context.Context, jobID, url string, depth int, enqueue TxnOp) (bool, *models.ScrapeJob, error)

	// ResolveDiscovery completes a frontier task: marks the page discovered,
	// runs enqueue (the ingest task), decrements in_flight_discovery, and
	// evaluates termination. Idempotent: a page already marked discovered
	// resolves to a no-op with resolved=false.
	ResolveDiscovery(ctx context.Context, jobID, url string, enqueue TxnOp) (job *models.ScrapeJob, resolved bool, err error)

	// DropDiscovery decrements in_flight_discovery without expanding the
	// page (cancelled job, skipped task) and evaluates termination
	DropDiscovery(ctx context.Context, jobID, url string) (*models.ScrapeJob, error)

	// FailDiscovery records a fetch failure: page failed, failed_count
	// incremented, in_flight_discovery decremented, termination evaluated.
	// A depth-0 failure fails the whole job with zeroed counters, since a
	// job that cannot fetch its seed has crawled nothing.
	FailDiscovery(ctx context.Context, jobID, url string, depth int, reason string) (*models.ScrapeJob, error)

	// ResolveIngest applies an ingest outcome: page status moves off
	// pending, processed_count or failed_count increments, termination is
	// evaluated. Idempotent: a page no longer pending resolves to a no-op
	// with resolved=false.
	ResolveIngest(ctx context.Context, jobID, url string, outcome *IngestOutcome) (job *models.ScrapeJob, resolved bool, err error)

	// Page reads
	GetPage(ctx context.Context, jobID, url string) (*models.ScrapePage, error)
	GetPages(ctx context.Context, jobID string) ([]*models.ScrapePage, error)

	// GetActiveJobs returns all jobs not yet in a terminal state
	GetActiveJobs(ctx context.Context) ([]*models.ScrapeJob, error)

	// Stats operations
	CountJobs(ctx context.Context) (int, error)
	CountActiveJobs(ctx context.Context) (int, error)

	// Bulk operations
	DeleteAll(ctx context.Context) error
}

// DedupStorage - interface for the cross-job dedup index keyed by
// normalized URL
type DedupStorage interface {
	// Get returns the entry for url, or nil when the URL was never scraped
	Get(ctx context.Context, url string) (*models.DedupEntry, error)
	Upsert(ctx context.Context, entry *models.DedupEntry) error
	// UpsertTxn folds the upsert into an already-open transaction
	UpsertTxn(txn *badger.Txn, entry *models.DedupEntry) error
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

// DocumentStorage - interface for normalized document persistence
type DocumentStorage interface {
	// CRUD operations
	SaveDocument(doc *models.Document) error
	GetDocument(id string) (*models.Document, error)
	GetDocumentByURL(url string) (*models.Document, error)
	DeleteDocument(id string) error

	// Search operations
	SearchDocuments(query string, limit int) ([]*models.Document, error)

	// List operations
	ListDocuments(limit, offset int) ([]*models.Document, error)
	ListDocumentsByJob(jobID string) ([]*models.Document, error)

	// Stats operations
	CountDocuments() (int, error)
	GetStats() (*models.DocumentStats, error)

	// Bulk operations
	ClearAll() error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	DedupStorage() DedupStorage
	DocumentStorage() DocumentStorage
	// DB exposes the shared Badger handle for queue managers and
	// transaction composition
	DB() *badger.DB
	// RunGC runs one value-log garbage collection cycle
	RunGC(discardRatio float64) error
	Close() error
}
