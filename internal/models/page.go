package models

import "time"

// PageStatus represents the resolution state of one URL within a job
type PageStatus string

const (
	// PageStatusPending means the URL is accepted but not yet resolved by ingest
	PageStatusPending PageStatus = "pending"
	// PageStatusFetched means content was persisted and handed to the indexer
	PageStatusFetched PageStatus = "fetched"
	// PageStatusSkipped means content was unchanged or the job was cancelled
	PageStatusSkipped PageStatus = "skipped"
	// PageStatusFailed means fetch, parse, or indexing failed for this URL
	PageStatusFailed PageStatus = "failed"
)

// ScrapePage is the durable record for one URL visited within a job.
// Created when a link is accepted into the frontier and updated in place
// as the URL resolves. Never deleted by the crawler itself.
type ScrapePage struct {
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"` // Normalized absolute URL
	Title      string     `json:"title,omitempty"`
	Status     PageStatus `json:"status"`
	ContentRef string     `json:"content_ref,omitempty"` // Content hash pointing at the stored document
	Error      string     `json:"error,omitempty"`
	Depth      int        `json:"depth"`

	// Discovered is set once this page's frontier task has been expanded
	// (links extracted, ingest task enqueued). Redelivered frontier tasks
	// check it so link expansion happens once per URL.
	Discovered bool `json:"discovered"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
