package models

import "time"

// DedupEntry records the last-seen content for a normalized URL, across
// jobs. The entry decides whether re-scraping the same URL re-triggers
// downstream indexing: an unchanged content hash with force_rescrape off
// means the page is skipped without an indexer call.
type DedupEntry struct {
	URL         string    `json:"url"`          // Normalized URL, storage key
	ContentHash string    `json:"content_hash"` // SHA-256 of the normalized markdown
	ContentRef  string    `json:"content_ref"`  // Pointer to the stored document
	JobID       string    `json:"job_id"`       // Job that last scraped this URL
	Title       string    `json:"title,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}
