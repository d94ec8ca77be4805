package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a scrape job
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusDiscovering         JobStatus = "discovering"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
)

// IsTerminal returns true for statuses that permit no further transitions
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ScrapeScope controls which discovered links stay eligible for crawling
type ScrapeScope string

const (
	// ScopeSubpages accepts only URLs sharing the base URL's path prefix
	ScopeSubpages ScrapeScope = "subpages"
	// ScopeHostname accepts only URLs on the identical host
	ScopeHostname ScrapeScope = "hostname"
	// ScopeDomain accepts URLs on the same registrable domain, subdomains included
	ScopeDomain ScrapeScope = "domain"
)

// FetchMode selects the fetch strategy for a job
type FetchMode string

const (
	// FetchModeFast issues a plain HTTP request without script execution
	FetchModeFast FetchMode = "fast"
	// FetchModeFull renders the page in a headless browser before extraction
	FetchModeFull FetchMode = "full"
	// FetchModeAuto tries Fast first and promotes to Full when the result
	// looks like an empty script shell
	FetchModeAuto FetchMode = "auto"
)

// ScrapeConfig defines scrape behavior. It is snapshot onto the job at
// creation time so a job is self-contained and re-runnable.
type ScrapeConfig struct {
	MaxPages        int         `json:"max_pages" validate:"min=1"`
	MaxDepth        int         `json:"max_depth" validate:"min=0"`
	Scope           ScrapeScope `json:"scope" validate:"required,oneof=subpages hostname domain"`
	IncludePatterns []string    `json:"include_patterns,omitempty"` // URL patterns to include (regex). Empty = include all
	ExcludePatterns []string    `json:"exclude_patterns,omitempty"` // URL patterns to exclude (regex)
	FetchMode       FetchMode   `json:"fetch_mode" validate:"required,oneof=fast full auto"`
	Cookies         string      `json:"cookies,omitempty"` // Cookie header sent with every fetch
	ForceRescrape   bool        `json:"force_rescrape"`    // Re-index pages even when content is unchanged
}

// ScrapeJob represents one crawl of a site rooted at BaseURL.
//
// Counters:
//   - TotalURLs counts unique URLs accepted into the job. It grows during
//     discovery and never exceeds Config.MaxPages.
//   - InFlightDiscovery counts frontier tasks that are enqueued or being
//     expanded. Zero means the link graph is fully expanded.
//   - ProcessedCount + FailedCount counts URLs resolved by ingest. The sum
//     never exceeds TotalURLs.
//
// A job is due for a terminal transition exactly when InFlightDiscovery is
// zero and every accepted URL has been resolved. Workers mutate counters
// only through conditional store transactions, so any worker can observe
// the condition and flip the status; the store guarantees only one
// transition lands.
type ScrapeJob struct {
	ID      string       `json:"job_id"`
	BaseURL string       `json:"base_url"`
	Status  JobStatus    `json:"status"`
	Config  ScrapeConfig `json:"config"` // Snapshot of configuration at job creation time

	TotalURLs         int `json:"total_urls"`
	InFlightDiscovery int `json:"in_flight_discovery"`
	ProcessedCount    int `json:"processed_count"`
	FailedCount       int `json:"failed_count"`

	// Error contains a concise, user-friendly description of why the job
	// failed. Only populated when job status is 'failed'.
	Error string `json:"error,omitempty"`

	// DefinitionID references the scrape definition that started this job
	// (empty for jobs started via the API)
	DefinitionID string `json:"definition_id,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TerminationDue reports whether the crawl has no remaining work: the
// frontier is fully drained and every discovered URL has been resolved.
func (j *ScrapeJob) TerminationDue() bool {
	return j.InFlightDiscovery == 0 && j.ProcessedCount+j.FailedCount >= j.TotalURLs
}

// TerminalStatus returns the terminal status a finished job should land
// in, based on whether any page failed.
func (j *ScrapeJob) TerminalStatus() JobStatus {
	if j.FailedCount > 0 {
		return JobStatusCompletedWithErrors
	}
	return JobStatusCompleted
}

// ToJSON serializes the job to JSON
func (j *ScrapeJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// ScrapeJobFromJSON deserializes a job from JSON
func ScrapeJobFromJSON(data []byte) (*ScrapeJob, error) {
	var job ScrapeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Clone returns a deep copy safe to hand to callers while workers keep
// mutating the stored record.
func (j *ScrapeJob) Clone() *ScrapeJob {
	clone := *j
	if len(j.Config.IncludePatterns) > 0 {
		clone.Config.IncludePatterns = append([]string(nil), j.Config.IncludePatterns...)
	}
	if len(j.Config.ExcludePatterns) > 0 {
		clone.Config.ExcludePatterns = append([]string(nil), j.Config.ExcludePatterns...)
	}
	return &clone
}
