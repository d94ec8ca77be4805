package models

import "time"

// ProgressEvent is the job-level payload published on every counter or
// status change and streamed to WebSocket subscribers.
type ProgressEvent struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	TotalURLs      int       `json:"total_urls"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProgressFromJob builds a progress event from the job's current counters
func ProgressFromJob(job *ScrapeJob) *ProgressEvent {
	return &ProgressEvent{
		JobID:          job.ID,
		Status:         job.Status,
		TotalURLs:      job.TotalURLs,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		UpdatedAt:      job.UpdatedAt,
	}
}
