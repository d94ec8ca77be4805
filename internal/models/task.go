package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// Task types routed through the queue envelope
const (
	TaskTypeFrontier = "frontier"
	TaskTypeIngest   = "ingest"
)

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the task.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // References the owning scrape job
	Type    string          `json:"type"`    // Task type for worker routing
	Payload json.RawMessage `json:"payload"` // Task-specific data (passed through)
}

// FrontierTask instructs a discovery worker to fetch one URL and expand
// its outbound links. Depth is 0 at the seed and strictly increasing per
// hop; no task is ever enqueued beyond the job's max depth.
type FrontierTask struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"` // Absolute, normalized
	Depth int    `json:"depth"`
}

// IngestTask carries one fetched page to an ingest worker for content
// normalization, dedup, persistence, and indexer handoff.
type IngestTask struct {
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"` // Absolute, normalized
	Depth     int       `json:"depth"`
	Content   string    `json:"content"`             // Raw or rendered HTML from the fetch
	FinalURL  string    `json:"final_url,omitempty"` // Post-redirect URL, when it differs
	Rendered  bool      `json:"rendered,omitempty"`  // True when a browser produced the content
	FetchedAt time.Time `json:"fetched_at"`
}

// NewFrontierMessage wraps a FrontierTask in a queue envelope
func NewFrontierMessage(task *FrontierTask) (*QueueMessage, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &QueueMessage{JobID: task.JobID, Type: TaskTypeFrontier, Payload: payload}, nil
}

// NewIngestMessage wraps an IngestTask in a queue envelope
func NewIngestMessage(task *IngestTask) (*QueueMessage, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &QueueMessage{JobID: task.JobID, Type: TaskTypeIngest, Payload: payload}, nil
}
