package models

import (
	"time"
)

// Document represents normalized page content persisted for the indexing
// pipeline. Documents are content-addressed: ID is the SHA-256 of the
// markdown, so identical content across URLs or jobs stores once.
// PRIMARY CONTENT FORMAT: Markdown (ContentMarkdown field)
type Document struct {
	// Identity
	ID string `json:"id"` // Content hash, doubles as the content_ref handed to the indexer

	// Content (markdown-first)
	Title           string `json:"title"`
	ContentMarkdown string `json:"content_markdown"` // PRIMARY CONTENT: Markdown format

	// Provenance
	URL   string `json:"url"` // Link to original page
	JobID string `json:"job_id"`
	Depth int    `json:"depth"`

	// Metadata (page metadata extracted during processing)
	// Example: {"description": "...", "language": "en", "og:title": "..."}
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Derived measures
	Size      int `json:"size"` // Markdown length in bytes
	WordCount int `json:"word_count"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentStats represents statistics about stored documents
type DocumentStats struct {
	TotalDocuments     int       `json:"total_documents"`
	LastUpdated        time.Time `json:"last_updated"`
	AverageContentSize int       `json:"average_content_size"`
}
