package interfaces

import "context"

// IndexMetadata accompanies a content reference into the indexing
// pipeline
type IndexMetadata struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	JobID string `json:"job_id"`
	Depth int    `json:"depth"`
}

// Indexer is the downstream indexing collaborator. The crawler treats
// the call as pass/fail; embedding and search indexing happen behind it.
type Indexer interface {
	Ingest(ctx context.Context, contentRef string, meta IndexMetadata) error
}
