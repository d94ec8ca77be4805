package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// flakyDocStorage wraps an in-memory document map and fails the first N
// saves, exercising the retry loop without a real store
type flakyDocStorage struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	saveFails int
	saves     int
}

func newFlakyDocStorage() *flakyDocStorage {
	return &flakyDocStorage{docs: make(map[string]*models.Document)}
}

func (f *flakyDocStorage) SaveDocument(doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveFails > 0 {
		f.saveFails--
		return fmt.Errorf("transient store error")
	}
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *flakyDocStorage) GetDocument(id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	copied := *doc
	return &copied, nil
}

func (f *flakyDocStorage) GetDocumentByURL(url string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.URL == url {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("document not found for url: %s", url)
}

func (f *flakyDocStorage) DeleteDocument(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *flakyDocStorage) SearchDocuments(query string, limit int) ([]*models.Document, error) {
	return nil, nil
}

func (f *flakyDocStorage) ListDocuments(limit, offset int) ([]*models.Document, error) {
	return nil, nil
}

func (f *flakyDocStorage) ListDocumentsByJob(jobID string) ([]*models.Document, error) {
	return nil, nil
}

func (f *flakyDocStorage) CountDocuments() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs), nil
}

func (f *flakyDocStorage) GetStats() (*models.DocumentStats, error) {
	return &models.DocumentStats{}, nil
}

func (f *flakyDocStorage) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = make(map[string]*models.Document)
	return nil
}

var _ interfaces.DocumentStorage = (*flakyDocStorage)(nil)

func TestIngest_StampsStoredDocument(t *testing.T) {
	docs := newFlakyDocStorage()
	require.NoError(t, docs.SaveDocument(&models.Document{
		ID:    "ref-1",
		Title: "Stored Page",
		URL:   "https://example.com/page",
	}))

	svc := NewService(docs, nil, arbor.NewLogger())
	err := svc.Ingest(context.Background(), "ref-1", interfaces.IndexMetadata{
		URL:   "https://example.com/page",
		Title: "Stored Page",
		JobID: "job-1",
	})
	require.NoError(t, err)

	doc, err := docs.GetDocument("ref-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", doc.Metadata["indexed_for_job"])
	assert.NotEmpty(t, doc.Metadata["indexed_at"])
}

func TestIngest_UnresolvedRefFails(t *testing.T) {
	svc := NewService(newFlakyDocStorage(), nil, arbor.NewLogger())

	err := svc.Ingest(context.Background(), "ref-missing", interfaces.IndexMetadata{JobID: "job-1"})
	assert.Error(t, err)
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	docs := newFlakyDocStorage()
	require.NoError(t, docs.SaveDocument(&models.Document{ID: "ref-retry", URL: "https://example.com/r"}))
	docs.saveFails = 2

	cfg := &common.IndexerConfig{MaxRetries: 3, RetryBackoff: "1ms", Timeout: "5s"}
	svc := NewService(docs, cfg, arbor.NewLogger())

	err := svc.Ingest(context.Background(), "ref-retry", interfaces.IndexMetadata{JobID: "job-1"})
	require.NoError(t, err)

	doc, err := docs.GetDocument("ref-retry")
	require.NoError(t, err)
	assert.Equal(t, "job-1", doc.Metadata["indexed_for_job"])
}

func TestIngest_ExhaustsRetryBudget(t *testing.T) {
	docs := newFlakyDocStorage()
	require.NoError(t, docs.SaveDocument(&models.Document{ID: "ref-dead", URL: "https://example.com/d"}))
	docs.saveFails = 10

	cfg := &common.IndexerConfig{MaxRetries: 2, RetryBackoff: "1ms", Timeout: "5s"}
	svc := NewService(docs, cfg, arbor.NewLogger())

	err := svc.Ingest(context.Background(), "ref-dead", interfaces.IndexMetadata{JobID: "job-1"})
	assert.Error(t, err)
	// 1 initial attempt + 2 retries, each attempt is one save call plus the
	// seeding save above
	assert.Equal(t, 4, docs.saves)
}

func TestIngest_ContextCancellationStopsRetries(t *testing.T) {
	docs := newFlakyDocStorage()
	require.NoError(t, docs.SaveDocument(&models.Document{ID: "ref-ctx", URL: "https://example.com/c"}))
	docs.saveFails = 10

	cfg := &common.IndexerConfig{MaxRetries: 5, RetryBackoff: "1h", Timeout: "10h"}
	svc := NewService(docs, cfg, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Ingest(ctx, "ref-ctx", interfaces.IndexMetadata{JobID: "job-1"})
	}()
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
