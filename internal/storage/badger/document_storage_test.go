package badger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func setupDocumentStorage(t *testing.T) interfaces.DocumentStorage {
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewDocumentStorage(db, logger)
}

func makeDocument(id, jobID string) *models.Document {
	return &models.Document{
		ID:              id,
		Title:           "Title " + id,
		ContentMarkdown: "# Title " + id + "\n\nBody text for " + id + ".",
		URL:             "https://example.com/" + id,
		JobID:           jobID,
		Metadata:        map[string]interface{}{"language": "en"},
	}
}

func TestDocumentStorage_SaveAndGet(t *testing.T) {
	storage := setupDocumentStorage(t)

	doc := makeDocument("hash-1", "job-1")
	require.NoError(t, storage.SaveDocument(doc))
	assert.False(t, doc.CreatedAt.IsZero())
	assert.False(t, doc.UpdatedAt.IsZero())

	got, err := storage.GetDocument("hash-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.ContentMarkdown, got.ContentMarkdown)
	assert.Equal(t, "en", got.Metadata["language"])

	_, err = storage.GetDocument("hash-missing")
	assert.Error(t, err)
}

func TestDocumentStorage_SaveRequiresID(t *testing.T) {
	storage := setupDocumentStorage(t)

	err := storage.SaveDocument(&models.Document{Title: "no id"})
	assert.Error(t, err)
}

func TestDocumentStorage_SaveIsIdempotentPerHash(t *testing.T) {
	storage := setupDocumentStorage(t)

	doc := makeDocument("hash-same", "job-1")
	require.NoError(t, storage.SaveDocument(doc))

	// Re-scraping identical content overwrites the same record
	again := makeDocument("hash-same", "job-2")
	require.NoError(t, storage.SaveDocument(again))

	count, err := storage.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.GetDocument("hash-same")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.JobID)
}

func TestDocumentStorage_GetByURL(t *testing.T) {
	storage := setupDocumentStorage(t)

	require.NoError(t, storage.SaveDocument(makeDocument("hash-url", "job-1")))

	got, err := storage.GetDocumentByURL("https://example.com/hash-url")
	require.NoError(t, err)
	assert.Equal(t, "hash-url", got.ID)

	_, err = storage.GetDocumentByURL("https://example.com/unknown")
	assert.Error(t, err)
}

func TestDocumentStorage_Delete(t *testing.T) {
	storage := setupDocumentStorage(t)

	require.NoError(t, storage.SaveDocument(makeDocument("hash-del", "job-1")))
	require.NoError(t, storage.DeleteDocument("hash-del"))

	_, err := storage.GetDocument("hash-del")
	assert.Error(t, err)

	// Deleting a missing document is a no-op
	assert.NoError(t, storage.DeleteDocument("hash-del"))
}

func TestDocumentStorage_Search(t *testing.T) {
	storage := setupDocumentStorage(t)

	require.NoError(t, storage.SaveDocument(&models.Document{
		ID:              "hash-go",
		Title:           "Go Concurrency Patterns",
		ContentMarkdown: "Goroutines and channels.",
		URL:             "https://example.com/go",
	}))
	require.NoError(t, storage.SaveDocument(&models.Document{
		ID:              "hash-rust",
		Title:           "Ownership in Rust",
		ContentMarkdown: "Borrow checker basics.",
		URL:             "https://example.com/rust",
	}))

	// Case-insensitive match against title
	docs, err := storage.SearchDocuments("concurrency", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hash-go", docs[0].ID)

	// Match against content body
	docs, err = storage.SearchDocuments("borrow checker", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hash-rust", docs[0].ID)

	// Query text is matched literally, not as a regex
	docs, err = storage.SearchDocuments("c.ncurrency", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = storage.SearchDocuments("nothing matches this", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentStorage_ListAndPaginate(t *testing.T) {
	storage := setupDocumentStorage(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, storage.SaveDocument(makeDocument(fmt.Sprintf("hash-%d", i), "job-list")))
	}

	all, err := storage.ListDocuments(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	page, err := storage.ListDocuments(2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := storage.ListDocuments(10, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestDocumentStorage_ListByJob(t *testing.T) {
	storage := setupDocumentStorage(t)

	require.NoError(t, storage.SaveDocument(makeDocument("hash-j1a", "job-1")))
	require.NoError(t, storage.SaveDocument(makeDocument("hash-j1b", "job-1")))
	require.NoError(t, storage.SaveDocument(makeDocument("hash-j2", "job-2")))

	docs, err := storage.ListDocumentsByJob("job-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = storage.ListDocumentsByJob("job-none")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentStorage_Stats(t *testing.T) {
	storage := setupDocumentStorage(t)

	stats, err := storage.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDocuments)

	require.NoError(t, storage.SaveDocument(&models.Document{
		ID:              "hash-s1",
		ContentMarkdown: "aaaa",
		URL:             "https://example.com/s1",
	}))
	require.NoError(t, storage.SaveDocument(&models.Document{
		ID:              "hash-s2",
		ContentMarkdown: "aaaaaaaa",
		URL:             "https://example.com/s2",
	}))

	stats, err = storage.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 6, stats.AverageContentSize)
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestDocumentStorage_ClearAll(t *testing.T) {
	storage := setupDocumentStorage(t)

	require.NoError(t, storage.SaveDocument(makeDocument("hash-clear", "job-1")))
	require.NoError(t, storage.ClearAll())

	count, err := storage.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
