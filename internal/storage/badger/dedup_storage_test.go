package badger

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func setupDedupStorage(t *testing.T) (*BadgerDB, interfaces.DedupStorage) {
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, NewDedupStorage(db, logger)
}

func TestDedupStorage_GetMissing(t *testing.T) {
	_, storage := setupDedupStorage(t)

	entry, err := storage.Get(context.Background(), "https://example.com/never-seen")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDedupStorage_UpsertAndGet(t *testing.T) {
	_, storage := setupDedupStorage(t)
	ctx := context.Background()

	entry := &models.DedupEntry{
		URL:         "https://example.com/docs",
		ContentHash: "abc123",
		ContentRef:  "abc123",
		JobID:       "job-1",
		Title:       "Docs",
	}
	require.NoError(t, storage.Upsert(ctx, entry))
	assert.False(t, entry.ScrapedAt.IsZero(), "ScrapedAt defaults to now")

	got, err := storage.Get(ctx, entry.URL)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "Docs", got.Title)

	// A later scrape of the same URL replaces the entry
	require.NoError(t, storage.Upsert(ctx, &models.DedupEntry{
		URL:         entry.URL,
		ContentHash: "def456",
		ContentRef:  "def456",
		JobID:       "job-2",
		ScrapedAt:   time.Now(),
	}))
	got, err = storage.Get(ctx, entry.URL)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "def456", got.ContentHash)
	assert.Equal(t, "job-2", got.JobID)
}

func TestDedupStorage_UpsertRequiresURL(t *testing.T) {
	_, storage := setupDedupStorage(t)

	err := storage.Upsert(context.Background(), &models.DedupEntry{ContentHash: "abc"})
	assert.Error(t, err)
}

func TestDedupStorage_UpsertTxnCommitsWithTransaction(t *testing.T) {
	db, storage := setupDedupStorage(t)
	ctx := context.Background()

	entry := &models.DedupEntry{
		URL:         "https://example.com/txn",
		ContentHash: "hash-txn",
		ContentRef:  "hash-txn",
		JobID:       "job-txn",
	}
	err := db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		return storage.UpsertTxn(txn, entry)
	})
	require.NoError(t, err)

	got, err := storage.Get(ctx, entry.URL)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-txn", got.ContentHash)
}

func TestDedupStorage_UpsertTxnAbortsWithTransaction(t *testing.T) {
	db, storage := setupDedupStorage(t)
	ctx := context.Background()

	txn := db.Store().Badger().NewTransaction(true)
	require.NoError(t, storage.UpsertTxn(txn, &models.DedupEntry{
		URL:         "https://example.com/aborted",
		ContentHash: "hash-aborted",
	}))
	txn.Discard()

	got, err := storage.Get(ctx, "https://example.com/aborted")
	require.NoError(t, err)
	assert.Nil(t, got, "discarded transaction must leave no entry")
}

func TestDedupStorage_CountAndDeleteAll(t *testing.T) {
	_, storage := setupDedupStorage(t)
	ctx := context.Background()

	for _, url := range []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	} {
		require.NoError(t, storage.Upsert(ctx, &models.DedupEntry{URL: url, ContentHash: "h"}))
	}

	count, err := storage.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, storage.DeleteAll(ctx))

	count, err = storage.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
