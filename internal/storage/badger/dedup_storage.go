package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DedupStorage implements the DedupStorage interface for Badger. Entries
// are keyed by normalized URL and outlive the jobs that wrote them.
type DedupStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDedupStorage creates a new DedupStorage instance
func NewDedupStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DedupStorage {
	return &DedupStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the dedup entry for a normalized URL, or nil when the URL
// has never been indexed
func (s *DedupStorage) Get(ctx context.Context, url string) (*models.DedupEntry, error) {
	var entry models.DedupEntry
	if err := s.db.Store().Get(url, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dedup entry: %w", err)
	}
	return &entry, nil
}

// Upsert writes a dedup entry outside any caller transaction
func (s *DedupStorage) Upsert(ctx context.Context, entry *models.DedupEntry) error {
	if entry.URL == "" {
		return fmt.Errorf("dedup entry URL is required")
	}
	if entry.ScrapedAt.IsZero() {
		entry.ScrapedAt = time.Now()
	}
	if err := s.db.Store().Upsert(entry.URL, entry); err != nil {
		return fmt.Errorf("failed to upsert dedup entry: %w", err)
	}
	return nil
}

// UpsertTxn writes a dedup entry inside the caller's transaction, so the
// entry commits or aborts together with the page and counter updates
func (s *DedupStorage) UpsertTxn(txn *badgerdb.Txn, entry *models.DedupEntry) error {
	return upsertDedupTxn(s.db.Store(), txn, entry)
}

func upsertDedupTxn(store *badgerhold.Store, txn *badgerdb.Txn, entry *models.DedupEntry) error {
	if entry.URL == "" {
		return fmt.Errorf("dedup entry URL is required")
	}
	if entry.ScrapedAt.IsZero() {
		entry.ScrapedAt = time.Now()
	}
	if err := store.TxUpsert(txn, entry.URL, entry); err != nil {
		return fmt.Errorf("failed to upsert dedup entry: %w", err)
	}
	return nil
}

// Count returns the number of dedup entries
func (s *DedupStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.DedupEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count dedup entries: %w", err)
	}
	return int(count), nil
}

// DeleteAll removes every dedup entry
func (s *DedupStorage) DeleteAll(ctx context.Context) error {
	return s.db.Store().DeleteMatching(&models.DedupEntry{}, nil)
}
