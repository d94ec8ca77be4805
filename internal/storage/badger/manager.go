package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	dedup    interfaces.DedupStorage
	document interfaces.DocumentStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		dedup:    NewDedupStorage(db, logger),
		document: NewDocumentStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// DedupStorage returns the Dedup storage interface
func (m *Manager) DedupStorage() interfaces.DedupStorage {
	return m.dedup
}

// DocumentStorage returns the Document storage interface
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.document
}

// DB returns the shared Badger handle used by the queue managers and for
// cross-storage transactions
func (m *Manager) DB() *badgerdb.DB {
	if m.db != nil {
		return m.db.Store().Badger()
	}
	return nil
}

// RunGC runs one value log garbage collection cycle. Badger returns
// ErrNoRewrite when there is nothing to collect; that is not an error.
func (m *Manager) RunGC(discardRatio float64) error {
	db := m.DB()
	if db == nil {
		return nil
	}
	err := db.RunValueLogGC(discardRatio)
	if err == badgerdb.ErrNoRewrite {
		return nil
	}
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
