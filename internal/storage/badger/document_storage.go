package badger

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DocumentStorage implements the DocumentStorage interface for Badger.
// Documents are keyed by content hash, so re-scraping identical content
// overwrites the same record instead of accumulating copies.
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveDocument(doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStorage) GetDocumentByURL(url string) (*models.Document, error) {
	var docs []models.Document
	err := s.db.Store().Find(&docs, badgerhold.Where("URL").Eq(url))
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document not found for url: %s", url)
	}
	return &docs[0], nil
}

func (s *DocumentStorage) DeleteDocument(id string) error {
	if err := s.db.Store().Delete(id, &models.Document{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) SearchDocuments(query string, limit int) ([]*models.Document, error) {
	// BadgerHold has limited text search capabilities (RegExp).
	// This matches the query as literal text against title and content.
	// WARNING: This is slow for large datasets.
	escapedQuery := regexp.QuoteMeta(query)
	regex, err := regexp.Compile("(?i)" + escapedQuery) // Case insensitive
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	var docs []models.Document
	err = s.db.Store().Find(&docs, badgerhold.Where("ContentMarkdown").RegExp(regex).Or(badgerhold.Where("Title").RegExp(regex)).Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}

func (s *DocumentStorage) ListDocuments(limit, offset int) ([]*models.Document, error) {
	query := badgerhold.Where("ID").Ne("") // Select all

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var docs []models.Document
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}

func (s *DocumentStorage) ListDocumentsByJob(jobID string) ([]*models.Document, error) {
	var docs []models.Document
	if err := s.db.Store().Find(&docs, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to get documents by job: %w", err)
	}

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}

func (s *DocumentStorage) CountDocuments() (int, error) {
	count, err := s.db.Store().Count(&models.Document{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

func (s *DocumentStorage) GetStats() (*models.DocumentStats, error) {
	// Full scan. Badger keeps no aggregate counters, and the corpus stays
	// small enough for a single-node tool.
	var docs []models.Document
	if err := s.db.Store().Find(&docs, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to load documents for stats: %w", err)
	}

	totalSize := 0
	for i := range docs {
		totalSize += len(docs[i].ContentMarkdown)
	}
	avg := 0
	if len(docs) > 0 {
		avg = totalSize / len(docs)
	}

	return &models.DocumentStats{
		TotalDocuments:     len(docs),
		LastUpdated:        time.Now(),
		AverageContentSize: avg,
	}, nil
}

func (s *DocumentStorage) ClearAll() error {
	return s.db.Store().DeleteMatching(&models.Document{}, nil)
}
