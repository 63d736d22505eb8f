package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SearchStorage implements the SearchStorage interface for Badger
type SearchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSearchStorage creates a new SearchStorage instance
func NewSearchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SearchStorage {
	return &SearchStorage{
		db:     db,
		logger: logger,
	}
}

// StoreRecord persists one search record keyed by its id
func (s *SearchStorage) StoreRecord(ctx context.Context, record *models.SearchRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("search record ID is required")
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to store search record: %w", err)
	}
	return nil
}

// GetRecord retrieves one search record by id
func (s *SearchStorage) GetRecord(ctx context.Context, id string) (*models.SearchRecord, error) {
	var record models.SearchRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get search record: %w", err)
	}
	return &record, nil
}

// ListRecords returns records newest first. limit <= 0 returns all.
func (s *SearchStorage) ListRecords(ctx context.Context, limit int) ([]*models.SearchRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []*models.SearchRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list search records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of stored records
func (s *SearchStorage) CountRecords(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.SearchRecord{}, badgerhold.Where("ID").Ne(""))
	if err != nil {
		return 0, fmt.Errorf("failed to count search records: %w", err)
	}
	return int(count), nil
}

// ClearAll removes every stored record
func (s *SearchStorage) ClearAll(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&models.SearchRecord{}, badgerhold.Where("ID").Ne("")); err != nil {
		return fmt.Errorf("failed to clear search records: %w", err)
	}
	return nil
}
