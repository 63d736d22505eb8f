// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/quaesitor/internal/models"
)

// ErrRecordNotFound is returned when a search record id is not present
var ErrRecordNotFound = errors.New("search record not found")

// SearchStorage - interface for search record persistence
type SearchStorage interface {
	// Record operations
	StoreRecord(ctx context.Context, record *models.SearchRecord) error
	GetRecord(ctx context.Context, id string) (*models.SearchRecord, error)
	ListRecords(ctx context.Context, limit int) ([]*models.SearchRecord, error)
	CountRecords(ctx context.Context) (int, error)

	// Bulk operations
	ClearAll(ctx context.Context) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	SearchStorage() SearchStorage
	DB() interface{}
	Close() error
}

// HistoryService keeps the per-worker audit trail of completed
// searches. Records are local to the worker and never part of fleet
// coordination state.
type HistoryService interface {
	// Record persists the outcome of one search. The answer HTML is
	// rendered to markdown before storage so records stay readable
	// without a browser.
	Record(ctx context.Context, record *models.SearchRecord, answerHTML string) error

	// Recent returns the latest records, newest first. limit <= 0
	// returns all records.
	Recent(ctx context.Context, limit int) ([]*models.SearchRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)
}
