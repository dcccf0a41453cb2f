package storage

import (
	"context"

	"listing-sync/models"
)

// DocumentStore is the revisioned store the sync engine writes to.
type DocumentStore interface {
	Name() string
	// Revisions returns id -> current revision for ids present in the store.
	Revisions(ctx context.Context, ids []string) (map[string]string, error)
	// BulkUpsert returns one result per submitted document.
	BulkUpsert(ctx context.Context, docs []*models.Listing) ([]DocResult, error)
	Get(ctx context.Context, id string) (*models.Listing, error)
	Put(ctx context.Context, doc *models.Listing) (string, error)
}

// DocumentReader loads stored listings for classification and enrichment.
type DocumentReader interface {
	FetchDocs(ctx context.Context, ids []string) ([]*models.Listing, error)
	AllDocs(ctx context.Context) ([]*models.Listing, error)
}

// ReviewWriter is the interface any review surface backend must satisfy.
type ReviewWriter interface {
	Upsert(ctx context.Context, rows []*models.ReviewRow) error
	FetchAll(ctx context.Context) ([]*models.ReviewRow, error)
	Close() error
}

// SyncRecorder persists the outcome of every sync run.
type SyncRecorder interface {
	Record(summary RunSummary, rows []LedgerRow) error
}

var (
	_ DocumentStore  = (*CouchClient)(nil)
	_ DocumentReader = (*CouchClient)(nil)
	_ SyncRecorder   = (*AuditTrail)(nil)
)
