package store

import (
	"context"

	"tally/internal/catalog/models"
)

// Store persists catalog entries. Implementations return
// sentinel.ErrNotFound for unknown document types; active/inactive
// filtering is the service's concern.
type Store interface {
	FindByType(ctx context.Context, documentType string) (*models.CatalogEntry, error)
	ListActive(ctx context.Context) ([]*models.CatalogEntry, error)
	Upsert(ctx context.Context, entry *models.CatalogEntry) error
}
