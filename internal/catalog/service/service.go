// Package service exposes catalog pricing with bounded-staleness caching.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/catalog/cache"
	"tally/internal/catalog/models"
	"tally/internal/catalog/store"
	dErrors "tally/pkg/domain-errors"
	"tally/pkg/platform/sentinel"
)

// Service prices document types. It satisfies the ledger's CostCatalog port.
type Service struct {
	store  store.Store
	cache  *cache.Cache
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New constructs the catalog service.
func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	svc := &Service{
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetCost returns the credit cost for an active document type. Unknown and
// inactive types both read as sentinel.ErrNotFound: an inactive type must not
// be reservable, and callers have no business distinguishing the two.
func (s *Service) GetCost(ctx context.Context, documentType string) (int64, error) {
	if entry, ok := s.cache.Get(ctx, documentType); ok {
		if !entry.IsActive {
			return 0, sentinel.ErrNotFound
		}
		return entry.CreditCost, nil
	}

	entry, err := s.store.FindByType(ctx, documentType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("catalog lookup: %w", err)
	}

	// Inactive entries are cached too, so a burst of requests for a retired
	// type does not hammer the store.
	s.cache.Set(ctx, entry)

	if !entry.IsActive {
		return 0, sentinel.ErrNotFound
	}
	return entry.CreditCost, nil
}

// ListActive returns the purchasable catalog, for the pricing surface.
func (s *Service) ListActive(ctx context.Context) ([]*models.CatalogEntry, error) {
	entries, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list catalog")
	}
	return entries, nil
}
