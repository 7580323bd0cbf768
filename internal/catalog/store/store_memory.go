package store

import (
	"context"
	"sort"
	"sync"

	"tally/internal/catalog/models"
	"tally/pkg/platform/sentinel"
)

// MemoryStore holds the catalog in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.CatalogEntry
}

// NewMemory constructs an empty in-memory catalog store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.CatalogEntry)}
}

// NewMemorySeeded constructs a memory store preloaded with entries.
func NewMemorySeeded(entries ...*models.CatalogEntry) *MemoryStore {
	s := NewMemory()
	for _, e := range entries {
		out := *e
		s.entries[e.DocumentType] = &out
	}
	return s
}

func (s *MemoryStore) FindByType(_ context.Context, documentType string) (*models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[documentType]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *entry
	return &out, nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*models.CatalogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.IsActive {
			out := *entry
			active = append(active, &out)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].DocumentType < active[j].DocumentType
	})
	return active, nil
}

func (s *MemoryStore) Upsert(_ context.Context, entry *models.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *entry
	s.entries[entry.DocumentType] = &out
	return nil
}
