package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tally/internal/catalog/models"
	"tally/pkg/platform/sentinel"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	t.Run("unknown type is not found", func(t *testing.T) {
		_, err := store.FindByType(ctx, "invoice")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("upsert then find", func(t *testing.T) {
		err := store.Upsert(ctx, &models.CatalogEntry{
			DocumentType: "invoice",
			CreditCost:   3,
			DisplayName:  "Invoice",
			IsActive:     true,
		})
		require.NoError(t, err)

		entry, err := store.FindByType(ctx, "invoice")
		require.NoError(t, err)
		require.Equal(t, int64(3), entry.CreditCost)
	})

	t.Run("upsert replaces the existing entry", func(t *testing.T) {
		err := store.Upsert(ctx, &models.CatalogEntry{
			DocumentType: "invoice",
			CreditCost:   5,
			DisplayName:  "Invoice",
			IsActive:     false,
		})
		require.NoError(t, err)

		entry, err := store.FindByType(ctx, "invoice")
		require.NoError(t, err)
		require.Equal(t, int64(5), entry.CreditCost)
		require.False(t, entry.IsActive)
	})

	t.Run("list active sorted by document type", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &models.CatalogEntry{DocumentType: "report", CreditCost: 8, IsActive: true}))
		require.NoError(t, store.Upsert(ctx, &models.CatalogEntry{DocumentType: "contract", CreditCost: 10, IsActive: true}))

		active, err := store.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		require.Equal(t, "contract", active[0].DocumentType)
		require.Equal(t, "report", active[1].DocumentType)
	})
}
