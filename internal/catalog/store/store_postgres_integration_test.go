//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/catalog/models"
	catalogstore "tally/internal/catalog/store"
	"tally/pkg/platform/sentinel"
	"tally/pkg/testutil/containers"
)

type PostgresCatalogSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *catalogstore.PostgresStore
}

func TestPostgresCatalogSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCatalogSuite))
}

func (s *PostgresCatalogSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = catalogstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresCatalogSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "catalog_entries")
	s.Require().NoError(err)
}

func (s *PostgresCatalogSuite) TestFindByType() {
	ctx := context.Background()

	s.Run("unknown type is not found", func() {
		_, err := s.store.FindByType(ctx, "poster")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("upsert then find", func() {
		err := s.store.Upsert(ctx, &models.CatalogEntry{
			DocumentType: "invoice",
			CreditCost:   3,
			DisplayName:  "Invoice",
			Category:     "billing",
			IsActive:     true,
		})
		s.Require().NoError(err)

		entry, err := s.store.FindByType(ctx, "invoice")
		s.Require().NoError(err)
		s.Equal(int64(3), entry.CreditCost)
		s.True(entry.IsActive)
	})

	s.Run("upsert updates in place", func() {
		err := s.store.Upsert(ctx, &models.CatalogEntry{
			DocumentType: "invoice",
			CreditCost:   4,
			DisplayName:  "Invoice",
			Category:     "billing",
			IsActive:     false,
		})
		s.Require().NoError(err)

		entry, err := s.store.FindByType(ctx, "invoice")
		s.Require().NoError(err)
		s.Equal(int64(4), entry.CreditCost)
		s.False(entry.IsActive)
	})
}

func (s *PostgresCatalogSuite) TestListActive() {
	ctx := context.Background()

	entries := []*models.CatalogEntry{
		{DocumentType: "report", CreditCost: 8, DisplayName: "Report", IsActive: true},
		{DocumentType: "contract", CreditCost: 10, DisplayName: "Contract", IsActive: true},
		{DocumentType: "fax-cover", CreditCost: 1, DisplayName: "Fax Cover Sheet", IsActive: false},
	}
	for _, e := range entries {
		s.Require().NoError(s.store.Upsert(ctx, e))
	}

	active, err := s.store.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal("contract", active[0].DocumentType)
	s.Equal("report", active[1].DocumentType)
}
