package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/catalog/models"
	"tally/internal/catalog/store"
	"tally/pkg/platform/sentinel"
)

type CatalogServiceSuite struct {
	suite.Suite
	service *Service
	ctx     context.Context
}

func TestCatalogServiceSuite(t *testing.T) {
	suite.Run(t, new(CatalogServiceSuite))
}

func (s *CatalogServiceSuite) SetupTest() {
	s.ctx = context.Background()

	seeded := store.NewMemorySeeded(
		&models.CatalogEntry{DocumentType: "invoice", CreditCost: 3, DisplayName: "Invoice", Category: "billing", IsActive: true},
		&models.CatalogEntry{DocumentType: "contract", CreditCost: 10, DisplayName: "Contract", Category: "legal", IsActive: true},
		&models.CatalogEntry{DocumentType: "fax-cover", CreditCost: 1, DisplayName: "Fax Cover Sheet", Category: "legacy", IsActive: false},
	)

	var err error
	s.service, err = New(seeded)
	s.Require().NoError(err)
}

func (s *CatalogServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "catalog store is required")
	})
}

func (s *CatalogServiceSuite) TestGetCost() {
	s.Run("active type returns its cost", func() {
		cost, err := s.service.GetCost(s.ctx, "contract")
		s.Require().NoError(err)
		s.Equal(int64(10), cost)
	})

	s.Run("unknown type is not found", func() {
		_, err := s.service.GetCost(s.ctx, "poster")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("inactive type is not found", func() {
		_, err := s.service.GetCost(s.ctx, "fax-cover")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *CatalogServiceSuite) TestListActive() {
	entries, err := s.service.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	for _, e := range entries {
		s.True(e.IsActive)
		s.NotEqual("fax-cover", e.DocumentType)
	}
}
