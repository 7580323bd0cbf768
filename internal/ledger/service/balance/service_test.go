package balance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	ledgerstore "tally/internal/ledger/store/ledger"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

type BalanceServiceSuite struct {
	suite.Suite
	store   *ledgerstore.MemoryStore
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestBalanceServiceSuite(t *testing.T) {
	suite.Run(t, new(BalanceServiceSuite))
}

func (s *BalanceServiceSuite) SetupTest() {
	s.store = ledgerstore.NewMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	var err error
	s.service, err = New(s.store)
	s.Require().NoError(err)
}

func (s *BalanceServiceSuite) seedEntries(principalID id.PrincipalID, n int) {
	for i := range n {
		_, _, err := s.store.Grant(s.ctx, ports.GrantParams{
			PrincipalID:    principalID,
			Kind:           models.EntryEarn,
			Amount:         int64(i + 1),
			IdempotencyKey: uuid.NewString(),
			RecordExpires:  s.now.Add(24 * time.Hour),
			Now:            s.now.Add(time.Duration(i) * time.Millisecond),
		})
		s.Require().NoError(err)
	}
}

func (s *BalanceServiceSuite) TestGetBalance() {
	s.Run("unknown principal reads as zero", func() {
		balance, err := s.service.GetBalance(s.ctx, id.PrincipalID(uuid.New()))
		s.Require().NoError(err)
		s.Equal(int64(0), balance)
	})

	s.Run("reflects the projection", func() {
		principalID := id.PrincipalID(uuid.New())
		s.seedEntries(principalID, 3)

		balance, err := s.service.GetBalance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(6), balance)
	})

	s.Run("nil principal rejected", func() {
		_, err := s.service.GetBalance(s.ctx, id.PrincipalID{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *BalanceServiceSuite) TestGetHistory() {
	s.Run("pages walk the full ledger without gaps or repeats", func() {
		principalID := id.PrincipalID(uuid.New())
		s.seedEntries(principalID, 7)

		seen := map[id.EntryID]bool{}
		cursor := ""
		pages := 0
		for {
			entries, next, err := s.service.GetHistory(s.ctx, principalID, cursor, 3)
			s.Require().NoError(err)
			for _, e := range entries {
				s.False(seen[e.ID], "entry returned twice")
				seen[e.ID] = true
			}
			pages++
			if next == "" {
				break
			}
			cursor = next
		}
		s.Len(seen, 7)
		s.Equal(3, pages)
	})

	s.Run("newest entries come first", func() {
		principalID := id.PrincipalID(uuid.New())
		s.seedEntries(principalID, 3)

		entries, _, err := s.service.GetHistory(s.ctx, principalID, "", 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal(int64(3), entries[0].Amount)
		s.Equal(int64(1), entries[2].Amount)
	})

	s.Run("invalid cursor is a bad request", func() {
		_, _, err := s.service.GetHistory(s.ctx, id.PrincipalID(uuid.New()), "not-a-cursor", 10)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("limit is capped", func() {
		principalID := id.PrincipalID(uuid.New())
		s.seedEntries(principalID, 1)

		entries, _, err := s.service.GetHistory(s.ctx, principalID, "", 10_000)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	entryID := id.NewEntryID()

	decoded, err := decodeCursor(encodeCursor(createdAt, entryID))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(createdAt) {
		t.Fatalf("timestamp drifted: got %v want %v", decoded.CreatedAt, createdAt)
	}
	if decoded.EntryID != entryID {
		t.Fatalf("entry ID drifted: got %v want %v", decoded.EntryID, entryID)
	}
}
