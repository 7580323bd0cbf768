package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) grant(principalID id.PrincipalID, amount int64, key string) {
	_, _, err := s.store.Grant(s.ctx, ports.GrantParams{
		PrincipalID:    principalID,
		Kind:           models.EntryEarn,
		Amount:         amount,
		IdempotencyKey: key,
		RecordExpires:  s.now.Add(24 * time.Hour),
		Now:            s.now,
	})
	s.Require().NoError(err)
}

func (s *MemoryStoreSuite) reserveParams(principalID id.PrincipalID, cost int64, key string) ports.ReserveParams {
	return ports.ReserveParams{
		Reservation: models.Reservation{
			ID:           id.NewReservationID(),
			PrincipalID:  principalID,
			DocumentType: "invoice",
			Cost:         cost,
			CreatedAt:    s.now,
			ExpiresAt:    s.now.Add(2 * time.Minute),
		},
		IdempotencyKey: key,
		RecordExpires:  s.now.Add(24 * time.Hour),
		Now:            s.now,
	}
}

func (s *MemoryStoreSuite) TestReserve() {
	s.Run("decrements the projection and records the hold", func() {
		principalID := id.PrincipalID(uuid.New())
		s.grant(principalID, 100, "grant-1")

		res, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 30, "reserve-1"))
		s.Require().NoError(err)
		s.Equal(models.ReservationPending, res.State)
		s.Equal(int64(30), res.Cost)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(70), balance)
	})

	s.Run("insufficient funds leaves balance untouched and records the outcome", func() {
		principalID := id.PrincipalID(uuid.New())
		s.grant(principalID, 10, "grant-2")

		_, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 25, "reserve-2"))
		s.Require().Error(err)
		s.ErrorIs(err, sentinel.ErrInsufficientFunds)

		var insufficient *models.InsufficientFundsError
		s.Require().ErrorAs(err, &insufficient)
		s.Equal(int64(15), insufficient.Shortfall())

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(10), balance)

		rec, err := s.store.FindIdempotencyRecord(s.ctx, "reserve-2", s.now)
		s.Require().NoError(err)
		s.Require().NotNil(rec)
		s.Equal(models.OutcomeInsufficientBalance, rec.Outcome)
		s.Equal(int64(15), rec.Shortfall)
	})

	s.Run("duplicate key returns conflict without a second hold", func() {
		principalID := id.PrincipalID(uuid.New())
		s.grant(principalID, 100, "grant-3")

		_, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 30, "reserve-3"))
		s.Require().NoError(err)

		_, err = s.store.Reserve(s.ctx, s.reserveParams(principalID, 30, "reserve-3"))
		s.ErrorIs(err, sentinel.ErrConflict)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(70), balance)
	})

	s.Run("expired idempotency record no longer blocks the key", func() {
		principalID := id.PrincipalID(uuid.New())
		s.grant(principalID, 100, "grant-4")

		p := s.reserveParams(principalID, 30, "reserve-4")
		p.RecordExpires = s.now.Add(time.Hour)
		_, err := s.store.Reserve(s.ctx, p)
		s.Require().NoError(err)

		later := s.reserveParams(principalID, 30, "reserve-4")
		later.Now = s.now.Add(2 * time.Hour)
		_, err = s.store.Reserve(s.ctx, later)
		s.NoError(err)
	})
}

func (s *MemoryStoreSuite) TestResolve() {
	principalID := id.PrincipalID(uuid.New())
	s.grant(principalID, 100, "grant-resolve")

	s.Run("commit keeps the funds removed", func() {
		res, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 30, "resolve-commit"))
		s.Require().NoError(err)

		resolved, err := s.store.Resolve(s.ctx, res.ID, models.ResolutionCommit, "", s.now)
		s.Require().NoError(err)
		s.Equal(models.ReservationCommitted, resolved.State)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(70), balance)
	})

	s.Run("release restores the funds", func() {
		res, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 30, "resolve-release"))
		s.Require().NoError(err)

		resolved, err := s.store.Resolve(s.ctx, res.ID, models.ResolutionRelease, "caller gave up", s.now)
		s.Require().NoError(err)
		s.Equal(models.ReservationReleased, resolved.State)
		s.Equal("caller gave up", resolved.ReleaseReason)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(70), balance)
	})

	s.Run("second resolve reports already resolved", func() {
		res, err := s.store.Reserve(s.ctx, s.reserveParams(principalID, 10, "resolve-twice"))
		s.Require().NoError(err)

		_, err = s.store.Resolve(s.ctx, res.ID, models.ResolutionCommit, "", s.now)
		s.Require().NoError(err)

		_, err = s.store.Resolve(s.ctx, res.ID, models.ResolutionRelease, "", s.now)
		s.ErrorIs(err, sentinel.ErrAlreadyResolved)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(60), balance)
	})

	s.Run("unknown reservation returns not found", func() {
		_, err := s.store.Resolve(s.ctx, id.NewReservationID(), models.ResolutionCommit, "", s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestGrant() {
	principalID := id.PrincipalID(uuid.New())

	s.Run("credits the balance and records the entry", func() {
		entry, balance, err := s.store.Grant(s.ctx, ports.GrantParams{
			PrincipalID:    principalID,
			Kind:           models.EntryEarn,
			Amount:         50,
			IdempotencyKey: "grant-a",
			RecordExpires:  s.now.Add(24 * time.Hour),
			Now:            s.now,
		})
		s.Require().NoError(err)
		s.Equal(int64(50), balance)
		s.Equal(models.EntryEarn, entry.Kind)

		rec, err := s.store.FindIdempotencyRecord(s.ctx, "grant-a", s.now)
		s.Require().NoError(err)
		s.Require().NotNil(rec)
		s.Equal(models.OutcomeGranted, rec.Outcome)
		s.Require().NotNil(rec.EntryID)
		s.Equal(entry.ID, *rec.EntryID)
	})

	s.Run("duplicate key returns conflict", func() {
		_, _, err := s.store.Grant(s.ctx, ports.GrantParams{
			PrincipalID:    principalID,
			Kind:           models.EntryEarn,
			Amount:         50,
			IdempotencyKey: "grant-a",
			RecordExpires:  s.now.Add(24 * time.Hour),
			Now:            s.now,
		})
		s.ErrorIs(err, sentinel.ErrConflict)

		balance, err := s.store.Balance(s.ctx, principalID)
		s.Require().NoError(err)
		s.Equal(int64(50), balance)
	})
}

func (s *MemoryStoreSuite) TestHistory() {
	principalID := id.PrincipalID(uuid.New())
	for i := range 5 {
		_, _, err := s.store.Grant(s.ctx, ports.GrantParams{
			PrincipalID:    principalID,
			Kind:           models.EntryEarn,
			Amount:         int64(i + 1),
			IdempotencyKey: "history-" + string(rune('a'+i)),
			RecordExpires:  s.now.Add(24 * time.Hour),
			Now:            s.now.Add(time.Duration(i) * time.Second),
		})
		s.Require().NoError(err)
	}

	s.Run("newest first", func() {
		entries, err := s.store.History(s.ctx, principalID, nil, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 5)
		s.Equal(int64(5), entries[0].Amount)
		s.Equal(int64(1), entries[4].Amount)
	})

	s.Run("cursor continues without gaps or repeats", func() {
		first, err := s.store.History(s.ctx, principalID, nil, 2)
		s.Require().NoError(err)
		s.Require().Len(first, 2)

		last := first[1]
		rest, err := s.store.History(s.ctx, principalID, &ports.HistoryCursor{
			CreatedAt: last.CreatedAt,
			EntryID:   last.ID,
		}, 10)
		s.Require().NoError(err)
		s.Require().Len(rest, 3)

		seen := map[id.EntryID]bool{}
		for _, e := range append(first, rest...) {
			s.False(seen[e.ID], "entry returned twice")
			seen[e.ID] = true
		}
	})

	s.Run("unknown principal returns empty page", func() {
		entries, err := s.store.History(s.ctx, id.PrincipalID(uuid.New()), nil, 10)
		s.Require().NoError(err)
		s.Empty(entries)
	})
}

func (s *MemoryStoreSuite) TestExpiredPending() {
	principalID := id.PrincipalID(uuid.New())
	s.grant(principalID, 100, "grant-expiry")

	expired := s.reserveParams(principalID, 10, "expiry-old")
	expired.Reservation.ExpiresAt = s.now.Add(time.Minute)
	_, err := s.store.Reserve(s.ctx, expired)
	s.Require().NoError(err)

	fresh := s.reserveParams(principalID, 10, "expiry-fresh")
	fresh.Reservation.ExpiresAt = s.now.Add(time.Hour)
	_, err = s.store.Reserve(s.ctx, fresh)
	s.Require().NoError(err)

	ids, err := s.store.ExpiredPending(s.ctx, s.now.Add(5*time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Equal(expired.Reservation.ID, ids[0])
}

func (s *MemoryStoreSuite) TestPurgeIdempotencyRecords() {
	principalID := id.PrincipalID(uuid.New())

	_, _, err := s.store.Grant(s.ctx, ports.GrantParams{
		PrincipalID:    principalID,
		Kind:           models.EntryEarn,
		Amount:         10,
		IdempotencyKey: "purge-me",
		RecordExpires:  s.now.Add(time.Hour),
		Now:            s.now,
	})
	s.Require().NoError(err)

	removed, err := s.store.PurgeIdempotencyRecords(s.ctx, s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, removed)

	rec, err := s.store.FindIdempotencyRecord(s.ctx, "purge-me", s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Nil(rec)
}

// TestConcurrentReserves hammers one balance with more holds than it can
// cover; exactly balance/cost of them may win.
func TestConcurrentReserves(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now()
	principalID := id.PrincipalID(uuid.New())

	_, _, err := store.Grant(ctx, ports.GrantParams{
		PrincipalID:    principalID,
		Kind:           models.EntryEarn,
		Amount:         10,
		IdempotencyKey: "seed",
		RecordExpires:  now.Add(time.Hour),
		Now:            now,
	})
	if err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Reserve(ctx, ports.ReserveParams{
				Reservation: models.Reservation{
					ID:           id.NewReservationID(),
					PrincipalID:  principalID,
					DocumentType: "invoice",
					Cost:         1,
					CreatedAt:    now,
					ExpiresAt:    now.Add(time.Minute),
				},
				IdempotencyKey: "concurrent-" + string(rune('0'+n/10)) + string(rune('0'+n%10)),
				RecordExpires:  now.Add(time.Hour),
				Now:            now,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, sentinel.ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := succeeded.Load(); got != 10 {
		t.Fatalf("expected exactly 10 successful holds, got %d", got)
	}
	if got := rejected.Load(); got != 90 {
		t.Fatalf("expected 90 insufficient-funds rejections, got %d", got)
	}
	balance, err := store.Balance(ctx, principalID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0 after exhausting holds, got %d", balance)
	}
}
