package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// MemoryStore is the in-process Store used by tests and local development.
// One mutex guards everything: each exported operation is atomic, mirroring
// the single-transaction guarantee of the PostgreSQL store.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[id.PrincipalID][]*models.LedgerEntry
	balances     map[id.PrincipalID]int64
	reservations map[id.ReservationID]*models.Reservation
	idempotency  map[string]*models.IdempotencyRecord
}

// NewMemory constructs an empty in-memory ledger store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries:      make(map[id.PrincipalID][]*models.LedgerEntry),
		balances:     make(map[id.PrincipalID]int64),
		reservations: make(map[id.ReservationID]*models.Reservation),
		idempotency:  make(map[string]*models.IdempotencyRecord),
	}
}

func (s *MemoryStore) Reserve(_ context.Context, p ports.ReserveParams) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[p.IdempotencyKey]; ok && p.Now.Before(rec.ExpiresAt) {
		return nil, sentinel.ErrConflict
	}

	res := p.Reservation
	balance := s.balances[res.PrincipalID]
	if balance < res.Cost {
		// Record the negative outcome so retries short-circuit without
		// touching the ledger.
		s.idempotency[p.IdempotencyKey] = &models.IdempotencyRecord{
			Key:         p.IdempotencyKey,
			PrincipalID: res.PrincipalID,
			Outcome:     models.OutcomeInsufficientBalance,
			Shortfall:   res.Cost - balance,
			CreatedAt:   p.Now,
			ExpiresAt:   p.RecordExpires,
		}
		return nil, &models.InsufficientFundsError{Balance: balance, Cost: res.Cost}
	}

	res.State = models.ReservationPending
	s.appendEntryLocked(&models.LedgerEntry{
		ID:             id.NewEntryID(),
		PrincipalID:    res.PrincipalID,
		Kind:           models.EntryReserve,
		Amount:         res.Cost,
		ReservationID:  &res.ID,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.Now,
	})
	s.balances[res.PrincipalID] = balance - res.Cost
	s.reservations[res.ID] = &res
	s.idempotency[p.IdempotencyKey] = &models.IdempotencyRecord{
		Key:           p.IdempotencyKey,
		PrincipalID:   res.PrincipalID,
		Outcome:       models.OutcomeReserved,
		ReservationID: &res.ID,
		CreatedAt:     p.Now,
		ExpiresAt:     p.RecordExpires,
	}

	out := res
	return &out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, reservationID id.ReservationID, res models.Resolution, reason string, now time.Time) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if r.State != models.ReservationPending {
		return nil, sentinel.ErrAlreadyResolved
	}

	switch res {
	case models.ResolutionCommit:
		// No balance delta: the RESERVE hold already removed the funds.
		s.appendEntryLocked(&models.LedgerEntry{
			ID:            id.NewEntryID(),
			PrincipalID:   r.PrincipalID,
			Kind:          models.EntryCommit,
			Amount:        r.Cost,
			ReservationID: &r.ID,
			CreatedAt:     now,
		})
		r.State = models.ReservationCommitted
	case models.ResolutionRelease:
		s.appendEntryLocked(&models.LedgerEntry{
			ID:            id.NewEntryID(),
			PrincipalID:   r.PrincipalID,
			Kind:          models.EntryRelease,
			Amount:        r.Cost,
			ReservationID: &r.ID,
			CreatedAt:     now,
		})
		s.balances[r.PrincipalID] += r.Cost
		r.State = models.ReservationReleased
		r.ReleaseReason = reason
	default:
		return nil, sentinel.ErrNotFound
	}

	out := *r
	return &out, nil
}

func (s *MemoryStore) Grant(_ context.Context, p ports.GrantParams) (*models.LedgerEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[p.IdempotencyKey]; ok && p.Now.Before(rec.ExpiresAt) {
		return nil, 0, sentinel.ErrConflict
	}

	entry := &models.LedgerEntry{
		ID:             id.NewEntryID(),
		PrincipalID:    p.PrincipalID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.Now,
	}
	s.appendEntryLocked(entry)
	s.balances[p.PrincipalID] += p.Amount

	entryID := entry.ID
	s.idempotency[p.IdempotencyKey] = &models.IdempotencyRecord{
		Key:         p.IdempotencyKey,
		PrincipalID: p.PrincipalID,
		Outcome:     models.OutcomeGranted,
		EntryID:     &entryID,
		CreatedAt:   p.Now,
		ExpiresAt:   p.RecordExpires,
	}

	out := *entry
	return &out, s.balances[p.PrincipalID], nil
}

func (s *MemoryStore) FindIdempotencyRecord(_ context.Context, key string, now time.Time) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok || !now.Before(rec.ExpiresAt) {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) FindReservation(_ context.Context, reservationID id.ReservationID) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) Balance(_ context.Context, principalID id.PrincipalID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[principalID], nil
}

func (s *MemoryStore) History(_ context.Context, principalID id.PrincipalID, cursor *ports.HistoryCursor, limit int) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.LedgerEntry, len(s.entries[principalID]))
	copy(all, s.entries[principalID])
	// Same ordering key as the PostgreSQL store: (created_at, id) descending.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		a, b := all[i].ID, all[j].ID
		return bytes.Compare(a[:], b[:]) > 0
	})

	page := make([]*models.LedgerEntry, 0, limit)
	for _, e := range all {
		if cursor != nil && !olderThan(e, cursor) {
			continue
		}
		out := *e
		page = append(page, &out)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *MemoryStore) ExpiredPending(_ context.Context, now time.Time, limit int) ([]id.ReservationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]*models.Reservation, 0)
	for _, r := range s.reservations {
		if r.ExpiredAt(now) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]id.ReservationID, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *MemoryStore) PurgeIdempotencyRecords(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.idempotency {
		if !now.Before(rec.ExpiresAt) {
			delete(s.idempotency, key)
			removed++
		}
	}
	return removed, nil
}

// appendEntryLocked appends preserving insertion order per principal; entries
// are created with monotonically non-decreasing timestamps within a principal
// because every write happens under the store mutex.
func (s *MemoryStore) appendEntryLocked(e *models.LedgerEntry) {
	s.entries[e.PrincipalID] = append(s.entries[e.PrincipalID], e)
}

// olderThan reports whether e sorts strictly after the cursor in descending
// (created_at, entry_id) order, i.e. belongs to the next page.
func olderThan(e *models.LedgerEntry, c *ports.HistoryCursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	if e.CreatedAt.Equal(c.CreatedAt) {
		a, b := e.ID, c.EntryID
		return bytes.Compare(a[:], b[:]) < 0
	}
	return false
}
