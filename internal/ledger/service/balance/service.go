// Package balance is the read side of the ledger. It never participates in
// the reserve/commit/release transactions; the projection it reads is updated
// synchronously inside them, so reads are always consistent with commits.
package balance

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service answers balance and history queries.
type Service struct {
	store ports.Store
}

// New constructs the read-only balance service.
func New(store ports.Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	return &Service{store: store}, nil
}

// GetBalance returns the principal's live balance, holds included. Unknown
// principals read as zero, not as an error: a principal exists the moment
// someone asks about it.
func (s *Service) GetBalance(ctx context.Context, principalID id.PrincipalID) (int64, error) {
	if principalID.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "principal_id is required")
	}
	balance, err := s.store.Balance(ctx, principalID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}
	return balance, nil
}

// GetHistory returns a page of ledger entries, newest first. The returned
// cursor restarts the walk exactly where the page ended; an empty cursor
// means the walk is complete.
func (s *Service) GetHistory(ctx context.Context, principalID id.PrincipalID, cursor string, limit int) ([]*models.LedgerEntry, string, error) {
	if principalID.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeValidation, "principal_id is required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var pos *ports.HistoryCursor
	if cursor != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid cursor")
		}
		pos = decoded
	}

	entries, err := s.store.History(ctx, principalID, pos, limit)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read history")
	}

	next := ""
	if len(entries) == limit {
		last := entries[len(entries)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return entries, next, nil
}

// Cursor format: base64("<unix-nanos>|<entry-uuid>"). Opaque to clients;
// nothing about it is load-bearing beyond round-tripping.
func encodeCursor(createdAt time.Time, entryID id.EntryID) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + entryID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*ports.HistoryCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}
	entryUUID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, err
	}
	return &ports.HistoryCursor{
		CreatedAt: time.Unix(0, nanos),
		EntryID:   id.EntryID(entryUUID),
	}, nil
}
