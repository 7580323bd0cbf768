package handler

import (
	"time"

	"tally/internal/ledger/models"
)

// Resolution statuses surfaced by commit/release. AlreadyResolved is benign:
// the reservation reached a terminal state earlier and nothing was
// re-applied.
const (
	StatusCommitted       = "committed"
	StatusReleased        = "released"
	StatusAlreadyResolved = "already_resolved"
)

type ReserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	Cost          int64     `json:"cost"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ResolutionResponse struct {
	Status string `json:"status"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type GrantResponse struct {
	EntryID string `json:"entry_id"`
	Balance int64  `json:"balance"`
}

type HistoryEntry struct {
	EntryID       string    `json:"entry_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryResponse struct {
	Entries    []HistoryEntry `json:"entries"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toHistoryEntry(e *models.LedgerEntry) HistoryEntry {
	out := HistoryEntry{
		EntryID:   e.ID.String(),
		Kind:      string(e.Kind),
		Amount:    e.Amount,
		CreatedAt: e.CreatedAt,
	}
	if e.ReservationID != nil {
		out.ReservationID = e.ReservationID.String()
	}
	return out
}
