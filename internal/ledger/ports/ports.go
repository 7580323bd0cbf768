// Package ports declares the interfaces the ledger services depend on.
// Stores own locking and atomicity; services orchestrate, validate, and
// translate errors.
package ports

import (
	"context"
	"log/slog"
	"time"

	"tally/internal/ledger/models"
	id "tally/pkg/domain"
)

// ReserveParams is one atomic spend authorization. The store must apply all
// of it in a single transaction: insert the idempotency record, lock the
// balance row, verify funds, append the RESERVE entry, create the PENDING
// reservation, and decrement the projection. No interleaving request may
// observe a balance that omits the hold.
type ReserveParams struct {
	Reservation    models.Reservation
	IdempotencyKey string
	RecordExpires  time.Time
	Now            time.Time
}

// GrantParams credits a principal from the external billing collaborator.
// Kind is EARN for top-ups and REFUND for compensations; both increase the
// projection.
type GrantParams struct {
	PrincipalID    id.PrincipalID
	Kind           models.EntryKind
	Amount         int64
	IdempotencyKey string
	RecordExpires  time.Time
	Now            time.Time
}

// HistoryCursor points just past the last entry of the previous page.
// Ordering is descending (created_at, entry_id).
type HistoryCursor struct {
	CreatedAt time.Time
	EntryID   id.EntryID
}

// Store is the sole owner of ledger persistence. Every mutating method is
// atomic: it either fully applies or leaves no trace. Implementations return
// pkg/platform/sentinel errors for factual failures:
//   - Reserve: sentinel.ErrConflict when the idempotency key already exists;
//     *models.InsufficientFundsError (unwraps to sentinel.ErrInsufficientFunds)
//     when the balance cannot cover the cost, after recording the negative
//     outcome under the key.
//   - Resolve: sentinel.ErrNotFound for unknown reservations,
//     sentinel.ErrAlreadyResolved when the reservation already left PENDING.
//   - Grant: sentinel.ErrConflict on idempotency key reuse.
type Store interface {
	Reserve(ctx context.Context, p ReserveParams) (*models.Reservation, error)
	Resolve(ctx context.Context, reservationID id.ReservationID, res models.Resolution, reason string, now time.Time) (*models.Reservation, error)
	Grant(ctx context.Context, p GrantParams) (*models.LedgerEntry, int64, error)

	FindIdempotencyRecord(ctx context.Context, key string, now time.Time) (*models.IdempotencyRecord, error)
	FindReservation(ctx context.Context, reservationID id.ReservationID) (*models.Reservation, error)
	Balance(ctx context.Context, principalID id.PrincipalID) (int64, error)
	History(ctx context.Context, principalID id.PrincipalID, cursor *HistoryCursor, limit int) ([]*models.LedgerEntry, error)

	// ExpiredPending lists PENDING reservations whose TTL elapsed, oldest
	// first, for the reclaimer to release.
	ExpiredPending(ctx context.Context, now time.Time, limit int) ([]id.ReservationID, error)
	// PurgeIdempotencyRecords drops records past their retention window and
	// returns how many were removed.
	PurgeIdempotencyRecords(ctx context.Context, now time.Time) (int, error)
}

// CostCatalog prices a chargeable document type. Returns
// sentinel.ErrNotFound for unknown or inactive types.
type CostCatalog interface {
	GetCost(ctx context.Context, documentType string) (int64, error)
}

// EventPublisher fans ledger events out to async consumers. Implementations
// must not block request handling; delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LedgerEvent)
}

// PublishEvent is the nil-safe emission helper services use. A missing
// publisher degrades to a log line so local setups need no broker.
func PublishEvent(ctx context.Context, logger *slog.Logger, pub EventPublisher, event models.LedgerEvent) {
	if pub != nil {
		pub.Publish(ctx, event)
		return
	}
	if logger != nil {
		logger.DebugContext(ctx, "ledger event (no publisher configured)",
			"type", string(event.Type),
			"principal_id", event.PrincipalID.String(),
		)
	}
}
