// Package models defines the credit ledger's domain types.
//
// The append-only ledger entries are the source of truth; the balance
// projection and reservation rows are derived state maintained transactionally
// alongside them.
package models

import (
	"fmt"
	"time"

	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// EntryKind classifies one balance-affecting event.
type EntryKind string

const (
	EntryEarn    EntryKind = "EARN"
	EntryReserve EntryKind = "RESERVE"
	EntryCommit  EntryKind = "COMMIT"
	EntryRelease EntryKind = "RELEASE"
	EntryRefund  EntryKind = "REFUND"
)

// IsValid reports whether the kind is one of the known entry kinds.
func (k EntryKind) IsValid() bool {
	switch k {
	case EntryEarn, EntryReserve, EntryCommit, EntryRelease, EntryRefund:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of one balance-affecting event.
// Amount is always positive; the kind determines the sign of its effect.
type LedgerEntry struct {
	ID             id.EntryID
	PrincipalID    id.PrincipalID
	Kind           EntryKind
	Amount         int64
	ReservationID  *id.ReservationID
	IdempotencyKey string
	CreatedAt      time.Time
}

// ProjectionDelta is the entry's effect on the live balance projection.
// COMMIT is zero because the preceding RESERVE already removed the funds.
func (e LedgerEntry) ProjectionDelta() int64 {
	switch e.Kind {
	case EntryEarn, EntryRefund, EntryRelease:
		return e.Amount
	case EntryReserve:
		return -e.Amount
	default:
		return 0
	}
}

// ReservationState is the lifecycle state of a hold.
type ReservationState string

const (
	ReservationPending   ReservationState = "PENDING"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// IsTerminal reports whether the state can no longer change.
// EXPIRED is terminal for callers: the reclaimer's release is recorded as
// RELEASED, so EXPIRED is only ever observed transiently.
func (s ReservationState) IsTerminal() bool {
	return s != ReservationPending
}

// Reservation is a temporary hold against a principal's balance. Cost is
// snapshotted from the catalog at creation time and never recomputed.
type Reservation struct {
	ID            id.ReservationID
	PrincipalID   id.PrincipalID
	TenantID      id.TenantID
	DocumentType  string
	Cost          int64
	State         ReservationState
	ReleaseReason string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// ExpiredAt reports whether a PENDING reservation's TTL has elapsed.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.State == ReservationPending && now.After(r.ExpiresAt)
}

// Resolution is the requested terminal transition for a PENDING reservation.
type Resolution string

const (
	ResolutionCommit  Resolution = "COMMIT"
	ResolutionRelease Resolution = "RELEASE"
)

// Outcome is the stored result of an idempotency-keyed request.
type Outcome string

const (
	OutcomeReserved            Outcome = "RESERVED"
	OutcomeInsufficientBalance Outcome = "INSUFFICIENT_BALANCE"
	OutcomeGranted             Outcome = "GRANTED"
)

// IdempotencyRecord pins the first outcome observed for a caller-supplied
// key. Later requests with the same key replay the outcome without
// re-executing. Negative outcomes are recorded too so retries of a failed
// request short-circuit instead of re-reading the balance.
type IdempotencyRecord struct {
	Key           string
	PrincipalID   id.PrincipalID
	Outcome       Outcome
	ReservationID *id.ReservationID
	EntryID       *id.EntryID
	// Shortfall is how many credits were missing when the outcome is
	// INSUFFICIENT_BALANCE, so replays repeat the original message.
	Shortfall int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// InsufficientFundsError carries the numbers a caller needs to top up.
// It unwraps to sentinel.ErrInsufficientFunds so services can classify it
// without a type assertion.
type InsufficientFundsError struct {
	Balance int64
	Cost    int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, cost %d", e.Balance, e.Cost)
}

func (e *InsufficientFundsError) Unwrap() error { return sentinel.ErrInsufficientFunds }

// Shortfall is the number of credits missing to cover the cost.
func (e *InsufficientFundsError) Shortfall() int64 { return e.Cost - e.Balance }
