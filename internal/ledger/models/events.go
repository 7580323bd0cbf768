package models

import (
	"time"

	id "tally/pkg/domain"
)

// EventType names the async ledger events consumed by downstream
// collaborators (notifications, reporting). Fire-and-forget: the ledger never
// waits on a consumer.
type EventType string

const (
	EventReserved   EventType = "credits.reserved"
	EventCommitted  EventType = "credits.committed"
	EventReleased   EventType = "credits.released"
	EventGranted    EventType = "credits.granted"
	EventLowBalance EventType = "credits.low_balance"
)

// LedgerEvent is the wire shape published to the event stream. TenantID is a
// reporting partition key only.
type LedgerEvent struct {
	Type          EventType         `json:"type"`
	PrincipalID   id.PrincipalID    `json:"principal_id"`
	TenantID      id.TenantID       `json:"tenant_id,omitempty"`
	ReservationID *id.ReservationID `json:"reservation_id,omitempty"`
	DocumentType  string            `json:"document_type,omitempty"`
	Amount        int64             `json:"amount,omitempty"`
	Balance       int64             `json:"balance"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
