// Package domain defines typed identifiers shared across the service.
//
// Every identifier is a distinct UUID-backed type so that a principal ID can
// never be passed where a reservation ID is expected. Parsing happens once at
// the trust boundary; everything past the handlers works with typed IDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "tally/pkg/domain-errors"
)

type (
	// PrincipalID identifies a credit holder. Opaque to the ledger: it is
	// minted and authenticated by the upstream identity collaborator.
	PrincipalID uuid.UUID

	// TenantID partitions principals for reporting. Never used in balance math.
	TenantID uuid.UUID

	// ReservationID identifies a hold against a principal's balance.
	ReservationID uuid.UUID

	// EntryID identifies one immutable ledger entry.
	EntryID uuid.UUID
)

func (id PrincipalID) String() string   { return uuid.UUID(id).String() }
func (id TenantID) String() string      { return uuid.UUID(id).String() }
func (id ReservationID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string       { return uuid.UUID(id).String() }

func (id PrincipalID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ReservationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// Typed IDs serialize as their canonical UUID string. Defined types do not
// inherit uuid.UUID's methods, so each implements encoding.TextMarshaler
// explicitly.
func (id PrincipalID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id TenantID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ReservationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EntryID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }

func (id *PrincipalID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PrincipalID(u)
	return nil
}

func (id *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TenantID(u)
	return nil
}

func (id *ReservationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ReservationID(u)
	return nil
}

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EntryID(u)
	return nil
}

// NewReservationID mints a fresh reservation identifier.
func NewReservationID() ReservationID { return ReservationID(uuid.New()) }

// NewEntryID mints a fresh ledger entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// ParsePrincipalID parses and validates a principal ID from its string form.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID(s, "principal_id")
	return PrincipalID(u), err
}

// ParseTenantID parses and validates a tenant ID from its string form.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	return TenantID(u), err
}

// ParseReservationID parses and validates a reservation ID from its string form.
func ParseReservationID(s string) (ReservationID, error) {
	u, err := parseUUID(s, "reservation_id")
	return ReservationID(u), err
}

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}
