package handler

// ReserveRequest asks for a hold before a chargeable document generation.
// TTLSeconds is optional; out-of-range values are clamped server-side.
type ReserveRequest struct {
	PrincipalID    string `json:"principal_id"`
	TenantID       string `json:"tenant_id,omitempty"`
	DocumentType   string `json:"document_type"`
	IdempotencyKey string `json:"idempotency_key"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty"`
}

// ReleaseRequest resolves a reservation without charging.
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// GrantRequest credits a principal; sent by the external billing
// collaborator. Kind defaults to EARN; REFUND is the only other accepted
// value.
type GrantRequest struct {
	PrincipalID    string `json:"principal_id"`
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind,omitempty"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}
