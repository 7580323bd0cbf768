package models

// CatalogEntry prices one document type. Read-mostly: cost changes never
// retroactively affect reservations, which snapshot the cost at creation.
type CatalogEntry struct {
	DocumentType string `json:"document_type"`
	CreditCost   int64  `json:"credit_cost"`
	DisplayName  string `json:"display_name"`
	Category     string `json:"category"`
	IsActive     bool   `json:"is_active"`
}
