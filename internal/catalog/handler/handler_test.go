package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"tally/internal/catalog/models"
	"tally/internal/catalog/service"
	"tally/internal/catalog/store"
)

func TestListCatalog(t *testing.T) {
	seeded := store.NewMemorySeeded(
		&models.CatalogEntry{DocumentType: "invoice", CreditCost: 3, DisplayName: "Invoice", Category: "billing", IsActive: true},
		&models.CatalogEntry{DocumentType: "fax-cover", CreditCost: 1, DisplayName: "Fax Cover Sheet", Category: "legacy", IsActive: false},
	)
	svc, err := service.New(seeded)
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}

	router := chi.NewRouter()
	New(svc, slog.New(slog.DiscardHandler)).Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credits/catalog", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Entries []*models.CatalogEntry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected only the active entry, got %d entries", len(resp.Entries))
	}
	if resp.Entries[0].DocumentType != "invoice" {
		t.Fatalf("expected invoice, got %q", resp.Entries[0].DocumentType)
	}
}
