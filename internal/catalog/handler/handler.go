package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tally/internal/catalog/models"
	"tally/internal/platform/middleware"
	"tally/internal/transport/http/shared"
)

// Service defines the catalog reads the handler needs.
type Service interface {
	ListActive(ctx context.Context) ([]*models.CatalogEntry, error)
}

// Handler serves the pricing surface.
type Handler struct {
	logger  *slog.Logger
	catalog Service
}

// New creates the catalog Handler.
func New(catalog Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, catalog: catalog}
}

// Register mounts the catalog routes.
func (h *Handler) Register(r chi.Router) {
	catalogRouter := chi.NewRouter()
	catalogRouter.Use(middleware.Recovery(h.logger))
	catalogRouter.Use(middleware.RequestID)
	catalogRouter.Use(middleware.Logger(h.logger))
	catalogRouter.Use(middleware.Timeout(10 * time.Second))
	catalogRouter.Get("/", h.handleList)

	r.Mount("/credits/catalog", catalogRouter)
}

type listResponse struct {
	Entries []*models.CatalogEntry `json:"entries"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list catalog",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, listResponse{Entries: entries})
}
