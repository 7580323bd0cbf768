package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tally/internal/ledger/models"
	"tally/internal/platform/metrics"
	"tally/internal/platform/middleware"
	"tally/internal/transport/http/shared"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// ReservationService defines the write-side operations the handler needs.
type ReservationService interface {
	Reserve(ctx context.Context, principalID id.PrincipalID, tenantID id.TenantID, documentType, idempotencyKey string, ttl time.Duration) (*models.Reservation, error)
	Commit(ctx context.Context, reservationID id.ReservationID) (alreadyResolved bool, err error)
	Release(ctx context.Context, reservationID id.ReservationID, reason string) (alreadyResolved bool, err error)
	Grant(ctx context.Context, principalID id.PrincipalID, amount int64, kind models.EntryKind, reason, idempotencyKey string) (id.EntryID, int64, error)
}

// BalanceService defines the read-side operations.
type BalanceService interface {
	GetBalance(ctx context.Context, principalID id.PrincipalID) (int64, error)
	GetHistory(ctx context.Context, principalID id.PrincipalID, cursor string, limit int) ([]*models.LedgerEntry, string, error)
}

// Handler serves the /credits endpoints.
type Handler struct {
	logger       *slog.Logger
	reservations ReservationService
	balances     BalanceService
	metrics      *metrics.Metrics
}

// New creates the credits Handler.
func New(reservations ReservationService, balances BalanceService, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:       logger,
		reservations: reservations,
		balances:     balances,
		metrics:      m,
	}
}

// Register mounts the credits routes with the shared middleware chain.
func (h *Handler) Register(r chi.Router) {
	creditsRouter := chi.NewRouter()
	creditsRouter.Use(middleware.Recovery(h.logger))
	creditsRouter.Use(middleware.RequestID)
	creditsRouter.Use(middleware.Logger(h.logger))
	creditsRouter.Use(middleware.Timeout(30 * time.Second))
	creditsRouter.Use(middleware.ContentTypeJSON)
	if h.metrics != nil {
		creditsRouter.Use(metrics.Latency(h.metrics))
	}

	creditsRouter.Post("/credits/reserve", h.handleReserve)
	creditsRouter.Post("/credits/reservations/{id}/commit", h.handleCommit)
	creditsRouter.Post("/credits/reservations/{id}/release", h.handleRelease)
	creditsRouter.Post("/credits/grant", h.handleGrant)
	creditsRouter.Get("/credits/balance", h.handleBalance)
	creditsRouter.Get("/credits/history", h.handleHistory)

	r.Mount("/", creditsRouter)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	principalID, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var tenantID id.TenantID
	if req.TenantID != "" {
		tenantID, err = id.ParseTenantID(req.TenantID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
	}

	res, err := h.reservations.Reserve(ctx, principalID, tenantID,
		req.DocumentType, req.IdempotencyKey, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.logOutcome(ctx, "reserve rejected", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, ReserveResponse{
		ReservationID: res.ID.String(),
		Cost:          res.Cost,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	reservationID, err := id.ParseReservationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	alreadyResolved, err := h.reservations.Commit(r.Context(), reservationID)
	if err != nil {
		h.logOutcome(r.Context(), "commit rejected", err)
		shared.WriteError(w, err)
		return
	}

	status := StatusCommitted
	if alreadyResolved {
		status = StatusAlreadyResolved
	}
	shared.WriteJSON(w, http.StatusOK, ResolutionResponse{Status: status})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	reservationID, err := id.ParseReservationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req ReleaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	alreadyResolved, err := h.reservations.Release(r.Context(), reservationID, req.Reason)
	if err != nil {
		h.logOutcome(r.Context(), "release rejected", err)
		shared.WriteError(w, err)
		return
	}

	status := StatusReleased
	if alreadyResolved {
		status = StatusAlreadyResolved
	}
	shared.WriteJSON(w, http.StatusOK, ResolutionResponse{Status: status})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	principalID, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	kind := models.EntryEarn
	if req.Kind != "" {
		kind = models.EntryKind(req.Kind)
	}

	entryID, balance, err := h.reservations.Grant(r.Context(), principalID,
		req.Amount, kind, req.Reason, req.IdempotencyKey)
	if err != nil {
		h.logOutcome(r.Context(), "grant rejected", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, GrantResponse{
		EntryID: entryID.String(),
		Balance: balance,
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	principalID, err := id.ParsePrincipalID(r.URL.Query().Get("principal_id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), principalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principalID, err := id.ParsePrincipalID(q.Get("principal_id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
	}

	entries, next, err := h.balances.GetHistory(r.Context(), principalID, q.Get("cursor"), limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := HistoryResponse{
		Entries:    make([]HistoryEntry, 0, len(entries)),
		NextCursor: next,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toHistoryEntry(e))
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

// logOutcome logs rejected operations at the right level: business outcomes
// are expected traffic, faults are not.
func (h *Handler) logOutcome(ctx context.Context, msg string, err error) {
	requestID := middleware.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
	default:
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
	}
}
