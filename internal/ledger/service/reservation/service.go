// Package reservation implements the spend-authorization protocol: a hold is
// taken before the chargeable action runs, and resolved to a commit or a
// release once the outcome is known. The store provides atomicity; this
// service provides validation, idempotent replay, and error translation.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ledgermetrics "tally/internal/ledger/metrics"
	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
	"tally/pkg/platform/sentinel"
	"tally/pkg/requestcontext"
)

const defaultReleaseReason = "released"

// Service is the only writer of spend operations.
type Service struct {
	store   ports.Store
	catalog ports.CostCatalog
	events  ports.EventPublisher
	logger  *slog.Logger
	metrics *ledgermetrics.Metrics

	defaultTTL time.Duration
	minTTL     time.Duration
	maxTTL     time.Duration
	retention  time.Duration

	// lowBalanceThreshold fires a low_balance event when a successful hold
	// leaves the projection at or below it. Zero disables the event.
	lowBalanceThreshold int64
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(s *Service) { s.events = pub }
}

// WithTTLBounds overrides the reservation TTL clamp range.
func WithTTLBounds(def, min, max time.Duration) Option {
	return func(s *Service) {
		s.defaultTTL = def
		s.minTTL = min
		s.maxTTL = max
	}
}

// WithIdempotencyRetention overrides how long stored outcomes keep answering
// replays.
func WithIdempotencyRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

func WithLowBalanceThreshold(n int64) Option {
	return func(s *Service) { s.lowBalanceThreshold = n }
}

// New constructs the reservation manager.
func New(store ports.Store, catalog ports.CostCatalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("cost catalog is required")
	}

	svc := &Service{
		store:      store,
		catalog:    catalog,
		logger:     slog.Default(),
		defaultTTL: 2 * time.Minute,
		minTTL:     30 * time.Second,
		maxTTL:     5 * time.Minute,
		retention:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Reserve places a hold of the document type's catalog cost against the
// principal's balance. Retries carrying the same idempotency key replay the
// first outcome verbatim, positive or negative, without re-executing.
func (s *Service) Reserve(ctx context.Context, principalID id.PrincipalID, tenantID id.TenantID, documentType, idempotencyKey string, ttl time.Duration) (*models.Reservation, error) {
	if principalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "principal_id is required")
	}
	if documentType == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "document_type is required")
	}
	if idempotencyKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}

	now := requestcontext.Now(ctx)

	if rec, err := s.store.FindIdempotencyRecord(ctx, idempotencyKey, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check idempotency key")
	} else if rec != nil {
		return s.replayReserve(ctx, rec, principalID)
	}

	cost, err := s.catalog.GetCost(ctx, documentType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown document type %q", documentType)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to price document type")
	}

	res, err := s.store.Reserve(ctx, ports.ReserveParams{
		Reservation: models.Reservation{
			ID:           id.NewReservationID(),
			PrincipalID:  principalID,
			TenantID:     tenantID,
			DocumentType: documentType,
			Cost:         cost,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.clampTTL(ttl)),
		},
		IdempotencyKey: idempotencyKey,
		RecordExpires:  now.Add(s.retention),
		Now:            now,
	})
	if err != nil {
		var insufficient *models.InsufficientFundsError
		switch {
		case errors.As(err, &insufficient):
			s.incInsufficientBalance()
			return nil, dErrors.Newf(dErrors.CodeInsufficientFunds,
				"need %d more credits", insufficient.Shortfall())
		case errors.Is(err, sentinel.ErrConflict):
			// Lost the insert race: the winner's committed record holds the
			// outcome to replay.
			rec, ferr := s.store.FindIdempotencyRecord(ctx, idempotencyKey, now)
			if ferr != nil || rec == nil {
				return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "concurrent request in flight, retry")
			}
			return s.replayReserve(ctx, rec, principalID)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve credits")
		}
	}

	s.incReservationsCreated()
	s.logger.InfoContext(ctx, "reservation created",
		"request_id", requestcontext.RequestID(ctx),
		"reservation_id", res.ID.String(),
		"principal_id", principalID.String(),
		"document_type", documentType,
		"cost", cost,
	)
	s.publishReserveEvents(ctx, res)
	return res, nil
}

// replayReserve answers a retried request from the stored outcome. A key
// minted by one principal can never be reused by another, and a key bound to
// a grant cannot answer a reserve.
func (s *Service) replayReserve(ctx context.Context, rec *models.IdempotencyRecord, principalID id.PrincipalID) (*models.Reservation, error) {
	if rec.PrincipalID != principalID {
		return nil, dErrors.New(dErrors.CodeConflict, "idempotency key already used by a different principal")
	}

	switch rec.Outcome {
	case models.OutcomeReserved:
		res, err := s.store.FindReservation(ctx, *rec.ReservationID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prior reservation")
		}
		s.incIdempotentReplays()
		return res, nil
	case models.OutcomeInsufficientBalance:
		s.incIdempotentReplays()
		return nil, dErrors.Newf(dErrors.CodeInsufficientFunds, "need %d more credits", rec.Shortfall)
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "idempotency key already used by a different operation")
	}
}

// Commit permanently debits a PENDING reservation. Repeat commits (and
// commits after a release or expiry) report alreadyResolved instead of
// erroring, so callers can retry blindly without double-applying.
func (s *Service) Commit(ctx context.Context, reservationID id.ReservationID) (alreadyResolved bool, err error) {
	if reservationID.IsNil() {
		return false, dErrors.New(dErrors.CodeValidation, "reservation_id is required")
	}

	now := requestcontext.Now(ctx)
	res, err := s.store.Resolve(ctx, reservationID, models.ResolutionCommit, "", now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return false, dErrors.New(dErrors.CodeNotFound, "reservation not found")
		case errors.Is(err, sentinel.ErrAlreadyResolved):
			return true, nil
		default:
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit reservation")
		}
	}

	s.incReservationsCommitted()
	s.logger.InfoContext(ctx, "reservation committed",
		"request_id", requestcontext.RequestID(ctx),
		"reservation_id", reservationID.String(),
		"principal_id", res.PrincipalID.String(),
	)
	ports.PublishEvent(ctx, s.logger, s.events, models.LedgerEvent{
		Type:          models.EventCommitted,
		PrincipalID:   res.PrincipalID,
		TenantID:      res.TenantID,
		ReservationID: &res.ID,
		DocumentType:  res.DocumentType,
		Amount:        res.Cost,
		OccurredAt:    now,
	})
	return false, nil
}

// Release returns a PENDING reservation's hold to the balance. Idempotent the
// same way Commit is.
func (s *Service) Release(ctx context.Context, reservationID id.ReservationID, reason string) (alreadyResolved bool, err error) {
	if reservationID.IsNil() {
		return false, dErrors.New(dErrors.CodeValidation, "reservation_id is required")
	}
	if reason == "" {
		reason = defaultReleaseReason
	}

	now := requestcontext.Now(ctx)
	res, err := s.store.Resolve(ctx, reservationID, models.ResolutionRelease, reason, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return false, dErrors.New(dErrors.CodeNotFound, "reservation not found")
		case errors.Is(err, sentinel.ErrAlreadyResolved):
			return true, nil
		default:
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to release reservation")
		}
	}

	s.incReservationsReleased()
	s.logger.InfoContext(ctx, "reservation released",
		"request_id", requestcontext.RequestID(ctx),
		"reservation_id", reservationID.String(),
		"principal_id", res.PrincipalID.String(),
		"reason", reason,
	)
	ports.PublishEvent(ctx, s.logger, s.events, models.LedgerEvent{
		Type:          models.EventReleased,
		PrincipalID:   res.PrincipalID,
		TenantID:      res.TenantID,
		ReservationID: &res.ID,
		DocumentType:  res.DocumentType,
		Amount:        res.Cost,
		OccurredAt:    now,
	})
	return false, nil
}

// Grant credits a principal on behalf of the external billing collaborator.
// Kind must be EARN (top-up) or REFUND (compensation); both are
// idempotency-keyed exactly like Reserve.
func (s *Service) Grant(ctx context.Context, principalID id.PrincipalID, amount int64, kind models.EntryKind, reason, idempotencyKey string) (id.EntryID, int64, error) {
	if principalID.IsNil() {
		return id.EntryID{}, 0, dErrors.New(dErrors.CodeValidation, "principal_id is required")
	}
	if amount <= 0 {
		return id.EntryID{}, 0, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if kind != models.EntryEarn && kind != models.EntryRefund {
		return id.EntryID{}, 0, dErrors.Newf(dErrors.CodeValidation, "grant kind must be %s or %s", models.EntryEarn, models.EntryRefund)
	}
	if idempotencyKey == "" {
		return id.EntryID{}, 0, dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}

	now := requestcontext.Now(ctx)

	if rec, err := s.store.FindIdempotencyRecord(ctx, idempotencyKey, now); err != nil {
		return id.EntryID{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check idempotency key")
	} else if rec != nil {
		return s.replayGrant(ctx, rec, principalID)
	}

	entry, balance, err := s.store.Grant(ctx, ports.GrantParams{
		PrincipalID:    principalID,
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		RecordExpires:  now.Add(s.retention),
		Now:            now,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			rec, ferr := s.store.FindIdempotencyRecord(ctx, idempotencyKey, now)
			if ferr != nil || rec == nil {
				return id.EntryID{}, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "concurrent request in flight, retry")
			}
			return s.replayGrant(ctx, rec, principalID)
		}
		return id.EntryID{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant credits")
	}

	s.incCreditsGranted()
	s.logger.InfoContext(ctx, "credits granted",
		"request_id", requestcontext.RequestID(ctx),
		"principal_id", principalID.String(),
		"kind", string(kind),
		"amount", amount,
		"reason", reason,
	)
	ports.PublishEvent(ctx, s.logger, s.events, models.LedgerEvent{
		Type:        models.EventGranted,
		PrincipalID: principalID,
		Amount:      amount,
		Balance:     balance,
		OccurredAt:  now,
	})
	return entry.ID, balance, nil
}

func (s *Service) replayGrant(ctx context.Context, rec *models.IdempotencyRecord, principalID id.PrincipalID) (id.EntryID, int64, error) {
	if rec.PrincipalID != principalID {
		return id.EntryID{}, 0, dErrors.New(dErrors.CodeConflict, "idempotency key already used by a different principal")
	}
	if rec.Outcome != models.OutcomeGranted || rec.EntryID == nil {
		return id.EntryID{}, 0, dErrors.New(dErrors.CodeConflict, "idempotency key already used by a different operation")
	}

	balance, err := s.store.Balance(ctx, principalID)
	if err != nil {
		return id.EntryID{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}
	s.incIdempotentReplays()
	return *rec.EntryID, balance, nil
}

// clampTTL bounds a requested TTL instead of rejecting it so misconfigured
// clients degrade gracefully.
func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return s.defaultTTL
	case ttl < s.minTTL:
		return s.minTTL
	case ttl > s.maxTTL:
		return s.maxTTL
	default:
		return ttl
	}
}

// publishReserveEvents emits the reserved event and, when the remaining
// balance crossed the configured threshold, a low_balance event for the
// notification collaborator.
func (s *Service) publishReserveEvents(ctx context.Context, res *models.Reservation) {
	balance, err := s.store.Balance(ctx, res.PrincipalID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read balance for event",
			"principal_id", res.PrincipalID.String(),
			"error", err.Error(),
		)
		return
	}

	event := models.LedgerEvent{
		Type:          models.EventReserved,
		PrincipalID:   res.PrincipalID,
		TenantID:      res.TenantID,
		ReservationID: &res.ID,
		DocumentType:  res.DocumentType,
		Amount:        res.Cost,
		Balance:       balance,
		OccurredAt:    res.CreatedAt,
	}
	ports.PublishEvent(ctx, s.logger, s.events, event)

	if s.lowBalanceThreshold > 0 && balance <= s.lowBalanceThreshold {
		event.Type = models.EventLowBalance
		ports.PublishEvent(ctx, s.logger, s.events, event)
	}
}

func (s *Service) incReservationsCreated() {
	if s.metrics != nil {
		s.metrics.ReservationsCreated.Inc()
	}
}

func (s *Service) incReservationsCommitted() {
	if s.metrics != nil {
		s.metrics.ReservationsCommitted.Inc()
	}
}

func (s *Service) incReservationsReleased() {
	if s.metrics != nil {
		s.metrics.ReservationsReleased.Inc()
	}
}

func (s *Service) incInsufficientBalance() {
	if s.metrics != nil {
		s.metrics.InsufficientBalance.Inc()
	}
}

func (s *Service) incIdempotentReplays() {
	if s.metrics != nil {
		s.metrics.IdempotentReplays.Inc()
	}
}

func (s *Service) incCreditsGranted() {
	if s.metrics != nil {
		s.metrics.CreditsGranted.Inc()
	}
}
