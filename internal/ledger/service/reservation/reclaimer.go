package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ledgermetrics "tally/internal/ledger/metrics"
	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	"tally/pkg/platform/sentinel"
)

const (
	expiredReleaseReason = "expired"
	reclaimBatchSize     = 100
)

// Reclaimer is the sole automatic-failure path: it converts "caller
// disappeared" into a release, so no reservation holds funds past its TTL.
// It also purges idempotency records past their retention window.
type Reclaimer struct {
	store    ports.Store
	logger   *slog.Logger
	metrics  *ledgermetrics.Metrics
	interval time.Duration
}

// NewReclaimer builds the background sweeper.
func NewReclaimer(store ports.Store, interval time.Duration, logger *slog.Logger, m *ledgermetrics.Metrics) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{
		store:    store,
		logger:   logger,
		metrics:  m,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx, time.Now())
		}
	}
}

// Sweep releases every expired PENDING reservation as of now and purges
// stale idempotency records. Exported for testability; Run passes wall-clock
// time. Individual failures are logged and skipped so one bad row cannot
// stall the sweep.
func (r *Reclaimer) Sweep(ctx context.Context, now time.Time) {
	for {
		ids, err := r.store.ExpiredPending(ctx, now, reclaimBatchSize)
		if err != nil {
			r.logger.ErrorContext(ctx, "reclaimer failed to list expired reservations", "error", err.Error())
			break
		}
		if len(ids) == 0 {
			break
		}

		released := 0
		for _, reservationID := range ids {
			_, err := r.store.Resolve(ctx, reservationID, models.ResolutionRelease, expiredReleaseReason, now)
			if err != nil {
				// A concurrent Commit/Release beat the sweep; nothing to do.
				if errors.Is(err, sentinel.ErrAlreadyResolved) || errors.Is(err, sentinel.ErrNotFound) {
					continue
				}
				r.logger.ErrorContext(ctx, "reclaimer failed to release reservation",
					"reservation_id", reservationID.String(),
					"error", err.Error(),
				)
				continue
			}
			released++
			if r.metrics != nil {
				r.metrics.ReservationsExpired.Inc()
			}
			r.logger.InfoContext(ctx, "expired reservation released",
				"reservation_id", reservationID.String(),
			)
		}

		// No forward progress means every row errored; re-listing would only
		// return the same rows again.
		if len(ids) < reclaimBatchSize || released == 0 {
			break
		}
	}

	purged, err := r.store.PurgeIdempotencyRecords(ctx, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "reclaimer failed to purge idempotency records", "error", err.Error())
		return
	}
	if purged > 0 {
		r.logger.InfoContext(ctx, "purged idempotency records", "count", purged)
	}
}
