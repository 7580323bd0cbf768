package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus counters.
type Metrics struct {
	ReservationsCreated   prometheus.Counter
	ReservationsCommitted prometheus.Counter
	ReservationsReleased  prometheus.Counter
	ReservationsExpired   prometheus.Counter
	InsufficientBalance   prometheus.Counter
	IdempotentReplays     prometheus.Counter
	CreditsGranted        prometheus.Counter
}

// New creates and registers all ledger metrics.
func New() *Metrics {
	return &Metrics{
		ReservationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_reservations_created_total",
			Help: "Total reservations successfully created.",
		}),
		ReservationsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_reservations_committed_total",
			Help: "Total reservations committed (permanent debits).",
		}),
		ReservationsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_reservations_released_total",
			Help: "Total reservations released (funds restored).",
		}),
		ReservationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_reservations_expired_total",
			Help: "Total reservations released by the TTL reclaimer.",
		}),
		InsufficientBalance: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_insufficient_balance_total",
			Help: "Total reserve attempts rejected for insufficient balance.",
		}),
		IdempotentReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_idempotent_replays_total",
			Help: "Total requests answered from a stored idempotency outcome.",
		}),
		CreditsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tally_credits_granted_total",
			Help: "Total grant operations applied.",
		}),
	}
}
