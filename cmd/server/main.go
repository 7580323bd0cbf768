package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"tally/internal/catalog/cache"
	cataloghandler "tally/internal/catalog/handler"
	catalogservice "tally/internal/catalog/service"
	catalogstore "tally/internal/catalog/store"
	"tally/internal/ledger/events"
	ledgerhandler "tally/internal/ledger/handler"
	ledgermetrics "tally/internal/ledger/metrics"
	"tally/internal/ledger/ports"
	"tally/internal/ledger/service/balance"
	"tally/internal/ledger/service/reservation"
	ledgerstore "tally/internal/ledger/store/ledger"
	"tally/internal/platform/config"
	"tally/internal/platform/httpserver"
	"tally/internal/platform/kafka"
	"tally/internal/platform/logger"
	platformmetrics "tally/internal/platform/metrics"
	"tally/internal/platform/postgres"
	platformredis "tally/internal/platform/redis"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Stores: postgres when configured, in-memory otherwise.
	var (
		store   ports.Store
		catalog catalogstore.Store
	)
	if cfg.PostgresURL != "" {
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		store = ledgerstore.NewPostgres(db)
		catalog = catalogstore.NewPostgres(db)
		log.Info("using postgres store")
	} else {
		store = ledgerstore.NewMemory()
		catalog = catalogstore.NewMemory()
		log.Warn("no postgres configured, using in-memory store")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("catalog cache enabled")
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		log.Info("ledger event publishing enabled", "topic", cfg.Kafka.Topic)
	}

	costCatalog, err := catalogservice.New(catalog,
		catalogservice.WithCache(cache.New(redisClient, time.Minute, log)),
		catalogservice.WithLogger(log),
	)
	if err != nil {
		return err
	}

	lm := ledgermetrics.New()
	reservationOpts := []reservation.Option{
		reservation.WithLogger(log),
		reservation.WithMetrics(lm),
		reservation.WithTTLBounds(cfg.DefaultReservationTTL, cfg.MinReservationTTL, cfg.MaxReservationTTL),
		reservation.WithIdempotencyRetention(cfg.IdempotencyRetention),
		reservation.WithLowBalanceThreshold(cfg.LowBalanceThreshold),
	}
	if producer != nil {
		reservationOpts = append(reservationOpts,
			reservation.WithEventPublisher(events.NewKafka(producer, log)))
	}
	reservations, err := reservation.New(store, costCatalog, reservationOpts...)
	if err != nil {
		return err
	}

	balances, err := balance.New(store)
	if err != nil {
		return err
	}

	pm := platformmetrics.New()
	router := chi.NewRouter()
	ledgerhandler.New(reservations, balances, log, pm).Register(router)
	cataloghandler.New(costCatalog, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", platformmetrics.Handler())

	srv := httpserver.New(cfg.Addr, router)
	reclaimer := reservation.NewReclaimer(store, cfg.ReclaimInterval, log, lm)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reclaimer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
