package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean.
type Config struct {
	Addr string

	// PostgresURL selects the durable store. Empty means the in-memory store,
	// which is only suitable for tests and local development.
	PostgresURL string

	Redis RedisConfig
	Kafka KafkaConfig

	// Reservation TTL bounds. Requests outside the bounds are clamped, not
	// rejected, so misconfigured clients degrade gracefully.
	DefaultReservationTTL time.Duration
	MinReservationTTL     time.Duration
	MaxReservationTTL     time.Duration

	// ReclaimInterval is how often the background reclaimer sweeps expired
	// PENDING reservations and stale idempotency records.
	ReclaimInterval time.Duration

	// IdempotencyRetention bounds how long replayed keys keep returning the
	// stored outcome.
	IdempotencyRetention time.Duration

	// LowBalanceThreshold triggers a low_balance event when a successful
	// reserve leaves the projection at or below it. Zero disables the event.
	LowBalanceThreshold int64
}

// RedisConfig configures the catalog cost cache. Empty URL disables caching.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the async ledger event publisher. Empty broker list
// disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        envString("TALLY_ADDR", ":8080"),
		PostgresURL: os.Getenv("TALLY_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("TALLY_REDIS_URL"),
			PoolSize:     envInt("TALLY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("TALLY_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("TALLY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("TALLY_REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("TALLY_REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers: envList("TALLY_KAFKA_BROKERS"),
			Topic:   envString("TALLY_KAFKA_TOPIC", "credits.ledger.events"),
		},
		DefaultReservationTTL: envDuration("TALLY_RESERVATION_TTL", 2*time.Minute),
		MinReservationTTL:     envDuration("TALLY_RESERVATION_TTL_MIN", 30*time.Second),
		MaxReservationTTL:     envDuration("TALLY_RESERVATION_TTL_MAX", 5*time.Minute),
		ReclaimInterval:       envDuration("TALLY_RECLAIM_INTERVAL", 15*time.Second),
		IdempotencyRetention:  envDuration("TALLY_IDEMPOTENCY_RETENTION", 24*time.Hour),
		LowBalanceThreshold:   int64(envInt("TALLY_LOW_BALANCE_THRESHOLD", 0)),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
