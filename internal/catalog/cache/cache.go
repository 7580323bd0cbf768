// Package cache is the Redis-backed read-through cache for catalog entries.
// Staleness is bounded by the TTL; that is acceptable because reservation
// cost is snapshotted at reservation time, never recomputed from the catalog.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tally/internal/catalog/models"
	platformredis "tally/internal/platform/redis"
)

const keyPrefix = "tally:catalog:"

// Cache stores catalog entries in Redis with a bounded TTL. All methods are
// nil-receiver safe: an unconfigured cache behaves as permanently cold, and
// Redis outages degrade to store reads, never to request failures.
type Cache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New builds the cache. Pass a nil client to disable caching.
func New(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached entry, or (nil, false) on miss, outage, or a
// disabled cache.
func (c *Cache) Get(ctx context.Context, documentType string) (*models.CatalogEntry, bool) {
	if c == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, keyPrefix+documentType).Bytes()
	if err != nil {
		return nil, false
	}
	var entry models.CatalogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.WarnContext(ctx, "corrupt catalog cache entry, dropping",
			"document_type", documentType,
			"error", err.Error(),
		)
		c.client.Del(ctx, keyPrefix+documentType)
		return nil, false
	}
	return &entry, true
}

// Set stores the entry best-effort; failures only get logged.
func (c *Cache) Set(ctx context.Context, entry *models.CatalogEntry) {
	if c == nil {
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+entry.DocumentType, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to populate catalog cache",
			"document_type", entry.DocumentType,
			"error", err.Error(),
		)
	}
}
