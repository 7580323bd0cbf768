package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tally/internal/catalog/models"
	"tally/pkg/platform/sentinel"
)

// PostgresStore persists catalog entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed catalog store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByType(ctx context.Context, documentType string) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT document_type, credit_cost, display_name, category, is_active
		FROM catalog_entries WHERE document_type = $1`,
		documentType,
	).Scan(&entry.DocumentType, &entry.CreditCost, &entry.DisplayName, &entry.Category, &entry.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find catalog entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_type, credit_cost, display_name, category, is_active
		FROM catalog_entries
		WHERE is_active
		ORDER BY document_type`)
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		var entry models.CatalogEntry
		if err := rows.Scan(&entry.DocumentType, &entry.CreditCost, &entry.DisplayName, &entry.Category, &entry.IsActive); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, entry *models.CatalogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_entries (document_type, credit_cost, display_name, category, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_type) DO UPDATE SET
			credit_cost = EXCLUDED.credit_cost,
			display_name = EXCLUDED.display_name,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active`,
		entry.DocumentType, entry.CreditCost, entry.DisplayName, entry.Category, entry.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert catalog entry: %w", err)
	}
	return nil
}
