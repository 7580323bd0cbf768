package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tally/internal/ledger/models"
	"tally/internal/ledger/ports"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint hits.
const pqUniqueViolation = "23505"

// PostgresStore persists the ledger in PostgreSQL. Every mutating method runs
// in one transaction; per-principal serialization comes from FOR UPDATE on
// the balances row, and the unique index on idempotency_records.key is the
// deduplication primitive for retried requests.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, p ports.ReserveParams) (*models.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	res := p.Reservation

	// Claim the idempotency key first. A concurrent request with the same key
	// blocks here until this transaction resolves, then observes the
	// committed record via the unique violation.
	if err := s.claimKey(ctx, tx, p.IdempotencyKey, res.PrincipalID, models.OutcomeReserved, p.Now, p.RecordExpires); err != nil {
		return nil, err
	}

	balance, err := lockBalance(ctx, tx, res.PrincipalID)
	if err != nil {
		return nil, err
	}

	if balance < res.Cost {
		// Keep only the negative-outcome record; no ledger rows.
		_, err = tx.ExecContext(ctx, `
			UPDATE idempotency_records
			SET outcome = $1, shortfall = $2
			WHERE idempotency_key = $3`,
			string(models.OutcomeInsufficientBalance), res.Cost-balance, p.IdempotencyKey,
		)
		if err != nil {
			return nil, fmt.Errorf("record insufficient outcome: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit insufficient outcome: %w", err)
		}
		return nil, &models.InsufficientFundsError{Balance: balance, Cost: res.Cost}
	}

	res.State = models.ReservationPending
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal_id, kind, amount, reservation_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(id.NewEntryID()), uuid.UUID(res.PrincipalID), string(models.EntryReserve),
		res.Cost, uuid.UUID(res.ID), p.IdempotencyKey, p.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("append reserve entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, principal_id, tenant_id, document_type, cost, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(res.ID), uuid.UUID(res.PrincipalID), uuid.UUID(res.TenantID),
		res.DocumentType, res.Cost, string(res.State), res.CreatedAt, res.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE balances SET balance = balance - $1 WHERE principal_id = $2`,
		res.Cost, uuid.UUID(res.PrincipalID),
	)
	if err != nil {
		return nil, fmt.Errorf("apply hold to projection: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE idempotency_records
		SET outcome = $1, reservation_id = $2
		WHERE idempotency_key = $3`,
		string(models.OutcomeReserved), uuid.UUID(res.ID), p.IdempotencyKey,
	)
	if err != nil {
		return nil, fmt.Errorf("record reserve outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return &res, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, reservationID id.ReservationID, res models.Resolution, reason string, now time.Time) (*models.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve tx: %w", err)
	}
	defer tx.Rollback()

	r, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.State != models.ReservationPending {
		return nil, sentinel.ErrAlreadyResolved
	}

	switch res {
	case models.ResolutionCommit:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, principal_id, kind, amount, reservation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.UUID(id.NewEntryID()), uuid.UUID(r.PrincipalID), string(models.EntryCommit),
			r.Cost, uuid.UUID(r.ID), now,
		)
		if err != nil {
			return nil, fmt.Errorf("append commit entry: %w", err)
		}
		// No projection delta: the hold already removed the funds.
		r.State = models.ReservationCommitted
		_, err = tx.ExecContext(ctx,
			`UPDATE reservations SET state = $1 WHERE id = $2`,
			string(r.State), uuid.UUID(r.ID),
		)
		if err != nil {
			return nil, fmt.Errorf("mark committed: %w", err)
		}

	case models.ResolutionRelease:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, principal_id, kind, amount, reservation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.UUID(id.NewEntryID()), uuid.UUID(r.PrincipalID), string(models.EntryRelease),
			r.Cost, uuid.UUID(r.ID), now,
		)
		if err != nil {
			return nil, fmt.Errorf("append release entry: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE balances SET balance = balance + $1 WHERE principal_id = $2`,
			r.Cost, uuid.UUID(r.PrincipalID),
		)
		if err != nil {
			return nil, fmt.Errorf("restore hold to projection: %w", err)
		}
		r.State = models.ReservationReleased
		r.ReleaseReason = reason
		_, err = tx.ExecContext(ctx,
			`UPDATE reservations SET state = $1, release_reason = $2 WHERE id = $3`,
			string(r.State), reason, uuid.UUID(r.ID),
		)
		if err != nil {
			return nil, fmt.Errorf("mark released: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown resolution %q", res)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Grant(ctx context.Context, p ports.GrantParams) (*models.LedgerEntry, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.claimKey(ctx, tx, p.IdempotencyKey, p.PrincipalID, models.OutcomeGranted, p.Now, p.RecordExpires); err != nil {
		return nil, 0, err
	}

	if _, err := lockBalance(ctx, tx, p.PrincipalID); err != nil {
		return nil, 0, err
	}

	entry := &models.LedgerEntry{
		ID:             id.NewEntryID(),
		PrincipalID:    p.PrincipalID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.Now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal_id, kind, amount, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(entry.ID), uuid.UUID(entry.PrincipalID), string(entry.Kind),
		entry.Amount, entry.IdempotencyKey, entry.CreatedAt,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("append grant entry: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE balances SET balance = balance + $1 WHERE principal_id = $2
		RETURNING balance`,
		p.Amount, uuid.UUID(p.PrincipalID),
	).Scan(&balance)
	if err != nil {
		return nil, 0, fmt.Errorf("apply grant to projection: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE idempotency_records
		SET outcome = $1, entry_id = $2
		WHERE idempotency_key = $3`,
		string(models.OutcomeGranted), uuid.UUID(entry.ID), p.IdempotencyKey,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("record grant outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit grant: %w", err)
	}
	return entry, balance, nil
}

func (s *PostgresStore) FindIdempotencyRecord(ctx context.Context, key string, now time.Time) (*models.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, principal_id, outcome, reservation_id, entry_id, shortfall, created_at, expires_at
		FROM idempotency_records
		WHERE idempotency_key = $1 AND expires_at > $2`,
		key, now,
	)

	var (
		rec           models.IdempotencyRecord
		principalID   uuid.UUID
		reservationID uuid.NullUUID
		entryID       uuid.NullUUID
		outcome       string
	)
	err := row.Scan(&rec.Key, &principalID, &outcome, &reservationID, &entryID,
		&rec.Shortfall, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}

	rec.PrincipalID = id.PrincipalID(principalID)
	rec.Outcome = models.Outcome(outcome)
	if reservationID.Valid {
		rid := id.ReservationID(reservationID.UUID)
		rec.ReservationID = &rid
	}
	if entryID.Valid {
		eid := id.EntryID(entryID.UUID)
		rec.EntryID = &eid
	}
	return &rec, nil
}

func (s *PostgresStore) FindReservation(ctx context.Context, reservationID id.ReservationID) (*models.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, tenant_id, document_type, cost, state, release_reason, created_at, expires_at
		FROM reservations WHERE id = $1`,
		uuid.UUID(reservationID),
	)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Balance(ctx context.Context, principalID id.PrincipalID) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE principal_id = $1`,
		uuid.UUID(principalID),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) History(ctx context.Context, principalID id.PrincipalID, cursor *ports.HistoryCursor, limit int) ([]*models.LedgerEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, principal_id, kind, amount, reservation_id, idempotency_key, created_at
			FROM ledger_entries
			WHERE principal_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
			uuid.UUID(principalID), limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, principal_id, kind, amount, reservation_id, idempotency_key, created_at
			FROM ledger_entries
			WHERE principal_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`,
			uuid.UUID(principalID), cursor.CreatedAt, uuid.UUID(cursor.EntryID), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.LedgerEntry, 0, limit)
	for rows.Next() {
		var (
			e             models.LedgerEntry
			entryID       uuid.UUID
			principal     uuid.UUID
			kind          string
			reservationID uuid.NullUUID
			idemKey       sql.NullString
		)
		if err := rows.Scan(&entryID, &principal, &kind, &e.Amount, &reservationID, &idemKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.ID = id.EntryID(entryID)
		e.PrincipalID = id.PrincipalID(principal)
		e.Kind = models.EntryKind(kind)
		if reservationID.Valid {
			rid := id.ReservationID(reservationID.UUID)
			e.ReservationID = &rid
		}
		if idemKey.Valid {
			e.IdempotencyKey = idemKey.String
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ExpiredPending(ctx context.Context, now time.Time, limit int) ([]id.ReservationID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM reservations
		WHERE state = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3`,
		string(models.ReservationPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []id.ReservationID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		ids = append(ids, id.ReservationID(u))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) PurgeIdempotencyRecords(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return int(n), nil
}

// claimKey inserts the idempotency record with a provisional outcome. The
// caller updates the outcome later inside the same transaction, so a
// committed record always describes a final result. Expired rows under the
// same key are cleared first so keys can be reused after retention.
func (s *PostgresStore) claimKey(ctx context.Context, tx *sql.Tx, key string, principalID id.PrincipalID, provisional models.Outcome, now, expires time.Time) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE idempotency_key = $1 AND expires_at <= $2`,
		key, now,
	)
	if err != nil {
		return fmt.Errorf("clear expired idempotency record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency_records (idempotency_key, principal_id, outcome, shortfall, created_at, expires_at)
		VALUES ($1, $2, $3, 0, $4, $5)`,
		key, uuid.UUID(principalID), string(provisional), now, expires,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	return nil
}

// lockBalance upserts and row-locks the principal's projection row. Holding
// the lock until commit serializes all balance-affecting operations for one
// principal without coordinating across principals.
func lockBalance(ctx context.Context, tx *sql.Tx, principalID id.PrincipalID) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (principal_id, balance) VALUES ($1, 0)
		ON CONFLICT (principal_id) DO NOTHING`,
		uuid.UUID(principalID),
	)
	if err != nil {
		return 0, fmt.Errorf("ensure balance row: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE principal_id = $1 FOR UPDATE`,
		uuid.UUID(principalID),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock balance row: %w", err)
	}
	return balance, nil
}

func lockReservation(ctx context.Context, tx *sql.Tx, reservationID id.ReservationID) (*models.Reservation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, principal_id, tenant_id, document_type, cost, state, release_reason, created_at, expires_at
		FROM reservations WHERE id = $1 FOR UPDATE`,
		uuid.UUID(reservationID),
	)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r             models.Reservation
		resID         uuid.UUID
		principalID   uuid.UUID
		tenantID      uuid.UUID
		state         string
		releaseReason sql.NullString
	)
	err := row.Scan(&resID, &principalID, &tenantID, &r.DocumentType, &r.Cost,
		&state, &releaseReason, &r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	r.ID = id.ReservationID(resID)
	r.PrincipalID = id.PrincipalID(principalID)
	r.TenantID = id.TenantID(tenantID)
	r.State = models.ReservationState(state)
	if releaseReason.Valid {
		r.ReleaseReason = releaseReason.String
	}
	return &r, nil
}
