package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"cargolink/internal/billing/models"
	"cargolink/internal/sentinel"
	dErrors "cargolink/pkg/domain-errors"
	txcontext "cargolink/pkg/platform/tx"
)

const (
	defaultTxTimeout  = 5 * time.Second
	pgUniqueViolation = "23505"
)

// Postgres persists billing state in PostgreSQL.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed billing store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: defaultTxTimeout}
}

func (s *Postgres) execer(ctx context.Context) txcontext.Executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx opens a transaction, runs fn with it in ctx and commits when fn
// returns nil.
func (s *Postgres) RunInTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin billing tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()

	if err := fn(txcontext.WithTx(ctx, tx), s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit billing tx: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock on key. Row locks cannot
// cover a subscription that does not exist yet.
func (s *Postgres) Lock(ctx context.Context, key string) error {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return fmt.Errorf("advisory lock %q outside a transaction", key)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) InsertEvent(ctx context.Context, e *models.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (external_id, event_type, payload, processed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, e.ExternalID, e.Type, string(e.Payload), e.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

func (s *Postgres) FindPayment(ctx context.Context, externalID string) (*models.Payment, error) {
	query := `
		SELECT id, external_id, user_id, status, amount, currency, updated_at
		FROM payments
		WHERE external_id = $1
		FOR UPDATE
	`
	var p models.Payment
	var status string
	err := s.execer(ctx).QueryRowContext(ctx, query, externalID).Scan(
		&p.ID, &p.ExternalID, &p.UserID, &status, &p.Amount, &p.Currency, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (s *Postgres) SavePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, external_id, user_id, status, amount, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		p.ID, p.ExternalID, p.UserID, string(p.Status), p.Amount, p.Currency, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (s *Postgres) FindSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	query := `
		SELECT user_id, is_active, expires_at, access_token, updated_at
		FROM subscriptions
		WHERE user_id = $1
		FOR UPDATE
	`
	var sub models.Subscription
	err := s.execer(ctx).QueryRowContext(ctx, query, userID).Scan(
		&sub.UserID, &sub.IsActive, &sub.ExpiresAt, &sub.AccessToken, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

func (s *Postgres) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, is_active, expires_at, access_token, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			expires_at = EXCLUDED.expires_at,
			access_token = EXCLUDED.access_token,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		sub.UserID, sub.IsActive, sub.ExpiresAt, sub.AccessToken, sub.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}
