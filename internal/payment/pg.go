package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Begin(ctx context.Context, rec Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO payments (transaction_id, order_id, customer_id, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (transaction_id) DO NOTHING`,
		rec.TransactionID, rec.OrderID, rec.CustomerID, rec.AmountCents, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment row: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Apply settles a charge exactly once. The inbox row is the idempotency gate:
// only the delivery that wins the insert gets to update the payment.
func (s *PgStore) Apply(ctx context.Context, transactionID string, status Status, reason string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_inbox (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, reason = $3, updated_at = NOW()
		WHERE transaction_id = $1 AND status = $4`,
		transactionID, status, reason, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrPaymentNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PgStore) ByTransactionID(ctx context.Context, transactionID string) (Record, error) {
	return s.scanOne(ctx, `WHERE transaction_id = $1`, transactionID)
}

func (s *PgStore) ByOrder(ctx context.Context, orderID uuid.UUID) (Record, error) {
	return s.scanOne(ctx, `WHERE order_id = $1`, orderID)
}

func (s *PgStore) scanOne(ctx context.Context, where string, arg any) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT transaction_id, order_id, customer_id, amount_cents, status, COALESCE(reason, ''), created_at, updated_at
		FROM payments `+where,
		arg,
	).Scan(&rec.TransactionID, &rec.OrderID, &rec.CustomerID, &rec.AmountCents,
		&rec.Status, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrPaymentNotFound
		}
		return Record{}, fmt.Errorf("select payment: %w", err)
	}
	return rec, nil
}
