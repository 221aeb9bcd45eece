package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgLedger keeps stock in the products table and holds in
// inventory_reservations. The reserve step is a single conditional UPDATE per
// line, so N units of stock satisfy at most N concurrent reservations no
// matter how many requests race.
type PgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

func (l *PgLedger) Reserve(ctx context.Context, key string, items []Item) (ReserveResult, error) {
	// A key derived from the same cart snapshot may be replayed; an existing
	// active hold means the work is already done. This read is only a fast
	// path: when two identical checkouts race past it, the partial unique
	// index on (reservation_key, product_id) decides below.
	var held bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inventory_reservations
			WHERE reservation_key = $1 AND state = $2
		)`, key, StateReserved,
	).Scan(&held)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("check existing hold: %w", err)
	}
	if held {
		return ReserveResult{OK: true}, nil
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, err
	}
	defer tx.Rollback(ctx)

	short := false
	for _, item := range items {
		tag, err := tx.Exec(ctx, `
			UPDATE products
			SET available_stock = available_stock - $2,
			    reserved_stock  = reserved_stock + $2,
			    updated_at      = NOW()
			WHERE id = $1 AND available_stock >= $2`,
			item.ProductID, item.Quantity,
		)
		if err != nil {
			return ReserveResult{}, fmt.Errorf("reserve stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			short = true
			break
		}
	}

	if short {
		// Roll the partial holds back and report every line that would fail.
		_ = tx.Rollback(ctx)
		return l.shortageReport(ctx, items)
	}

	now := time.Now().UTC()
	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory_reservations (reservation_key, product_id, quantity, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			key, item.ProductID, item.Quantity, StateReserved, now,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// A concurrent identical checkout won the insert. Its hold
				// stands; this attempt's stock decrements roll back with the
				// transaction.
				return ReserveResult{OK: true}, nil
			}
			return ReserveResult{}, fmt.Errorf("insert reservation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{OK: true}, nil
}

func (l *PgLedger) shortageReport(ctx context.Context, items []Item) (ReserveResult, error) {
	result := ReserveResult{}
	for _, item := range items {
		var available int
		err := l.pool.QueryRow(ctx,
			`SELECT available_stock FROM products WHERE id = $1`, item.ProductID,
		).Scan(&available)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ReserveResult{}, fmt.Errorf("product %s: %w", item.ProductID, ErrUnknownProduct)
			}
			return ReserveResult{}, fmt.Errorf("read stock: %w", err)
		}
		if available < item.Quantity {
			result.Shortages = append(result.Shortages, Shortage{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	return result, nil
}

func (l *PgLedger) Commit(ctx context.Context, key string) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var total int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM inventory_reservations
		WHERE reservation_key = $1 AND state IN ($2, $3)`,
		key, StateReserved, StateCommitted,
	).Scan(&total)
	if err != nil {
		return fmt.Errorf("count reservations: %w", err)
	}
	if total == 0 {
		return fmt.Errorf("commit %s: %w", key, ErrUnknownReservation)
	}

	// Stock already left available_stock at reserve time. Commit only moves
	// the held quantity out of reserved_stock.
	_, err = tx.Exec(ctx, `
		UPDATE products p
		SET reserved_stock = p.reserved_stock - r.quantity,
		    updated_at     = NOW()
		FROM inventory_reservations r
		WHERE r.product_id = p.id AND r.reservation_key = $1 AND r.state = $2`,
		key, StateReserved,
	)
	if err != nil {
		return fmt.Errorf("commit stock bookkeeping: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory_reservations
		SET state = $2, updated_at = NOW()
		WHERE reservation_key = $1 AND state = $3`,
		key, StateCommitted, StateReserved,
	)
	if err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}

	return tx.Commit(ctx)
}

func (l *PgLedger) Cancel(ctx context.Context, key string) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var total int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory_reservations WHERE reservation_key = $1`, key,
	).Scan(&total)
	if err != nil {
		return fmt.Errorf("count reservations: %w", err)
	}
	if total == 0 {
		return fmt.Errorf("cancel %s: %w", key, ErrUnknownReservation)
	}

	// Reserved rows give back both counters; committed rows already left
	// reserved_stock and only need available_stock restored.
	_, err = tx.Exec(ctx, `
		UPDATE products p
		SET available_stock = p.available_stock + r.quantity,
		    reserved_stock  = p.reserved_stock - r.quantity,
		    updated_at      = NOW()
		FROM inventory_reservations r
		WHERE r.product_id = p.id AND r.reservation_key = $1 AND r.state = $2`,
		key, StateReserved,
	)
	if err != nil {
		return fmt.Errorf("release reserved stock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE products p
		SET available_stock = p.available_stock + r.quantity,
		    updated_at      = NOW()
		FROM inventory_reservations r
		WHERE r.product_id = p.id AND r.reservation_key = $1 AND r.state = $2`,
		key, StateCommitted,
	)
	if err != nil {
		return fmt.Errorf("release committed stock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory_reservations
		SET state = $2, updated_at = NOW()
		WHERE reservation_key = $1 AND state != $2`,
		key, StateCancelled,
	)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}

	return tx.Commit(ctx)
}

func (l *PgLedger) Rebind(ctx context.Context, oldKey, newKey string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE inventory_reservations
		SET reservation_key = $2, updated_at = NOW()
		WHERE reservation_key = $1 AND state = $3`,
		oldKey, newKey, StateReserved,
	)
	if err != nil {
		return fmt.Errorf("rebind reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rebind %s: %w", oldKey, ErrUnknownReservation)
	}
	return nil
}

func (l *PgLedger) Return(ctx context.Context, key string, items []ReturnItem) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		var held int
		err := tx.QueryRow(ctx, `
			SELECT quantity FROM inventory_reservations
			WHERE reservation_key = $1 AND product_id = $2 AND state = $3`,
			key, item.ProductID, StateCommitted,
		).Scan(&held)
		if err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("return %s/%s: %w", key, item.ProductID, ErrUnknownReservation)
			}
			return fmt.Errorf("read reservation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE products
			SET available_stock = available_stock + $2, updated_at = NOW()
			WHERE id = $1`,
			item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (l *PgLedger) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, product_id, quantity FROM inventory_reservations
		WHERE state = $1 AND created_at < $2
		FOR UPDATE SKIP LOCKED`,
		StateReserved, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("query expired holds: %w", err)
	}

	type hold struct {
		id        int64
		productID uuid.UUID
		quantity  int
	}
	var expired []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.id, &h.productID, &h.quantity); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, h := range expired {
		_, err := tx.Exec(ctx, `
			UPDATE products
			SET available_stock = available_stock + $2,
			    reserved_stock  = reserved_stock - $2,
			    updated_at      = NOW()
			WHERE id = $1`,
			h.productID, h.quantity,
		)
		if err != nil {
			return 0, fmt.Errorf("release expired stock: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE inventory_reservations
			SET state = $2, updated_at = NOW()
			WHERE id = $1`,
			h.id, StateCancelled,
		)
		if err != nil {
			return 0, fmt.Errorf("mark expired: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (l *PgLedger) Restock(ctx context.Context, productID uuid.UUID, quantity int) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE products
		SET available_stock = available_stock + $2, updated_at = NOW()
		WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("restock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("restock %s: %w", productID, ErrUnknownProduct)
	}
	return nil
}

func (l *PgLedger) Stock(ctx context.Context, productID uuid.UUID) (StockLevel, error) {
	var level StockLevel
	var threshold int
	err := l.pool.QueryRow(ctx, `
		SELECT id, available_stock, reserved_stock, low_stock_threshold
		FROM products WHERE id = $1`,
		productID,
	).Scan(&level.ProductID, &level.Available, &level.Reserved, &threshold)
	if err != nil {
		if err == pgx.ErrNoRows {
			return StockLevel{}, fmt.Errorf("stock %s: %w", productID, ErrUnknownProduct)
		}
		return StockLevel{}, fmt.Errorf("read stock: %w", err)
	}
	level.LowStock = level.Available <= threshold
	return level, nil
}
