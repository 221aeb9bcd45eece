package order

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

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) ResolveCustomer(ctx context.Context, email string) (Customer, error) {
	now := time.Now().UTC()
	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at`,
		uuid.New(), email, now,
	).Scan(&c.ID, &c.Email, &c.CreatedAt)
	if err != nil {
		return Customer{}, fmt.Errorf("resolve customer: %w", err)
	}
	return c, nil
}

func (s *PgStore) CustomerByID(ctx context.Context, id uuid.UUID) (Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *PgStore) CartForCustomer(ctx context.Context, customerID uuid.UUID) (Cart, error) {
	var cart Cart
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, updated_at, notified_at
		FROM carts WHERE customer_id = $1`, customerID,
	).Scan(&cart.ID, &cart.CustomerID, &cart.UpdatedAt, &cart.NotifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, fmt.Errorf("get cart: %w", err)
	}
	if err := s.loadCartItems(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *PgStore) CartByID(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	var cart Cart
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, updated_at, notified_at
		FROM carts WHERE id = $1`, cartID,
	).Scan(&cart.ID, &cart.CustomerID, &cart.UpdatedAt, &cart.NotifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, fmt.Errorf("get cart: %w", err)
	}
	if err := s.loadCartItems(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *PgStore) loadCartItems(ctx context.Context, cart *Cart) error {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, quantity FROM cart_items WHERE cart_id = $1`, cart.ID,
	)
	if err != nil {
		return fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return err
		}
		cart.Items = append(cart.Items, item)
	}
	return rows.Err()
}

func (s *PgStore) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *PgStore) AbandonedCarts(ctx context.Context, idleBefore time.Time, limit int) ([]Cart, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.customer_id, c.updated_at, c.notified_at
		FROM carts c
		WHERE c.updated_at < $1
		  AND c.notified_at IS NULL
		  AND EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = c.id)
		ORDER BY c.updated_at
		LIMIT $2`, idleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query abandoned carts: %w", err)
	}
	defer rows.Close()

	var carts []Cart
	for rows.Next() {
		var cart Cart
		if err := rows.Scan(&cart.ID, &cart.CustomerID, &cart.UpdatedAt, &cart.NotifiedAt); err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, rows.Err()
}

func (s *PgStore) MarkCartNotified(ctx context.Context, cartID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE carts SET notified_at = NOW() WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("mark cart notified: %w", err)
	}
	return nil
}

func (s *PgStore) ProductPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, price_cents FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[uuid.UUID]int64, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		prices[id] = price
	}
	return prices, rows.Err()
}

func (s *PgStore) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, correlation_id, status, subtotal_cents,
		                    discount_cents, total_cents, discount_code_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		o.ID, o.CustomerID, o.CorrelationID, o.Status, o.SubtotalCents,
		o.DiscountCents, o.TotalCents, o.DiscountCodeID, now,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, item.ProductID, item.Quantity, item.UnitPriceCents,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	// The discount is consumed with the order insert or not at all; a code
	// racing two checkouts loses here and rolls the order back.
	if o.DiscountCodeID != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE discount_codes
			SET is_used = TRUE, is_available = FALSE
			WHERE id = $1 AND is_used = FALSE`,
			*o.DiscountCodeID,
		)
		if err != nil {
			return fmt.Errorf("consume discount: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDiscountUsed
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) OrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	return s.loadOrder(ctx, `WHERE id = $1`, id)
}

func (s *PgStore) OrderByCorrelation(ctx context.Context, correlationID string) (Order, error) {
	return s.loadOrder(ctx, `WHERE correlation_id = $1`, correlationID)
}

func (s *PgStore) loadOrder(ctx context.Context, where string, arg any) (Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, correlation_id, status, subtotal_cents,
		       discount_cents, total_cents, discount_code_id, created_at, updated_at
		FROM orders `+where, arg,
	).Scan(&o.ID, &o.CustomerID, &o.CorrelationID, &o.Status, &o.SubtotalCents,
		&o.DiscountCents, &o.TotalCents, &o.DiscountCodeID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT product_id, quantity, unit_price_cents
		FROM order_items WHERE order_id = $1`, o.ID,
	)
	if err != nil {
		return Order{}, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

func (s *PgStore) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		orderID, from, to,
	)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PgStore) OrderNumber(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders earlier, orders target
		WHERE target.id = $1
		  AND earlier.customer_id = target.customer_id
		  AND (earlier.created_at, earlier.id) <= (target.created_at, target.id)`,
		orderID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("derive order number: %w", err)
	}
	if n == 0 {
		return 0, ErrOrderNotFound
	}
	return n, nil
}

func (s *PgStore) CompletedOrderCount(ctx context.Context, customerID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE customer_id = $1 AND status = $2`,
		customerID, StatusCompleted,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed orders: %w", err)
	}
	return n, nil
}

func (s *PgStore) DiscountByCode(ctx context.Context, code string) (DiscountCode, error) {
	var dc DiscountCode
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, customer_id, percentage, is_used, is_available,
		       order_number_generated, created_at
		FROM discount_codes WHERE code = $1`, code,
	).Scan(&dc.ID, &dc.Code, &dc.CustomerID, &dc.Percentage, &dc.IsUsed,
		&dc.IsAvailable, &dc.OrderNumberGenerated, &dc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DiscountCode{}, ErrDiscountInvalid
		}
		return DiscountCode{}, fmt.Errorf("get discount code: %w", err)
	}
	return dc, nil
}

func (s *PgStore) CreateDiscountCode(ctx context.Context, dc DiscountCode) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO discount_codes (id, code, customer_id, percentage, is_used,
		                            is_available, order_number_generated, created_at)
		VALUES ($1, $2, $3, $4, FALSE, TRUE, $5, NOW())`,
		dc.ID, dc.Code, dc.CustomerID, dc.Percentage, dc.OrderNumberGenerated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the milestone was already rewarded, a retried handler
		// must not mint twice.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("create discount code: %w", err)
	}
	return true, nil
}

func (s *PgStore) DiscountCodesForCustomer(ctx context.Context, customerID uuid.UUID) ([]DiscountCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, customer_id, percentage, is_used, is_available,
		       order_number_generated, created_at
		FROM discount_codes
		WHERE customer_id = $1
		ORDER BY created_at`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query discount codes: %w", err)
	}
	defer rows.Close()

	var codes []DiscountCode
	for rows.Next() {
		var dc DiscountCode
		if err := rows.Scan(&dc.ID, &dc.Code, &dc.CustomerID, &dc.Percentage, &dc.IsUsed,
			&dc.IsAvailable, &dc.OrderNumberGenerated, &dc.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, dc)
	}
	return codes, rows.Err()
}

func (s *PgStore) RecordReturn(ctx context.Context, orderID uuid.UUID, items []ReturnLine) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_returns (order_id, product_id, quantity, reason, created_at)
			VALUES ($1, $2, $3, $4, NOW())`,
			orderID, item.ProductID, item.Quantity, item.Reason,
		)
		if err != nil {
			return fmt.Errorf("record return: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, SUM(quantity)
		FROM order_returns WHERE order_id = $1
		GROUP BY product_id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum returns: %w", err)
	}
	defer rows.Close()

	sums := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		sums[id] = qty
	}
	return sums, rows.Err()
}
