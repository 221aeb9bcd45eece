package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence surface the checkout saga needs. Two
// implementations exist: PgStore over pgx, and MemoryStore for tests and the
// memory store mode.
type Store interface {
	// ResolveCustomer returns the customer for email, creating one if absent.
	ResolveCustomer(ctx context.Context, email string) (Customer, error)
	CustomerByID(ctx context.Context, id uuid.UUID) (Customer, error)

	// CartForCustomer returns the customer's open cart, or ErrCartNotFound.
	CartForCustomer(ctx context.Context, customerID uuid.UUID) (Cart, error)
	CartByID(ctx context.Context, cartID uuid.UUID) (Cart, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	// AbandonedCarts lists carts untouched since idleBefore and not yet
	// nudged.
	AbandonedCarts(ctx context.Context, idleBefore time.Time, limit int) ([]Cart, error)
	MarkCartNotified(ctx context.Context, cartID uuid.UUID) error

	ProductPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error)

	// CreateOrder persists the order with its items and, when
	// o.DiscountCodeID is set, consumes the discount code in the same
	// transaction; a code already consumed fails the whole insert with
	// ErrDiscountUsed.
	CreateOrder(ctx context.Context, o *Order) error
	OrderByID(ctx context.Context, id uuid.UUID) (Order, error)
	OrderByCorrelation(ctx context.Context, correlationID string) (Order, error)
	// TransitionStatus flips from→to as one conditional update; a lost race
	// or an illegal edge surfaces as ErrInvalidTransition via the caller's
	// guard.
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to Status) error

	// OrderNumber derives the 1-based rank of the order among its customer's
	// orders by creation time. Never cached: cancellations must not renumber.
	OrderNumber(ctx context.Context, orderID uuid.UUID) (int, error)
	CompletedOrderCount(ctx context.Context, customerID uuid.UUID) (int, error)

	DiscountByCode(ctx context.Context, code string) (DiscountCode, error)
	// CreateDiscountCode mints a code, reporting false when the milestone was
	// already rewarded for this customer.
	CreateDiscountCode(ctx context.Context, dc DiscountCode) (bool, error)
	DiscountCodesForCustomer(ctx context.Context, customerID uuid.UUID) ([]DiscountCode, error)

	RecordReturn(ctx context.Context, orderID uuid.UUID, items []ReturnLine) error
	// ReturnedQuantities sums returned units per product across all of the
	// order's return requests.
	ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error)
}
