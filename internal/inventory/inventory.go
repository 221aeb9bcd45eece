// Package inventory is the exclusive owner of per-product available/reserved
// counts. Stock leaves availableStock at reserve time; commit and cancel are
// bookkeeping over the hold, never a second stock mutation.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownProduct     = errors.New("unknown product")
	ErrUnknownReservation = errors.New("unknown reservation")
)

type State string

const (
	StateReserved  State = "reserved"
	StateCommitted State = "committed"
	StateCancelled State = "cancelled"
)

type Item struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type ReturnItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason,omitempty"`
}

// Shortage reports one cart line that cannot be satisfied. Shortage is a
// normal outcome of Reserve, not an error.
type Shortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

type ReserveResult struct {
	OK        bool       `json:"ok"`
	Shortages []Shortage `json:"shortages,omitempty"`
}

type StockLevel struct {
	ProductID uuid.UUID
	Available int
	Reserved  int
	LowStock  bool
}

// Ledger is the reservation lifecycle. All-or-nothing batch semantics on
// Reserve: a cart checkout must not partially reserve.
type Ledger interface {
	// Reserve atomically holds every item under key, or holds nothing and
	// reports every line that would fail. Errors are reserved for unknown
	// products and storage trouble.
	Reserve(ctx context.Context, key string, items []Item) (ReserveResult, error)
	// Commit converts the key's Reserved rows to Committed.
	Commit(ctx context.Context, key string) error
	// Cancel releases the hold: quantities return to availableStock and the
	// rows become Cancelled. It reverses Reserved rows and, as the saga's
	// compensating path, Committed ones too.
	Cancel(ctx context.Context, key string) error
	// Rebind moves a hold from the temporary checkout key to the order key
	// once the order row exists.
	Rebind(ctx context.Context, oldKey, newKey string) error
	// Return restores stock for a post-sale return against a committed order
	// hold, independent of the reserve/commit/cancel lifecycle.
	Return(ctx context.Context, key string, items []ReturnItem) error
	// ExpireBefore cancels Reserved holds created before cutoff and reports
	// how many it released.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Restock adds stock directly (admin operation).
	Restock(ctx context.Context, productID uuid.UUID, quantity int) error
	Stock(ctx context.Context, productID uuid.UUID) (StockLevel, error)
}

// OrderKey is the reservation key a hold is filed under once it belongs to a
// concrete order.
func OrderKey(orderID uuid.UUID) string {
	return "order_" + orderID.String()
}
