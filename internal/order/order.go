// Package order owns the order aggregate, its status state machine, the
// synchronous checkout path and the saga's order-side job handlers.
package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCartNotFound     = errors.New("cart not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrDiscountInvalid  = errors.New("discount code invalid")
	ErrDiscountUsed     = errors.New("discount code already used")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// transitions is the whole state machine. completed→failed is the payment
// compensation edge: the aggregate reaches completed when its reservation
// commits, before payment settles.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {
		StatusCancelled: true,
		StatusReturned:  true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether from→to appears in the transition table.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Item struct {
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

type Order struct {
	ID             uuid.UUID  `json:"id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	CorrelationID  string     `json:"correlation_id"`
	Status         Status     `json:"status"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TotalCents     int64      `json:"total_cents"`
	DiscountCodeID *uuid.UUID `json:"discount_code_id,omitempty"`
	Items          []Item     `json:"items"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Customer struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type CartItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type Cart struct {
	ID         uuid.UUID  `json:"id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	Items      []CartItem `json:"items"`
	UpdatedAt  time.Time  `json:"updated_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// DiscountCode maps to exactly one customer and is consumed at most once.
// OrderNumberGenerated records which completed-order milestone minted it.
type DiscountCode struct {
	ID                   uuid.UUID `json:"id"`
	Code                 string    `json:"code"`
	CustomerID           uuid.UUID `json:"customer_id"`
	Percentage           int       `json:"percentage"`
	IsUsed               bool      `json:"is_used"`
	IsAvailable          bool      `json:"is_available"`
	OrderNumberGenerated int       `json:"order_number_generated"`
	CreatedAt            time.Time `json:"created_at"`
}

type ReturnLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason,omitempty"`
}
