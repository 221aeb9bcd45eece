// Package payment charges orders and records the outcome exactly once per
// transaction id.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

var ErrPaymentNotFound = errors.New("payment not found")

// TransactionID derives the deterministic charge id for an order. Re-running
// the payment job for the same order always reuses the same transaction.
func TransactionID(orderID string) string {
	return "pay_" + orderID
}

// Record is one charge attempt keyed by its transaction id.
type Record struct {
	TransactionID string
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	AmountCents   int64
	Status        Status
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists charge records. Begin inserts the processing row and reports
// whether this transaction id was fresh; Apply settles a processing row and
// reports whether this settlement was the first one. Both are the idempotency
// gates: duplicate job runs and duplicate webhook deliveries collapse into
// no-ops.
type Store interface {
	Begin(ctx context.Context, rec Record) (bool, error)
	Apply(ctx context.Context, transactionID string, status Status, reason string) (bool, error)
	ByTransactionID(ctx context.Context, transactionID string) (Record, error)
	ByOrder(ctx context.Context, orderID uuid.UUID) (Record, error)
}

// ChargeRequest is what the gateway sees.
type ChargeRequest struct {
	TransactionID string
	OrderID       string
	CustomerID    string
	AmountCents   int64
}

// Result is the gateway's answer. A declined charge is a Result, not an
// error; errors mean the gateway could not be reached and the attempt should
// be retried.
type Result struct {
	Succeeded bool
	Reason    string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
}
