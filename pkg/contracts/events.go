package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain event types. One checkout attempt threads all of them through a
// single correlation id.
const (
	EventCheckoutInitiated  = "checkout.initiated"
	EventOrderCreated       = "order.created"
	EventOrderFailed        = "order.failed"
	EventPaymentProcessing  = "payment.processing"
	EventPaymentCompleted   = "payment.completed"
	EventPaymentFailed      = "payment.failed"
	EventInventoryUpdated   = "inventory.updated"
	EventConfirmationSent   = "confirmation.sent"
	EventOrderCompleted     = "order.completed"
	EventOrderStatusChanged = "order.status_changed"
	EventInventoryChanged   = "inventory.changed"
)

// JobCompletedEvent and JobFailedEvent name the bus events the worker pool
// publishes when a job of the given type finishes.
func JobCompletedEvent(jobType string) string {
	return "job." + jobType + ".completed"
}

func JobFailedEvent(jobType string) string {
	return "job." + jobType + ".failed"
}

// Event is the envelope every domain event travels in. Events are immutable
// once published; CorrelationID must be copied unchanged into every derived
// event and job.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope with a fresh event id and the payload marshalled
// into Data. A nil payload leaves Data empty.
func NewEvent(eventType, correlationID string, payload any) (Event, error) {
	evt := Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Data = data
	}
	return evt, nil
}

// DecodeData unmarshals the event payload into dst.
func (e Event) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

type CheckoutInitiatedData struct {
	CustomerID     string `json:"customer_id"`
	CartID         string `json:"cart_id"`
	ReservationKey string `json:"reservation_key"`
	DiscountCode   string `json:"discount_code,omitempty"`
}

type OrderCreatedData struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
}

type OrderFailedData struct {
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason"`
}

type PaymentResultData struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	Reason        string `json:"reason,omitempty"`
}

type OrderStatusChangedData struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type InventoryChangedData struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	LowStock  bool   `json:"low_stock,omitempty"`
}

type ConfirmationSentData struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
}
