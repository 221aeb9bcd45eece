package contracts

import "encoding/json"

// Named queues. Each holds jobs independently schedulable with priority,
// delay and retry policy.
const (
	QueueOrderProcessing    = "order-processing"
	QueuePaymentProcessing  = "payment-processing"
	QueueInventoryUpdates   = "inventory-updates"
	QueueEmailNotifications = "email-notifications"
	QueueCartAbandonment    = "cart-abandonment"
)

// Job types, keyed to registered handlers.
const (
	JobOrderCreation     = "order-creation"
	JobPaymentProcessing = "payment-processing"
	JobInventoryUpdate   = "inventory-update"
	JobOrderConfirmation = "order-confirmation"
	JobCartRecoveryEmail = "cart-recovery-email"
	JobCartSweep         = "cart-abandonment-sweep"
	JobReservationSweep  = "reservation-expiry-sweep"
)

// Payments jump the line; bulk notification work runs last.
const (
	PriorityPayment      = 1
	PriorityOrder        = 5
	PriorityInventory    = 5
	PriorityNotification = 10
)

// CriticalJobTypes are the job types whose terminal failure raises an
// operator alert instead of just a log line.
var CriticalJobTypes = map[string]bool{
	JobOrderCreation:     true,
	JobPaymentProcessing: true,
}

// JobCompletedData is the payload of a job.<type>.completed bus event.
type JobCompletedData struct {
	JobID   string          `json:"job_id"`
	JobType string          `json:"job_type"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// JobFailedData is the payload of a job.<type>.failed bus event, published
// once the job will not be retried again.
type JobFailedData struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	Reason   string `json:"reason"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
}

type OrderCreationJob struct {
	CustomerID     string `json:"customer_id"`
	CartID         string `json:"cart_id"`
	ReservationKey string `json:"reservation_key"`
	DiscountCode   string `json:"discount_code,omitempty"`
}

type PaymentJob struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
}

type InventoryUpdateJob struct {
	OrderID string `json:"order_id"`
}

type OrderConfirmationJob struct {
	OrderID string `json:"order_id"`
}

type CartRecoveryJob struct {
	CartID     string `json:"cart_id"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}
