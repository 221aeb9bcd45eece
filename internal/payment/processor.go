package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type Processor struct {
	store   Store
	gateway Gateway
	logger  *slog.Logger
}

func NewProcessor(store Store, gateway Gateway, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, gateway: gateway, logger: logger}
}

// HandlePaymentJob charges the order. Safe to re-run: the deterministic
// transaction id makes a redelivered job pick up the existing record instead
// of charging twice.
func (p *Processor) HandlePaymentJob(ctx context.Context, job queue.Job) ([]byte, error) {
	var payload contracts.PaymentJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return nil, fault.Terminal("bad_order_id", err)
	}
	customerID, err := uuid.Parse(payload.CustomerID)
	if err != nil {
		return nil, fault.Terminal("bad_customer_id", err)
	}

	txID := TransactionID(payload.OrderID)
	fresh, err := p.store.Begin(ctx, Record{
		TransactionID: txID,
		OrderID:       orderID,
		CustomerID:    customerID,
		AmountCents:   payload.AmountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("begin payment: %w", err)
	}
	if !fresh {
		rec, err := p.store.ByTransactionID(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("load payment: %w", err)
		}
		switch rec.Status {
		case StatusSucceeded:
			return p.result(payload, txID)
		case StatusFailed:
			return nil, fault.Rejection(rec.Reason, fmt.Errorf("payment already declined"))
		}
		// Still processing: a previous attempt died mid-charge, run it again.
	}

	outcome, err := p.gateway.Charge(ctx, ChargeRequest{
		TransactionID: txID,
		OrderID:       payload.OrderID,
		CustomerID:    payload.CustomerID,
		AmountCents:   payload.AmountCents,
	})
	if err != nil {
		// Gateway unreachable, let the retry policy handle it.
		return nil, fault.Transient("gateway_unavailable", err)
	}

	if !outcome.Succeeded {
		if _, err := p.store.Apply(ctx, txID, StatusFailed, outcome.Reason); err != nil {
			return nil, fmt.Errorf("settle declined payment: %w", err)
		}
		return nil, fault.Rejection(outcome.Reason, fmt.Errorf("charge declined"))
	}

	applied, err := p.store.Apply(ctx, txID, StatusSucceeded, "")
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}
	if !applied {
		// A webhook settled it first; the stored record is the truth.
		rec, err := p.store.ByTransactionID(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("load settled payment: %w", err)
		}
		if rec.Status == StatusFailed {
			return nil, fault.Rejection(rec.Reason, fmt.Errorf("payment settled failed"))
		}
	}

	p.logger.Info("payment charged", "transaction_id", txID, "order_id", payload.OrderID,
		"amount_cents", payload.AmountCents)
	return p.result(payload, txID)
}

// ApplyWebhook settles a charge from an external gateway notification.
// Duplicate deliveries are no-ops; the first settlement for a transaction
// wins, whichever channel it arrives on.
func (p *Processor) ApplyWebhook(ctx context.Context, transactionID string, succeeded bool, reason string) error {
	status := StatusSucceeded
	if !succeeded {
		status = StatusFailed
	}
	applied, err := p.store.Apply(ctx, transactionID, status, reason)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("webhook already applied", "transaction_id", transactionID)
	}
	return nil
}

func (p *Processor) Record(ctx context.Context, orderID uuid.UUID) (Record, error) {
	return p.store.ByOrder(ctx, orderID)
}

func (p *Processor) result(payload contracts.PaymentJob, txID string) ([]byte, error) {
	return json.Marshal(contracts.PaymentResultData{
		TransactionID: txID,
		OrderID:       payload.OrderID,
		AmountCents:   payload.AmountCents,
	})
}
