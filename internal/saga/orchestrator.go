// Package saga wires the event-type-to-next-job table: on each received
// event it decides the job to enqueue or the compensating action to run. The
// orchestrator holds no durable state; restarting it resumes in-flight sagas
// from the queue.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// OrderFailer drives an order to failed during compensation.
type OrderFailer interface {
	MarkFailed(ctx context.Context, orderID uuid.UUID) error
}

// Alerter receives operator alerts for critical-set terminal failures.
type Alerter interface {
	Alert()
}

type Orchestrator struct {
	queue   queue.Queue
	bus     *events.Bus
	ledger  inventory.Ledger
	orders  OrderFailer
	alerter Alerter
	logger  *slog.Logger
	unsubs  []func()
}

func NewOrchestrator(q queue.Queue, bus *events.Bus, ledger inventory.Ledger,
	orders OrderFailer, alerter Alerter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		queue:   q,
		bus:     bus,
		ledger:  ledger,
		orders:  orders,
		alerter: alerter,
		logger:  logger,
	}
}

// Register subscribes every edge of the transition table.
func (o *Orchestrator) Register() {
	sub := func(eventType string, h events.Handler) {
		o.unsubs = append(o.unsubs, o.bus.Subscribe(eventType, h))
	}

	sub(contracts.EventCheckoutInitiated, o.onCheckoutInitiated)
	sub(contracts.JobCompletedEvent(contracts.JobOrderCreation), o.onOrderCreationCompleted)
	sub(contracts.JobFailedEvent(contracts.JobOrderCreation), o.onOrderCreationFailed)
	sub(contracts.JobCompletedEvent(contracts.JobPaymentProcessing), o.onPaymentCompleted)
	sub(contracts.JobFailedEvent(contracts.JobPaymentProcessing), o.onPaymentFailed)
	sub(contracts.JobCompletedEvent(contracts.JobInventoryUpdate), o.onInventoryUpdated)
	sub(contracts.JobCompletedEvent(contracts.JobOrderConfirmation), o.onConfirmationSent)

	// Non-critical failures only get logged.
	for _, jobType := range []string{
		contracts.JobInventoryUpdate,
		contracts.JobOrderConfirmation,
		contracts.JobCartRecoveryEmail,
	} {
		sub(contracts.JobFailedEvent(jobType), o.onNonCriticalFailed)
	}
}

// Close drops every subscription.
func (o *Orchestrator) Close() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
}

func (o *Orchestrator) onCheckoutInitiated(ctx context.Context, evt contracts.Event) {
	var data contracts.CheckoutInitiatedData
	if err := evt.DecodeData(&data); err != nil {
		o.logger.Error("bad checkout event", "correlation_id", evt.CorrelationID, "err", err)
		return
	}

	o.enqueue(ctx, queue.Job{
		ID:            contracts.JobOrderCreation + ":" + evt.CorrelationID,
		Queue:         contracts.QueueOrderProcessing,
		Type:          contracts.JobOrderCreation,
		CorrelationID: evt.CorrelationID,
		Priority:      contracts.PriorityOrder,
	}, contracts.OrderCreationJob{
		CustomerID:     data.CustomerID,
		CartID:         data.CartID,
		ReservationKey: data.ReservationKey,
		DiscountCode:   data.DiscountCode,
	})
}

func (o *Orchestrator) onOrderCreationCompleted(ctx context.Context, evt contracts.Event) {
	var done contracts.JobCompletedData
	if err := evt.DecodeData(&done); err != nil {
		o.logger.Error("bad job completion", "correlation_id", evt.CorrelationID, "err", err)
		return
	}
	var created contracts.OrderCreatedData
	if err := json.Unmarshal(done.Result, &created); err != nil {
		o.logger.Error("bad order-creation result", "job_id", done.JobID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventOrderCreated, created)

	o.enqueue(ctx, queue.Job{
		ID:            contracts.JobPaymentProcessing + ":" + created.OrderID,
		Queue:         contracts.QueuePaymentProcessing,
		Type:          contracts.JobPaymentProcessing,
		CorrelationID: evt.CorrelationID,
		Priority:      contracts.PriorityPayment,
	}, contracts.PaymentJob{
		OrderID:     created.OrderID,
		CustomerID:  created.CustomerID,
		AmountCents: created.TotalCents,
	})

	o.publish(ctx, evt.CorrelationID, contracts.EventPaymentProcessing, contracts.PaymentResultData{
		OrderID:     created.OrderID,
		AmountCents: created.TotalCents,
	})
}

func (o *Orchestrator) onOrderCreationFailed(ctx context.Context, evt contracts.Event) {
	var failed contracts.JobFailedData
	if err := evt.DecodeData(&failed); err != nil {
		o.logger.Error("bad job failure event", "correlation_id", evt.CorrelationID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventOrderFailed, contracts.OrderFailedData{
		Reason: failed.Reason,
	})

	// Compensate the synchronous hold. If commit already failed the handler
	// released it under the order key, so an unknown checkout key is fine.
	var payload contracts.OrderCreationJob
	if err := o.jobPayload(ctx, failed.JobID, &payload); err != nil {
		o.logger.Error("load failed job payload", "job_id", failed.JobID, "err", err)
	} else if payload.ReservationKey != "" {
		if err := o.ledger.Cancel(ctx, payload.ReservationKey); err != nil &&
			!errors.Is(err, inventory.ErrUnknownReservation) {
			cerr := fault.Compensation("reservation_cancel_failed", err)
			o.logger.Error("compensation failure: checkout hold not released",
				"correlation_id", evt.CorrelationID, "reservation_key", payload.ReservationKey, "err", cerr)
		}
	}

	o.raiseAlert(contracts.JobOrderCreation, evt.CorrelationID, failed.Reason)
}

func (o *Orchestrator) onPaymentCompleted(ctx context.Context, evt contracts.Event) {
	var done contracts.JobCompletedData
	if err := evt.DecodeData(&done); err != nil {
		o.logger.Error("bad job completion", "correlation_id", evt.CorrelationID, "err", err)
		return
	}
	var result contracts.PaymentResultData
	if err := json.Unmarshal(done.Result, &result); err != nil {
		o.logger.Error("bad payment result", "job_id", done.JobID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventPaymentCompleted, result)

	o.enqueue(ctx, queue.Job{
		ID:            contracts.JobInventoryUpdate + ":" + result.OrderID,
		Queue:         contracts.QueueInventoryUpdates,
		Type:          contracts.JobInventoryUpdate,
		CorrelationID: evt.CorrelationID,
		Priority:      contracts.PriorityInventory,
	}, contracts.InventoryUpdateJob{OrderID: result.OrderID})
}

func (o *Orchestrator) onPaymentFailed(ctx context.Context, evt contracts.Event) {
	var failed contracts.JobFailedData
	if err := evt.DecodeData(&failed); err != nil {
		o.logger.Error("bad job failure event", "correlation_id", evt.CorrelationID, "err", err)
		return
	}

	var payload contracts.PaymentJob
	if err := o.jobPayload(ctx, failed.JobID, &payload); err != nil {
		o.logger.Error("load failed payment payload", "job_id", failed.JobID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventPaymentFailed, contracts.PaymentResultData{
		OrderID: payload.OrderID,
		Reason:  failed.Reason,
	})

	o.compensatePayment(ctx, evt.CorrelationID, payload.OrderID)
	o.raiseAlert(contracts.JobPaymentProcessing, evt.CorrelationID, failed.Reason)
}

// compensatePayment reverses the already-committed hold and drives the order
// to failed. Failures here are inventory drift: logged as their own class,
// never swallowed.
func (o *Orchestrator) compensatePayment(ctx context.Context, correlationID, orderIDStr string) {
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		o.logger.Error("bad order id in payment compensation", "order_id", orderIDStr, "err", err)
		return
	}

	if err := o.ledger.Cancel(ctx, inventory.OrderKey(orderID)); err != nil &&
		!errors.Is(err, inventory.ErrUnknownReservation) {
		cerr := fault.Compensation("reservation_cancel_failed", err)
		o.logger.Error("compensation failure: committed hold not released",
			"correlation_id", correlationID, "order_id", orderID, "err", cerr)
	}

	if err := o.orders.MarkFailed(ctx, orderID); err != nil {
		cerr := fault.Compensation("order_fail_transition", err)
		o.logger.Error("compensation failure: order not marked failed",
			"correlation_id", correlationID, "order_id", orderID, "err", cerr)
	}
}

func (o *Orchestrator) onInventoryUpdated(ctx context.Context, evt contracts.Event) {
	var done contracts.JobCompletedData
	if err := evt.DecodeData(&done); err != nil {
		o.logger.Error("bad job completion", "correlation_id", evt.CorrelationID, "err", err)
		return
	}
	var payload contracts.InventoryUpdateJob
	if err := o.jobPayload(ctx, done.JobID, &payload); err != nil {
		o.logger.Error("load inventory job payload", "job_id", done.JobID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventInventoryUpdated, payload)

	o.enqueue(ctx, queue.Job{
		ID:            contracts.JobOrderConfirmation + ":" + payload.OrderID,
		Queue:         contracts.QueueEmailNotifications,
		Type:          contracts.JobOrderConfirmation,
		CorrelationID: evt.CorrelationID,
		Priority:      contracts.PriorityNotification,
	}, contracts.OrderConfirmationJob{OrderID: payload.OrderID})
}

func (o *Orchestrator) onConfirmationSent(ctx context.Context, evt contracts.Event) {
	var done contracts.JobCompletedData
	if err := evt.DecodeData(&done); err != nil {
		o.logger.Error("bad job completion", "correlation_id", evt.CorrelationID, "err", err)
		return
	}
	var sent contracts.ConfirmationSentData
	if err := json.Unmarshal(done.Result, &sent); err != nil {
		o.logger.Error("bad confirmation result", "job_id", done.JobID, "err", err)
		return
	}

	o.publish(ctx, evt.CorrelationID, contracts.EventConfirmationSent, sent)
	o.publish(ctx, evt.CorrelationID, contracts.EventOrderCompleted, contracts.OrderCreatedData{
		OrderID: sent.OrderID,
	})
}

func (o *Orchestrator) onNonCriticalFailed(ctx context.Context, evt contracts.Event) {
	var failed contracts.JobFailedData
	if err := evt.DecodeData(&failed); err != nil {
		return
	}
	o.logger.Error("job exhausted retries", "job_id", failed.JobID,
		"type", failed.JobType, "reason", failed.Reason, "correlation_id", evt.CorrelationID)
}

func (o *Orchestrator) raiseAlert(jobType, correlationID, reason string) {
	if !contracts.CriticalJobTypes[jobType] {
		return
	}
	o.logger.Error("OPERATOR ALERT: critical saga step failed terminally",
		"job_type", jobType, "correlation_id", correlationID, "reason", reason)
	if o.alerter != nil {
		o.alerter.Alert()
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, job queue.Job, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("marshal job payload", "job_id", job.ID, "err", err)
		return
	}
	job.Payload = data
	fresh, err := o.queue.Enqueue(ctx, job)
	if err != nil {
		o.logger.Error("enqueue job", "job_id", job.ID, "err", err)
		return
	}
	if !fresh {
		// Duplicate trigger; the queue's id dedup already holds the work.
		o.logger.Debug("job already enqueued", "job_id", job.ID)
	}
}

func (o *Orchestrator) publish(ctx context.Context, correlationID, eventType string, payload any) {
	evt, err := contracts.NewEvent(eventType, correlationID, payload)
	if err != nil {
		o.logger.Error("build event", "type", eventType, "err", err)
		return
	}
	evt.Source = "orchestrator"
	if err := o.bus.Publish(ctx, evt); err != nil {
		o.logger.Error("publish event", "type", eventType, "err", err)
	}
}

func (o *Orchestrator) jobPayload(ctx context.Context, jobID string, dst any) error {
	job, err := o.queue.JobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	return json.Unmarshal(job.Payload, dst)
}
