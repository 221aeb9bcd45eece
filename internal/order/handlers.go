package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// HandleInventoryUpdate publishes post-sale stock facts for every line of the
// order so storefront caches and dashboards can refresh.
func (s *Service) HandleInventoryUpdate(ctx context.Context, job queue.Job) ([]byte, error) {
	var payload contracts.InventoryUpdateJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}

	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, fault.Terminal("order_missing", err)
		}
		return nil, err
	}

	for _, item := range o.Items {
		level, err := s.ledger.Stock(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("read stock: %w", err)
		}
		if level.LowStock && s.cfg.LowStockWarn {
			s.logger.Warn("product low on stock",
				"product_id", item.ProductID, "available", level.Available)
		}
		evt, err := contracts.NewEvent(contracts.EventInventoryChanged, job.CorrelationID, contracts.InventoryChangedData{
			ProductID: item.ProductID.String(),
			Available: level.Available,
			LowStock:  level.LowStock,
		})
		if err != nil {
			return nil, err
		}
		evt.Source = "inventory"
		if err := s.bus.Publish(ctx, evt); err != nil {
			return nil, fmt.Errorf("publish inventory change: %w", err)
		}
	}

	return json.Marshal(map[string]int{"products_updated": len(o.Items)})
}

// HandleOrderConfirmation hands the confirmation email to the notification
// boundary.
func (s *Service) HandleOrderConfirmation(ctx context.Context, job queue.Job) ([]byte, error) {
	var payload contracts.OrderConfirmationJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}

	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, fault.Terminal("order_missing", err)
		}
		return nil, err
	}
	customer, err := s.store.CustomerByID(ctx, o.CustomerID)
	if err != nil {
		return nil, err
	}
	number, err := s.store.OrderNumber(ctx, orderID)
	if err != nil {
		return nil, err
	}

	msg := notifyConfirmation(o, customer.Email, number)
	if err := s.sender.SendOrderConfirmation(ctx, msg); err != nil {
		return nil, fmt.Errorf("send confirmation: %w", err)
	}

	return json.Marshal(contracts.ConfirmationSentData{
		OrderID: orderID.String(),
		Email:   customer.Email,
	})
}

// HandleCartRecovery sends the recovery nudge enqueued by the abandonment
// sweep.
func (s *Service) HandleCartRecovery(ctx context.Context, job queue.Job) ([]byte, error) {
	var payload contracts.CartRecoveryJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}
	cartID, err := uuid.Parse(payload.CartID)
	if err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}

	cart, err := s.store.CartByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			// Checked out or deleted since the sweep; nothing to recover.
			return nil, nil
		}
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, nil
	}

	if err := s.sender.SendCartRecovery(ctx, recoveryEmail(cart, payload.Email)); err != nil {
		return nil, fmt.Errorf("send recovery email: %w", err)
	}
	return nil, nil
}

// HandleCartSweep is the recurring maintenance job finding idle carts and
// enqueueing one deduped recovery email per cart.
func (s *Service) HandleCartSweep(ctx context.Context, job queue.Job) ([]byte, error) {
	idleBefore := time.Now().UTC().Add(-s.cfg.CartIdleWindow)
	carts, err := s.store.AbandonedCarts(ctx, idleBefore, 100)
	if err != nil {
		return nil, err
	}

	enqueued := 0
	for _, cart := range carts {
		customer, err := s.store.CustomerByID(ctx, cart.CustomerID)
		if err != nil {
			s.logger.Warn("abandoned cart without customer", "cart_id", cart.ID, "err", err)
			continue
		}
		payload, err := json.Marshal(contracts.CartRecoveryJob{
			CartID:     cart.ID.String(),
			CustomerID: cart.CustomerID.String(),
			Email:      customer.Email,
		})
		if err != nil {
			return nil, err
		}
		fresh, err := s.jobs.Enqueue(ctx, queue.Job{
			ID:       "cart-recovery:" + cart.ID.String(),
			Queue:    contracts.QueueEmailNotifications,
			Type:     contracts.JobCartRecoveryEmail,
			Payload:  payload,
			Priority: contracts.PriorityNotification,
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue recovery job: %w", err)
		}
		if fresh {
			enqueued++
		}
		if err := s.store.MarkCartNotified(ctx, cart.ID); err != nil {
			s.logger.Warn("mark cart notified", "cart_id", cart.ID, "err", err)
		}
	}

	return json.Marshal(map[string]int{"carts_nudged": enqueued})
}

// HandleReservationSweep cancels holds that never reached commit within the
// TTL, releasing their stock.
func (s *Service) HandleReservationSweep(ctx context.Context, job queue.Job) ([]byte, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.ReservationTTL)
	expired, err := s.ledger.ExpireBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		s.logger.Info("expired stale reservations", "count", expired)
	}
	return json.Marshal(map[string]int{"expired": expired})
}

// OrderNumber exposes the derived per-customer order rank.
func (s *Service) OrderNumber(ctx context.Context, orderID uuid.UUID) (int, error) {
	return s.store.OrderNumber(ctx, orderID)
}

// OrderByCorrelation resolves a tracking handle to the order, if one exists
// yet.
func (s *Service) OrderByCorrelation(ctx context.Context, correlationID string) (Order, error) {
	return s.store.OrderByCorrelation(ctx, correlationID)
}
