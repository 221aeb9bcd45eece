package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/notify"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// Enqueuer is the slice of the queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (bool, error)
}

// ShortageError carries the per-item detail of a failed reservation so the
// HTTP layer can render it.
type ShortageError struct {
	Shortages []inventory.Shortage
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %d item(s)", len(e.Shortages))
}

type Config struct {
	// DiscountEvery mints a discount code on every Nth completed order.
	DiscountEvery   int
	DiscountPercent int
	CartIdleWindow  time.Duration
	ReservationTTL  time.Duration
	LowStockWarn    bool
}

type Service struct {
	store  Store
	ledger inventory.Ledger
	bus    *events.Bus
	jobs   Enqueuer
	sender notify.Sender
	logger *slog.Logger
	cfg    Config
}

func NewService(store Store, ledger inventory.Ledger, bus *events.Bus, jobs Enqueuer,
	sender notify.Sender, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiscountEvery <= 0 {
		cfg.DiscountEvery = 3
	}
	if cfg.DiscountPercent <= 0 {
		cfg.DiscountPercent = 10
	}
	return &Service{
		store:  store,
		ledger: ledger,
		bus:    bus,
		jobs:   jobs,
		sender: sender,
		logger: logger,
		cfg:    cfg,
	}
}

type CheckoutRequest struct {
	Email        string `json:"email"`
	SessionID    string `json:"session_id,omitempty"`
	DiscountCode string `json:"discount_code,omitempty"`
}

type CheckoutAccepted struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// CheckoutKey derives the temporary reservation key from the cart snapshot
// and customer, so replaying the same checkout reserves once.
func CheckoutKey(customerID uuid.UUID, items []CartItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s:%d", item.ProductID, item.Quantity))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(customerID.String() + "|" + strings.Join(lines, "|")))
	return "chk_" + hex.EncodeToString(sum[:])[:24]
}

// Checkout is the synchronous part of the saga: resolve the customer, load a
// non-empty cart, hold the stock. Everything after the hold travels through
// the queue; the caller gets a correlation id to track it with.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutAccepted, error) {
	if strings.TrimSpace(req.Email) == "" {
		return CheckoutAccepted{}, fault.Rejection("invalid_request", errors.New("email is required"))
	}

	customer, err := s.store.ResolveCustomer(ctx, req.Email)
	if err != nil {
		return CheckoutAccepted{}, fmt.Errorf("resolve customer: %w", err)
	}

	cart, err := s.store.CartForCustomer(ctx, customer.ID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return CheckoutAccepted{}, fault.Rejection("empty_cart", err)
		}
		return CheckoutAccepted{}, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return CheckoutAccepted{}, fault.Rejection("empty_cart", errors.New("cart has no items"))
	}

	items := make([]inventory.Item, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, inventory.Item{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	key := CheckoutKey(customer.ID, cart.Items)
	result, err := s.ledger.Reserve(ctx, key, items)
	if err != nil {
		if errors.Is(err, inventory.ErrUnknownProduct) {
			return CheckoutAccepted{}, fault.Rejection("unknown_product", err)
		}
		return CheckoutAccepted{}, fmt.Errorf("reserve inventory: %w", err)
	}
	if !result.OK {
		return CheckoutAccepted{}, fault.Rejection("insufficient_stock", &ShortageError{Shortages: result.Shortages})
	}

	correlationID := uuid.NewString()
	evt, err := contracts.NewEvent(contracts.EventCheckoutInitiated, correlationID, contracts.CheckoutInitiatedData{
		CustomerID:     customer.ID.String(),
		CartID:         cart.ID.String(),
		ReservationKey: key,
		DiscountCode:   req.DiscountCode,
	})
	if err != nil {
		return CheckoutAccepted{}, err
	}
	evt.CustomerID = customer.ID.String()
	evt.SessionID = req.SessionID
	evt.Source = "checkout"
	if err := s.bus.Publish(ctx, evt); err != nil {
		return CheckoutAccepted{}, fmt.Errorf("publish checkout event: %w", err)
	}

	return CheckoutAccepted{CorrelationID: correlationID, Status: "initiated"}, nil
}

// HandleOrderCreation is the order-creation job: price the cart, apply the
// discount, write the pending order, rebind and commit the hold, then flip
// the order completed. A replayed job finds the order by correlation id; a
// settled order reports the earlier outcome, a pending one resumes where the
// first attempt stopped.
func (s *Service) HandleOrderCreation(ctx context.Context, job queue.Job) ([]byte, error) {
	var payload contracts.OrderCreationJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}

	if existing, err := s.store.OrderByCorrelation(ctx, job.CorrelationID); err == nil {
		switch existing.Status {
		case StatusPending:
			// The first attempt died between the order write and completion;
			// the hold is still uncommitted. Finish the flow instead of
			// reporting success over a stranded order.
			cartID, perr := uuid.Parse(payload.CartID)
			if perr != nil {
				return nil, fault.Terminal("bad_payload", perr)
			}
			return s.settle(ctx, &existing, payload.ReservationKey, cartID)
		case StatusFailed:
			return nil, fault.Terminal("order_failed",
				fmt.Errorf("order %s already failed", existing.ID))
		default:
			return orderResult(existing)
		}
	} else if !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup order: %w", err)
	}

	customerID, err := uuid.Parse(payload.CustomerID)
	if err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}
	cartID, err := uuid.Parse(payload.CartID)
	if err != nil {
		return nil, fault.Terminal("bad_payload", err)
	}

	cart, err := s.store.CartByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, fault.Rejection("cart_missing", err)
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, fault.Rejection("cart_missing", errors.New("cart emptied before order creation"))
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, line := range cart.Items {
		ids = append(ids, line.ProductID)
	}
	prices, err := s.store.ProductPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}

	var subtotal int64
	orderItems := make([]Item, 0, len(cart.Items))
	for _, line := range cart.Items {
		price, ok := prices[line.ProductID]
		if !ok {
			return nil, fault.Rejection("unknown_product", fmt.Errorf("no price for %s", line.ProductID))
		}
		subtotal += price * int64(line.Quantity)
		orderItems = append(orderItems, Item{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: price,
		})
	}

	o := &Order{
		ID:            uuid.New(),
		CustomerID:    customerID,
		CorrelationID: job.CorrelationID,
		Status:        StatusPending,
		SubtotalCents: subtotal,
		TotalCents:    subtotal,
		Items:         orderItems,
	}

	if payload.DiscountCode != "" {
		dc, derr := s.validateDiscount(ctx, payload.DiscountCode, customerID)
		if derr != nil {
			return nil, derr
		}
		o.DiscountCodeID = &dc.ID
		o.DiscountCents = subtotal * int64(dc.Percentage) / 100
		o.TotalCents = subtotal - o.DiscountCents
	}

	if err := s.store.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, ErrDiscountUsed) {
			return nil, fault.Rejection("discount_used", err)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.publishStatus(ctx, job.CorrelationID, o.ID, StatusPending)

	return s.settle(ctx, o, payload.ReservationKey, cart.ID)
}

// settle drives a pending order from the hold commit to completed: rebind the
// checkout hold onto the order key, commit it, flip the status, clear the
// cart. Every step tolerates having already run, so a retried job can pick up
// wherever the previous attempt stopped.
func (s *Service) settle(ctx context.Context, o *Order, reservationKey string, cartID uuid.UUID) ([]byte, error) {
	orderKey := inventory.OrderKey(o.ID)
	if err := s.ledger.Rebind(ctx, reservationKey, orderKey); err != nil {
		// An earlier attempt may have rebound already; anything else is real.
		if !errors.Is(err, inventory.ErrUnknownReservation) {
			return nil, fmt.Errorf("rebind reservation: %w", err)
		}
	}

	if err := s.ledger.Commit(ctx, orderKey); err != nil {
		s.failOrder(ctx, o, orderKey)
		return nil, fault.Terminal("reservation_commit_failed", err)
	}

	if err := s.store.TransitionStatus(ctx, o.ID, StatusPending, StatusCompleted); err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	o.Status = StatusCompleted
	s.publishStatus(ctx, o.CorrelationID, o.ID, StatusCompleted)

	if err := s.store.ClearCart(ctx, cartID); err != nil {
		s.logger.Warn("clear cart failed", "cart_id", cartID, "err", err)
	}

	s.maybeGrantDiscount(ctx, o.CustomerID)

	return orderResult(*o)
}

func orderResult(o Order) ([]byte, error) {
	return json.Marshal(contracts.OrderCreatedData{
		OrderID:    o.ID.String(),
		CustomerID: o.CustomerID.String(),
		TotalCents: o.TotalCents,
	})
}

func (s *Service) validateDiscount(ctx context.Context, code string, customerID uuid.UUID) (DiscountCode, error) {
	dc, err := s.store.DiscountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrDiscountInvalid) {
			return DiscountCode{}, fault.Rejection("invalid_discount", err)
		}
		return DiscountCode{}, fmt.Errorf("load discount: %w", err)
	}
	if dc.CustomerID != customerID {
		return DiscountCode{}, fault.Rejection("invalid_discount", errors.New("discount belongs to another customer"))
	}
	if dc.IsUsed || !dc.IsAvailable {
		return DiscountCode{}, fault.Rejection("discount_used", ErrDiscountUsed)
	}
	return dc, nil
}

// failOrder is the compensating path of a commit failure: the order flips to
// failed and the hold is released. A failed release is inventory drift and is
// logged as its own class.
func (s *Service) failOrder(ctx context.Context, o *Order, orderKey string) {
	if err := s.store.TransitionStatus(ctx, o.ID, StatusPending, StatusFailed); err != nil {
		s.logger.Error("mark order failed", "order_id", o.ID, "err", err)
	} else {
		s.publishStatus(ctx, o.CorrelationID, o.ID, StatusFailed)
	}
	if err := s.ledger.Cancel(ctx, orderKey); err != nil {
		cerr := fault.Compensation("reservation_cancel_failed", err)
		s.logger.Error("compensation failure: reservation not released",
			"order_id", o.ID, "reservation_key", orderKey, "err", cerr)
	}
}

// MarkFailed drives an order to failed from either pending or completed; the
// orchestrator uses it when payment fails after the order settled.
func (s *Service) MarkFailed(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusFailed {
		return nil
	}
	if !CanTransition(o.Status, StatusFailed) {
		return fault.Terminal("invalid_transition",
			fmt.Errorf("order %s: %s->%s", orderID, o.Status, StatusFailed))
	}
	if err := s.store.TransitionStatus(ctx, orderID, o.Status, StatusFailed); err != nil {
		return err
	}
	s.publishStatus(ctx, o.CorrelationID, orderID, StatusFailed)
	return nil
}

// Cancel is the customer-initiated cancellation of a completed order. It
// competes with, never interrupts, an in-flight saga: the conditional status
// update is the arbiter.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return fault.Terminal("invalid_transition",
			fmt.Errorf("order %s: %s->%s", orderID, o.Status, StatusCancelled))
	}
	if err := s.store.TransitionStatus(ctx, orderID, o.Status, StatusCancelled); err != nil {
		return fault.Terminal("invalid_transition", err)
	}

	returns := make([]inventory.ReturnItem, 0, len(o.Items))
	for _, item := range o.Items {
		returns = append(returns, inventory.ReturnItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reason:    "order cancelled",
		})
	}
	if err := s.ledger.Return(ctx, inventory.OrderKey(orderID), returns); err != nil {
		cerr := fault.Compensation("return_failed", err)
		s.logger.Error("compensation failure: cancelled order stock not restored",
			"order_id", orderID, "err", cerr)
		return cerr
	}

	s.publishStatus(ctx, o.CorrelationID, orderID, StatusCancelled)
	return nil
}

// Return records a post-sale return. The order flips to returned only once
// the summed returns cover every ordered unit; partial returns leave it
// completed.
func (s *Service) Return(ctx context.Context, orderID uuid.UUID, items []ReturnLine) error {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusCompleted {
		return fault.Terminal("invalid_transition",
			fmt.Errorf("order %s: cannot return from %s", orderID, o.Status))
	}

	ordered := make(map[uuid.UUID]int, len(o.Items))
	for _, item := range o.Items {
		ordered[item.ProductID] = item.Quantity
	}
	already, err := s.store.ReturnedQuantities(ctx, orderID)
	if err != nil {
		return err
	}
	for _, line := range items {
		max, ok := ordered[line.ProductID]
		if !ok {
			return fault.Rejection("invalid_return", fmt.Errorf("product %s not on order", line.ProductID))
		}
		if line.Quantity <= 0 || already[line.ProductID]+line.Quantity > max {
			return fault.Rejection("invalid_return",
				fmt.Errorf("product %s: returning %d of %d ordered, %d already returned",
					line.ProductID, line.Quantity, max, already[line.ProductID]))
		}
	}

	if err := s.store.RecordReturn(ctx, orderID, items); err != nil {
		return err
	}

	returns := make([]inventory.ReturnItem, 0, len(items))
	for _, line := range items {
		returns = append(returns, inventory.ReturnItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Reason:    line.Reason,
		})
	}
	if err := s.ledger.Return(ctx, inventory.OrderKey(orderID), returns); err != nil {
		cerr := fault.Compensation("return_failed", err)
		s.logger.Error("compensation failure: returned stock not restored", "order_id", orderID, "err", cerr)
		return cerr
	}

	// Full return?
	sums, err := s.store.ReturnedQuantities(ctx, orderID)
	if err != nil {
		return err
	}
	full := true
	for productID, qty := range ordered {
		if sums[productID] < qty {
			full = false
			break
		}
	}
	if full {
		if err := s.store.TransitionStatus(ctx, orderID, StatusCompleted, StatusReturned); err != nil {
			return err
		}
		s.publishStatus(ctx, o.CorrelationID, orderID, StatusReturned)
	}
	return nil
}

func (s *Service) maybeGrantDiscount(ctx context.Context, customerID uuid.UUID) {
	count, err := s.store.CompletedOrderCount(ctx, customerID)
	if err != nil {
		s.logger.Error("count completed orders", "customer_id", customerID, "err", err)
		return
	}
	if count == 0 || count%s.cfg.DiscountEvery != 0 {
		return
	}

	dc := DiscountCode{
		ID:                   uuid.New(),
		Code:                 generateCode(s.cfg.DiscountPercent),
		CustomerID:           customerID,
		Percentage:           s.cfg.DiscountPercent,
		OrderNumberGenerated: count,
		IsAvailable:          true,
	}
	created, err := s.store.CreateDiscountCode(ctx, dc)
	if err != nil {
		s.logger.Error("create discount code", "customer_id", customerID, "err", err)
		return
	}
	if created {
		s.logger.Info("discount code granted",
			"customer_id", customerID, "code", dc.Code, "completed_orders", count)
	}
}

func generateCode(percent int) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("SAVE%d-%s", percent, suffix)
}

func (s *Service) publishStatus(ctx context.Context, correlationID string, orderID uuid.UUID, status Status) {
	evt, err := contracts.NewEvent(contracts.EventOrderStatusChanged, correlationID, contracts.OrderStatusChangedData{
		OrderID: orderID.String(),
		Status:  string(status),
	})
	if err != nil {
		s.logger.Error("build status event", "order_id", orderID, "err", err)
		return
	}
	evt.Source = "order"
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Error("publish status event", "order_id", orderID, "err", err)
	}
}
