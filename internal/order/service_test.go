package order

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/notify"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type recordingSender struct {
	mu            sync.Mutex
	confirmations []notify.ConfirmationEmail
	recoveries    []notify.RecoveryEmail
}

func (r *recordingSender) SendOrderConfirmation(_ context.Context, msg notify.ConfirmationEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmations = append(r.confirmations, msg)
	return nil
}

func (r *recordingSender) SendCartRecovery(_ context.Context, msg notify.RecoveryEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoveries = append(r.recoveries, msg)
	return nil
}

type svcFixture struct {
	store   *MemoryStore
	ledger  *inventory.MemoryLedger
	queue   *queue.MemoryQueue
	journal *events.MemoryJournal
	bus     *events.Bus
	sender  *recordingSender
	svc     *Service
}

func newSvcFixture(t *testing.T, cfg Config) *svcFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := events.NewMemoryJournal()
	f := &svcFixture{
		store:   NewMemoryStore(),
		ledger:  inventory.NewMemoryLedger(),
		queue:   queue.NewMemoryQueue(),
		journal: journal,
		bus:     events.New(logger, journal),
		sender:  &recordingSender{},
	}
	f.svc = NewService(f.store, f.ledger, f.bus, f.queue, f.sender, logger, cfg)
	return f
}

// seedProduct registers a priced, stocked product.
func (f *svcFixture) seedProduct(t *testing.T, stock int, priceCents int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.ledger.AddProduct(id, stock, 2)
	f.store.SetPrice(id, priceCents)
	return id
}

// checkout runs the synchronous path and returns everything the order-creation
// job would receive.
func (f *svcFixture) checkout(t *testing.T, email string, items []CartItem, discount string) (contracts.OrderCreationJob, string) {
	t.Helper()
	ctx := context.Background()
	customer, err := f.store.ResolveCustomer(ctx, email)
	require.NoError(t, err)
	cartID := f.store.SetCart(customer.ID, items)

	accepted, err := f.svc.Checkout(ctx, CheckoutRequest{Email: email, DiscountCode: discount})
	require.NoError(t, err)
	f.bus.Drain()

	return contracts.OrderCreationJob{
		CustomerID:     customer.ID.String(),
		CartID:         cartID.String(),
		ReservationKey: CheckoutKey(customer.ID, items),
		DiscountCode:   discount,
	}, accepted.CorrelationID
}

func (f *svcFixture) createOrder(t *testing.T, payload contracts.OrderCreationJob, correlationID string) contracts.OrderCreatedData {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := f.svc.HandleOrderCreation(context.Background(), queue.Job{
		ID:            contracts.JobOrderCreation + ":" + correlationID,
		Type:          contracts.JobOrderCreation,
		CorrelationID: correlationID,
		Payload:       raw,
	})
	require.NoError(t, err)
	f.bus.Drain()

	var created contracts.OrderCreatedData
	require.NoError(t, json.Unmarshal(result, &created))
	return created
}

// placeOrder runs checkout plus order creation for a one-line cart.
func (f *svcFixture) placeOrder(t *testing.T, email string, productID uuid.UUID, qty int) contracts.OrderCreatedData {
	t.Helper()
	payload, corr := f.checkout(t, email, []CartItem{{ProductID: productID, Quantity: qty}}, "")
	return f.createOrder(t, payload, corr)
}

func TestCheckoutHoldsStockAndPublishes(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 1500)

	payload, corr := f.checkout(t, "amara@example.test", []CartItem{{ProductID: productID, Quantity: 3}}, "")
	assert.NotEmpty(t, corr)

	stock, err := f.ledger.Stock(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 7, stock.Available)
	assert.Equal(t, 3, stock.Reserved)

	state, ok := f.ledger.HoldState(payload.ReservationKey, productID)
	require.True(t, ok)
	assert.Equal(t, inventory.StateReserved, state)

	evts := f.journal.All()
	require.Len(t, evts, 1)
	assert.Equal(t, contracts.EventCheckoutInitiated, evts[0].Type)
	assert.Equal(t, corr, evts[0].CorrelationID)
}

func TestCheckoutEmptyCartRejected(t *testing.T) {
	f := newSvcFixture(t, Config{})
	ctx := context.Background()
	customer, err := f.store.ResolveCustomer(ctx, "empty@example.test")
	require.NoError(t, err)
	f.store.SetCart(customer.ID, nil)

	_, err = f.svc.Checkout(ctx, CheckoutRequest{Email: "empty@example.test"})
	require.Error(t, err)
	assert.True(t, fault.IsRejection(err))
	assert.Equal(t, "empty_cart", fault.CodeOf(err))
}

func TestCheckoutShortageIsItemized(t *testing.T) {
	f := newSvcFixture(t, Config{})
	scarce := f.seedProduct(t, 2, 900)
	plenty := f.seedProduct(t, 50, 400)
	ctx := context.Background()
	customer, err := f.store.ResolveCustomer(ctx, "greedy@example.test")
	require.NoError(t, err)
	f.store.SetCart(customer.ID, []CartItem{
		{ProductID: scarce, Quantity: 5},
		{ProductID: plenty, Quantity: 1},
	})

	_, err = f.svc.Checkout(ctx, CheckoutRequest{Email: "greedy@example.test"})
	require.Error(t, err)
	assert.Equal(t, "insufficient_stock", fault.CodeOf(err))

	var shortage *ShortageError
	require.True(t, errors.As(err, &shortage))
	require.Len(t, shortage.Shortages, 1)
	assert.Equal(t, scarce, shortage.Shortages[0].ProductID)
	assert.Equal(t, 5, shortage.Shortages[0].Requested)
	assert.Equal(t, 2, shortage.Shortages[0].Available)

	// All-or-nothing: the satisfiable line was not held either.
	stock, err := f.ledger.Stock(ctx, plenty)
	require.NoError(t, err)
	assert.Equal(t, 50, stock.Available)
	assert.Equal(t, 0, stock.Reserved)
}

func TestOrderCreationCompletesOrder(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 1200)
	ctx := context.Background()

	payload, corr := f.checkout(t, "buyer@example.test", []CartItem{{ProductID: productID, Quantity: 2}}, "")
	created := f.createOrder(t, payload, corr)
	assert.Equal(t, int64(2400), created.TotalCents)

	orderID := uuid.MustParse(created.OrderID)
	o, err := f.store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, corr, o.CorrelationID)

	// Hold rebound to the order key and committed.
	state, ok := f.ledger.HoldState(inventory.OrderKey(orderID), productID)
	require.True(t, ok)
	assert.Equal(t, inventory.StateCommitted, state)

	// Cart was cleared.
	cart, err := f.store.CartByID(ctx, uuid.MustParse(payload.CartID))
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestOrderCreationReplayReturnsSameOrder(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 500)

	payload, corr := f.checkout(t, "replay@example.test", []CartItem{{ProductID: productID, Quantity: 1}}, "")
	first := f.createOrder(t, payload, corr)
	second := f.createOrder(t, payload, corr)
	assert.Equal(t, first.OrderID, second.OrderID)

	// No second decrement happened.
	stock, err := f.ledger.Stock(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 9, stock.Available)
}

func TestOrderCreationReplayResumesPendingOrder(t *testing.T) {
	f := newSvcFixture(t, Config{ReservationTTL: -time.Second})
	productID := f.seedProduct(t, 10, 600)
	ctx := context.Background()

	payload, corr := f.checkout(t, "resume@example.test", []CartItem{{ProductID: productID, Quantity: 2}}, "")

	// The first attempt wrote the pending order and died before touching the
	// hold. The retry must finish the flow, not report success over a
	// stranded order.
	pending := &Order{
		ID:            uuid.New(),
		CustomerID:    uuid.MustParse(payload.CustomerID),
		CorrelationID: corr,
		Status:        StatusPending,
		SubtotalCents: 1200,
		TotalCents:    1200,
		Items:         []Item{{ProductID: productID, Quantity: 2, UnitPriceCents: 600}},
	}
	require.NoError(t, f.store.CreateOrder(ctx, pending))

	created := f.createOrder(t, payload, corr)
	assert.Equal(t, pending.ID.String(), created.OrderID)

	o, err := f.store.OrderByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)

	state, ok := f.ledger.HoldState(inventory.OrderKey(pending.ID), productID)
	require.True(t, ok)
	assert.Equal(t, inventory.StateCommitted, state)

	// Nothing is left reserved for the TTL sweep to release; the sold stock
	// stays sold.
	result, err := f.svc.HandleReservationSweep(ctx, queue.Job{ID: "rs-resume"})
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(result, &counts))
	assert.Equal(t, 0, counts["expired"])

	stock, err := f.ledger.Stock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 8, stock.Available)
	assert.Equal(t, 0, stock.Reserved)
}

func TestOrderCreationReplayAfterRebindResumes(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 600)
	ctx := context.Background()

	payload, corr := f.checkout(t, "rebound@example.test", []CartItem{{ProductID: productID, Quantity: 1}}, "")
	pending := &Order{
		ID:            uuid.New(),
		CustomerID:    uuid.MustParse(payload.CustomerID),
		CorrelationID: corr,
		Status:        StatusPending,
		SubtotalCents: 600,
		TotalCents:    600,
		Items:         []Item{{ProductID: productID, Quantity: 1, UnitPriceCents: 600}},
	}
	require.NoError(t, f.store.CreateOrder(ctx, pending))

	// First attempt got as far as rebinding the hold before dying.
	require.NoError(t, f.ledger.Rebind(ctx, payload.ReservationKey, inventory.OrderKey(pending.ID)))

	created := f.createOrder(t, payload, corr)
	assert.Equal(t, pending.ID.String(), created.OrderID)

	o, err := f.store.OrderByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)

	state, ok := f.ledger.HoldState(inventory.OrderKey(pending.ID), productID)
	require.True(t, ok)
	assert.Equal(t, inventory.StateCommitted, state)
}

func TestOrderCreationReplayOfFailedOrderReportsFailure(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 600)
	ctx := context.Background()

	payload, corr := f.checkout(t, "doomed@example.test", []CartItem{{ProductID: productID, Quantity: 1}}, "")
	failed := &Order{
		ID:            uuid.New(),
		CustomerID:    uuid.MustParse(payload.CustomerID),
		CorrelationID: corr,
		Status:        StatusFailed,
	}
	require.NoError(t, f.store.CreateOrder(ctx, failed))

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = f.svc.HandleOrderCreation(ctx, queue.Job{
		ID: "order-creation:" + corr, Type: contracts.JobOrderCreation,
		CorrelationID: corr, Payload: raw,
	})
	require.Error(t, err)
	assert.Equal(t, "order_failed", fault.CodeOf(err))
	assert.False(t, fault.Retryable(err))
}

func TestOrderCreationCommitFailureCompensates(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 800)
	ctx := context.Background()
	customer, err := f.store.ResolveCustomer(ctx, "ghost@example.test")
	require.NoError(t, err)
	cartID := f.store.SetCart(customer.ID, []CartItem{{ProductID: productID, Quantity: 1}})

	// No reservation was ever made under this key, so the commit cannot
	// succeed and the handler must compensate.
	raw, err := json.Marshal(contracts.OrderCreationJob{
		CustomerID:     customer.ID.String(),
		CartID:         cartID.String(),
		ReservationKey: "chk_never_reserved",
	})
	require.NoError(t, err)

	_, err = f.svc.HandleOrderCreation(ctx, queue.Job{
		ID: "order-creation:ghost", Type: contracts.JobOrderCreation,
		CorrelationID: "ghost", Payload: raw,
	})
	require.Error(t, err)
	assert.Equal(t, "reservation_commit_failed", fault.CodeOf(err))
	assert.False(t, fault.Retryable(err))

	o, err := f.store.OrderByCorrelation(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)

	stock, err := f.ledger.Stock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, stock.Available)
}

func TestEveryThirdCompletedOrderMintsDiscount(t *testing.T) {
	f := newSvcFixture(t, Config{DiscountEvery: 3, DiscountPercent: 10})
	productID := f.seedProduct(t, 100, 1000)
	ctx := context.Background()
	email := "loyal@example.test"

	f.placeOrder(t, email, productID, 1)
	f.placeOrder(t, email, productID, 1)

	customer, err := f.store.ResolveCustomer(ctx, email)
	require.NoError(t, err)
	codes, err := f.store.DiscountCodesForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, codes, "no code before the third order")

	f.placeOrder(t, email, productID, 1)

	codes, err = f.store.DiscountCodesForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, 10, codes[0].Percentage)
	assert.Equal(t, 3, codes[0].OrderNumberGenerated)
	assert.Contains(t, codes[0].Code, "SAVE10-")
}

func TestMultiLineCartCountsAsOneOrder(t *testing.T) {
	f := newSvcFixture(t, Config{DiscountEvery: 3})
	a := f.seedProduct(t, 10, 100)
	b := f.seedProduct(t, 10, 200)
	c := f.seedProduct(t, 10, 300)
	ctx := context.Background()
	email := "bulk@example.test"

	payload, corr := f.checkout(t, email, []CartItem{
		{ProductID: a, Quantity: 1},
		{ProductID: b, Quantity: 1},
		{ProductID: c, Quantity: 1},
	}, "")
	f.createOrder(t, payload, corr)

	customer, err := f.store.ResolveCustomer(ctx, email)
	require.NoError(t, err)
	codes, err := f.store.DiscountCodesForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, codes, "three cart lines are one completed order, not three")
}

func TestDiscountAppliedAndConsumed(t *testing.T) {
	f := newSvcFixture(t, Config{DiscountEvery: 3, DiscountPercent: 10})
	productID := f.seedProduct(t, 100, 1000)
	ctx := context.Background()
	email := "saver@example.test"

	for i := 0; i < 3; i++ {
		f.placeOrder(t, email, productID, 1)
	}
	customer, err := f.store.ResolveCustomer(ctx, email)
	require.NoError(t, err)
	codes, err := f.store.DiscountCodesForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	code := codes[0].Code

	payload, corr := f.checkout(t, email, []CartItem{{ProductID: productID, Quantity: 2}}, code)
	created := f.createOrder(t, payload, corr)
	assert.Equal(t, int64(1800), created.TotalCents, "10 percent off 2000")

	// Second use is rejected.
	payload2, corr2 := f.checkout(t, email, []CartItem{{ProductID: productID, Quantity: 1}}, code)
	raw, err := json.Marshal(payload2)
	require.NoError(t, err)
	_, err = f.svc.HandleOrderCreation(ctx, queue.Job{
		ID: "order-creation:" + corr2, Type: contracts.JobOrderCreation,
		CorrelationID: corr2, Payload: raw,
	})
	require.Error(t, err)
	assert.True(t, fault.IsRejection(err))
	assert.Equal(t, "discount_used", fault.CodeOf(err))
}

func TestDiscountOfAnotherCustomerRejected(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 100, 500)
	ctx := context.Background()

	owner, err := f.store.ResolveCustomer(ctx, "owner@example.test")
	require.NoError(t, err)
	_, err = f.store.CreateDiscountCode(ctx, DiscountCode{
		ID: uuid.New(), Code: "SAVE10-OWNED", CustomerID: owner.ID,
		Percentage: 10, IsAvailable: true, OrderNumberGenerated: 3,
	})
	require.NoError(t, err)

	payload, corr := f.checkout(t, "thief@example.test",
		[]CartItem{{ProductID: productID, Quantity: 1}}, "SAVE10-OWNED")
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = f.svc.HandleOrderCreation(ctx, queue.Job{
		ID: "order-creation:" + corr, Type: contracts.JobOrderCreation,
		CorrelationID: corr, Payload: raw,
	})
	require.Error(t, err)
	assert.Equal(t, "invalid_discount", fault.CodeOf(err))
}

func TestCancelRestoresStock(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 700)
	ctx := context.Background()

	created := f.placeOrder(t, "cancel@example.test", productID, 4)
	orderID := uuid.MustParse(created.OrderID)

	stock, _ := f.ledger.Stock(ctx, productID)
	require.Equal(t, 6, stock.Available)

	require.NoError(t, f.svc.Cancel(ctx, orderID))
	f.bus.Drain()

	o, err := f.store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	stock, err = f.ledger.Stock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, stock.Available)
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 700)
	ctx := context.Background()

	created := f.placeOrder(t, "twice@example.test", productID, 1)
	orderID := uuid.MustParse(created.OrderID)
	require.NoError(t, f.svc.Cancel(ctx, orderID))

	err := f.svc.Cancel(ctx, orderID)
	require.Error(t, err)
	assert.Equal(t, "invalid_transition", fault.CodeOf(err))
}

func TestPartialThenFullReturn(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 300)
	ctx := context.Background()

	created := f.placeOrder(t, "returner@example.test", productID, 3)
	orderID := uuid.MustParse(created.OrderID)

	require.NoError(t, f.svc.Return(ctx, orderID, []ReturnLine{{ProductID: productID, Quantity: 1, Reason: "damaged"}}))
	o, err := f.store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status, "partial return keeps the order completed")

	stock, _ := f.ledger.Stock(ctx, productID)
	assert.Equal(t, 8, stock.Available)

	require.NoError(t, f.svc.Return(ctx, orderID, []ReturnLine{{ProductID: productID, Quantity: 2}}))
	f.bus.Drain()
	o, err = f.store.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, o.Status)

	stock, _ = f.ledger.Stock(ctx, productID)
	assert.Equal(t, 10, stock.Available)
}

func TestOverReturnRejected(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 300)
	ctx := context.Background()

	created := f.placeOrder(t, "over@example.test", productID, 2)
	orderID := uuid.MustParse(created.OrderID)

	err := f.svc.Return(ctx, orderID, []ReturnLine{{ProductID: productID, Quantity: 3}})
	require.Error(t, err)
	assert.Equal(t, "invalid_return", fault.CodeOf(err))

	require.NoError(t, f.svc.Return(ctx, orderID, []ReturnLine{{ProductID: productID, Quantity: 2}}))
	err = f.svc.Return(ctx, orderID, []ReturnLine{{ProductID: productID, Quantity: 1}})
	require.Error(t, err, "order already fully returned")
}

func TestOrderNumberStableAfterCancellation(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 100, 100)
	ctx := context.Background()
	email := "steady@example.test"

	first := f.placeOrder(t, email, productID, 1)
	second := f.placeOrder(t, email, productID, 1)

	secondID := uuid.MustParse(second.OrderID)
	n, err := f.svc.OrderNumber(ctx, secondID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, f.svc.Cancel(ctx, uuid.MustParse(first.OrderID)))

	n, err = f.svc.OrderNumber(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "cancelling an earlier order never renumbers later ones")
}

func TestConfirmationHandlerSendsEmail(t *testing.T) {
	f := newSvcFixture(t, Config{})
	productID := f.seedProduct(t, 10, 2000)
	email := "mail@example.test"

	created := f.placeOrder(t, email, productID, 1)
	raw, err := json.Marshal(contracts.OrderConfirmationJob{OrderID: created.OrderID})
	require.NoError(t, err)

	result, err := f.svc.HandleOrderConfirmation(context.Background(), queue.Job{
		ID: "order-confirmation:" + created.OrderID, Payload: raw,
	})
	require.NoError(t, err)

	var sent contracts.ConfirmationSentData
	require.NoError(t, json.Unmarshal(result, &sent))
	assert.Equal(t, email, sent.Email)

	require.Len(t, f.sender.confirmations, 1)
	assert.Equal(t, 1, f.sender.confirmations[0].OrderNumber)
	assert.Equal(t, int64(2000), f.sender.confirmations[0].TotalCents)
}

func TestInventoryUpdateEmitsStockEvents(t *testing.T) {
	f := newSvcFixture(t, Config{LowStockWarn: true})
	productID := f.seedProduct(t, 3, 100)

	created := f.placeOrder(t, "stock@example.test", productID, 2)
	raw, err := json.Marshal(contracts.InventoryUpdateJob{OrderID: created.OrderID})
	require.NoError(t, err)

	_, err = f.svc.HandleInventoryUpdate(context.Background(), queue.Job{
		ID: "inventory-update:" + created.OrderID, CorrelationID: "corr-x", Payload: raw,
	})
	require.NoError(t, err)
	f.bus.Drain()

	var changed []contracts.Event
	for _, evt := range f.journal.All() {
		if evt.Type == contracts.EventInventoryChanged {
			changed = append(changed, evt)
		}
	}
	require.Len(t, changed, 1)

	var data contracts.InventoryChangedData
	require.NoError(t, changed[0].DecodeData(&data))
	assert.Equal(t, productID.String(), data.ProductID)
	assert.Equal(t, 1, data.Available)
	assert.True(t, data.LowStock)
}

func TestCartSweepEnqueuesDedupedRecovery(t *testing.T) {
	f := newSvcFixture(t, Config{CartIdleWindow: time.Hour})
	productID := f.seedProduct(t, 10, 100)
	ctx := context.Background()

	customer, err := f.store.ResolveCustomer(ctx, "idle@example.test")
	require.NoError(t, err)
	cartID := f.store.SetCart(customer.ID, []CartItem{{ProductID: productID, Quantity: 1}})
	f.store.AgeCart(cartID, time.Now().UTC().Add(-2*time.Hour))

	_, err = f.svc.HandleCartSweep(ctx, queue.Job{ID: "sweep-1"})
	require.NoError(t, err)

	job, err := f.queue.JobByID(ctx, "cart-recovery:"+cartID.String())
	require.NoError(t, err)
	assert.Equal(t, contracts.JobCartRecoveryEmail, job.Type)

	// A second sweep finds nothing new.
	result, err := f.svc.HandleCartSweep(ctx, queue.Job{ID: "sweep-2"})
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(result, &counts))
	assert.Equal(t, 0, counts["carts_nudged"])
}

func TestCartRecoveryHandlerSkipsCheckedOutCart(t *testing.T) {
	f := newSvcFixture(t, Config{})
	raw, err := json.Marshal(contracts.CartRecoveryJob{
		CartID: uuid.NewString(), CustomerID: uuid.NewString(), Email: "gone@example.test",
	})
	require.NoError(t, err)

	_, err = f.svc.HandleCartRecovery(context.Background(), queue.Job{ID: "cr-1", Payload: raw})
	require.NoError(t, err)
	assert.Empty(t, f.sender.recoveries)
}

func TestReservationSweepReleasesStaleHolds(t *testing.T) {
	// Negative TTL pushes the cutoff into the future so fresh holds count as
	// stale, without sleeping in the test.
	f := newSvcFixture(t, Config{ReservationTTL: -time.Second})
	productID := f.seedProduct(t, 10, 100)
	ctx := context.Background()

	f.checkout(t, "stale@example.test", []CartItem{{ProductID: productID, Quantity: 4}}, "")
	stock, _ := f.ledger.Stock(ctx, productID)
	require.Equal(t, 6, stock.Available)

	result, err := f.svc.HandleReservationSweep(ctx, queue.Job{ID: "rs-1"})
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(result, &counts))
	assert.Equal(t, 1, counts["expired"])

	stock, err = f.ledger.Stock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, stock.Available)
}
