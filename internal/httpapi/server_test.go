package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/notify"
	"github.com/Pritam499/e-commerce-sub001/internal/order"
	"github.com/Pritam499/e-commerce-sub001/internal/payment"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type apiFixture struct {
	store    *order.MemoryStore
	ledger   *inventory.MemoryLedger
	queue    *queue.MemoryQueue
	journal  *events.MemoryJournal
	bus      *events.Bus
	payments *payment.MemoryStore
	server   *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := events.NewMemoryJournal()
	f := &apiFixture{
		store:    order.NewMemoryStore(),
		ledger:   inventory.NewMemoryLedger(),
		queue:    queue.NewMemoryQueue(),
		journal:  journal,
		bus:      events.New(logger, journal),
		payments: payment.NewMemoryStore(),
	}
	orderSvc := order.NewService(f.store, f.ledger, f.bus, f.queue, &notify.LogSender{}, logger, order.Config{})
	processor := payment.NewProcessor(f.payments, payment.NewSimulatedGateway(), logger)
	f.server = NewServer(orderSvc, processor, f.queue, f.ledger, f.journal, nil, logger)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seed(t *testing.T, email string, stock, qty int, price int64) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	f.ledger.AddProduct(productID, stock, 2)
	f.store.SetPrice(productID, price)
	customer, err := f.store.ResolveCustomer(context.Background(), email)
	require.NoError(t, err)
	f.store.SetCart(customer.ID, []order.CartItem{{ProductID: productID, Quantity: qty}})
	return productID
}

func TestCheckoutAccepted(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, "web@example.test", 10, 2, 1000)

	rec := f.do(t, http.MethodPost, "/checkout", map[string]string{"email": "web@example.test"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp order.CheckoutAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "initiated", resp.Status)
	assert.NotEmpty(t, resp.CorrelationID)
	f.bus.Drain()
}

func TestCheckoutShortageReturns409(t *testing.T) {
	f := newAPIFixture(t)
	productID := f.seed(t, "want@example.test", 1, 5, 1000)

	rec := f.do(t, http.MethodPost, "/checkout", map[string]string{"email": "want@example.test"})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Error     string               `json:"error"`
		Shortages []inventory.Shortage `json:"shortages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_stock", resp.Error)
	require.Len(t, resp.Shortages, 1)
	assert.Equal(t, productID, resp.Shortages[0].ProductID)
	assert.Equal(t, 5, resp.Shortages[0].Requested)
	assert.Equal(t, 1, resp.Shortages[0].Available)
}

func TestCheckoutWithoutCartReturns400(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/checkout", map[string]string{"email": "nobody@example.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_cart")
}

func TestTrackCheckout(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, "track@example.test", 10, 1, 500)

	rec := f.do(t, http.MethodPost, "/checkout", map[string]string{"email": "track@example.test"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted order.CheckoutAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	f.bus.Drain()

	rec = f.do(t, http.MethodGet, "/checkout/"+accepted.CorrelationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"initiated"`)

	rec = f.do(t, http.MethodGet, "/checkout/chk_nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	productID := uuid.New()
	f.ledger.AddProduct(productID, 10, 2)

	customer, err := f.store.ResolveCustomer(ctx, "cancel@example.test")
	require.NoError(t, err)
	o := &order.Order{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		CorrelationID: "corr-cancel",
		Status:        order.StatusPending,
		Items:         []order.Item{{ProductID: productID, Quantity: 2, UnitPriceCents: 100}},
	}
	require.NoError(t, f.store.CreateOrder(ctx, o))
	require.NoError(t, f.store.TransitionStatus(ctx, o.ID, order.StatusPending, order.StatusCompleted))

	key := inventory.OrderKey(o.ID)
	_, err = f.ledger.Reserve(ctx, key, []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)
	require.NoError(t, f.ledger.Commit(ctx, key))

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/orders/%s/cancel", o.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.bus.Drain()

	// Second cancel hits the state machine.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/orders/%s/cancel", o.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/orders/%s/cancel", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentWebhookUnknownTransaction(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/webhooks/payment", map[string]any{
		"transaction_id": "pay_unknown", "succeeded": true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.queue.Enqueue(context.Background(), queue.Job{
		ID: "j1", Queue: contracts.QueueOrderProcessing, Type: contracts.JobOrderCreation,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/admin/queues", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queues []queue.Stats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queues, 5)
	for _, st := range resp.Queues {
		if st.Queue == contracts.QueueOrderProcessing {
			assert.Equal(t, 1, st.Pending)
		}
	}
}

func TestPurgeQueueEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.queue.Enqueue(context.Background(), queue.Job{
		ID: "j1", Queue: contracts.QueueEmailNotifications, Type: contracts.JobCartRecoveryEmail,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/admin/queues/"+contracts.QueueEmailNotifications+"/purge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"purged":1`)
}

func TestRestockEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	productID := uuid.New()
	f.ledger.AddProduct(productID, 3, 2)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/admin/products/%s/restock", productID),
		map[string]int{"quantity": 7})
	require.Equal(t, http.StatusOK, rec.Code)

	var level inventory.StockLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &level))
	assert.Equal(t, 10, level.Available)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/admin/products/%s/restock", uuid.New()),
		map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/admin/products/%s/restock", productID),
		map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
