// Package httpapi is the HTTP surface: the synchronous checkout edge of the
// saga, the tracking and order lifecycle endpoints, the payment webhook and
// the operator admin routes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/internal/inventory"
	"github.com/Pritam499/e-commerce-sub001/internal/order"
	"github.com/Pritam499/e-commerce-sub001/internal/payment"
	"github.com/Pritam499/e-commerce-sub001/internal/queue"
	"github.com/Pritam499/e-commerce-sub001/internal/saga"
	"github.com/Pritam499/e-commerce-sub001/internal/ws"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type Server struct {
	orderSvc  *order.Service
	payments  *payment.Processor
	queue     queue.Queue
	ledger    inventory.Ledger
	journal   events.Journal
	wsHandler *ws.Handler
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(orderSvc *order.Service, payments *payment.Processor, q queue.Queue,
	ledger inventory.Ledger, journal events.Journal, wsHandler *ws.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orderSvc:  orderSvc,
		payments:  payments,
		queue:     q,
		ledger:    ledger,
		journal:   journal,
		wsHandler: wsHandler,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /checkout", s.checkout)
	s.mux.HandleFunc("GET /checkout/{correlationID}", s.trackCheckout)
	s.mux.HandleFunc("POST /orders/{orderID}/cancel", s.cancelOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/returns", s.returnOrder)
	s.mux.HandleFunc("POST /webhooks/payment", s.paymentWebhook)
	s.mux.HandleFunc("GET /admin/queues", s.queueStats)
	s.mux.HandleFunc("POST /admin/queues/{queue}/purge", s.purgeQueue)
	s.mux.HandleFunc("POST /admin/products/{productID}/restock", s.restock)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if s.wsHandler != nil {
		s.mux.HandleFunc("GET /checkout/{correlationID}/ws", s.wsHandler.ServeWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	accepted, err := s.orderSvc.Checkout(r.Context(), req)
	if err != nil {
		var shortage *order.ShortageError
		if errors.As(err, &shortage) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     "insufficient_stock",
				"shortages": shortage.Shortages,
			})
			return
		}
		s.writeFault(w, err, "checkout")
		return
	}

	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) trackCheckout(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationID")

	progress, err := saga.ProgressFor(r.Context(), s.journal, correlationID)
	if err != nil {
		if errors.Is(err, saga.ErrUnknownCorrelation) {
			writeError(w, http.StatusNotFound, "unknown correlation id")
			return
		}
		s.logger.Error("track checkout", "correlation_id", correlationID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"progress": progress}
	if o, err := s.orderSvc.OrderByCorrelation(r.Context(), correlationID); err == nil {
		resp["order"] = o
	} else if !errors.Is(err, order.ErrOrderNotFound) {
		s.logger.Error("load order for tracking", "correlation_id", correlationID, "err", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if err := s.orderSvc.Cancel(r.Context(), orderID); err != nil {
		s.writeFault(w, err, "cancel order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.StatusCancelled)})
}

func (s *Server) returnOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req struct {
		Items []order.ReturnLine `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items to return")
		return
	}

	if err := s.orderSvc.Return(r.Context(), orderID, req.Items); err != nil {
		s.writeFault(w, err, "return order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id"`
		Succeeded     bool   `json:"succeeded"`
		Reason        string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "missing transaction_id")
		return
	}

	if err := s.payments.ApplyWebhook(r.Context(), req.TransactionID, req.Succeeded, req.Reason); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "unknown transaction")
			return
		}
		s.logger.Error("apply payment webhook", "transaction_id", req.TransactionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	names := []string{
		contracts.QueueOrderProcessing,
		contracts.QueuePaymentProcessing,
		contracts.QueueInventoryUpdates,
		contracts.QueueEmailNotifications,
		contracts.QueueCartAbandonment,
	}
	stats := make([]queue.Stats, 0, len(names))
	for _, name := range names {
		st, err := s.queue.Stats(r.Context(), name)
		if err != nil {
			s.logger.Error("queue stats", "queue", name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		stats = append(stats, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) purgeQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("queue")
	purged, err := s.queue.Purge(r.Context(), name)
	if err != nil {
		s.logger.Error("purge queue", "queue", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": name, "purged": purged})
}

func (s *Server) restock(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(r.PathValue("productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	if err := s.ledger.Restock(r.Context(), productID, req.Quantity); err != nil {
		if errors.Is(err, inventory.ErrUnknownProduct) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("restock", "product_id", productID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	level, err := s.ledger.Stock(r.Context(), productID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// writeFault maps a service error onto a status code by its kind.
func (s *Server) writeFault(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case fault.IsRejection(err):
		writeError(w, http.StatusBadRequest, fault.CodeOf(err))
	case fault.KindOf(err) == fault.KindTerminal:
		writeError(w, http.StatusConflict, fault.CodeOf(err))
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
