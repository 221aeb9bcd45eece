package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gw "github.com/gorilla/websocket"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/saga"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub     *Hub
	journal events.Journal
	logger  *slog.Logger
}

func NewHandler(hub *Hub, journal events.Journal, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, journal: journal, logger: logger}
}

// ServeWS upgrades the connection and registers it under the checkout's
// correlation id. The first frame is a snapshot of the saga so far; live
// updates follow.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationID")
	if correlationID == "" {
		http.Error(w, "missing correlation id", http.StatusBadRequest)
		return
	}

	progress, err := saga.ProgressFor(r.Context(), h.journal, correlationID)
	if err != nil {
		if errors.Is(err, saga.ErrUnknownCorrelation) {
			http.Error(w, "unknown correlation id", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:           h.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		correlationID: correlationID,
	}

	client.hub.register <- client
	go client.writePump()
	go client.readPump()

	snapshot, err := json.Marshal(progress)
	if err == nil {
		select {
		case client.send <- snapshot:
		case <-time.After(time.Second):
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
