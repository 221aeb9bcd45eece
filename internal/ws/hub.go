// Package ws streams saga progress to browsers. Clients subscribe by
// correlation id and receive every order-status and inventory change recorded
// for that checkout.
package ws

import (
	"context"
	"encoding/json"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// Update is one message pushed to subscribed clients.
type Update struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	hub           *Hub
	conn          *Conn
	send          chan []byte
	correlationID string
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Update
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Update),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.correlationID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.correlationID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.correlationID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.correlationID)
				}
			}
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			if set, ok := h.clients[upd.CorrelationID]; ok {
				for c := range set {
					select {
					case c.send <- msg:
					default:
						// Slow client, drop it.
						delete(set, c)
						close(c.send)
					}
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) Broadcast(u Update) {
	go func() { h.broadcast <- u }()
}

// Bridge subscribes the hub to the bus events clients care about. Returns the
// unsubscribe handle.
func (h *Hub) Bridge(bus *events.Bus) func() {
	forward := func(_ context.Context, evt contracts.Event) {
		h.Broadcast(Update{
			Type:          evt.Type,
			CorrelationID: evt.CorrelationID,
			Data:          evt.Data,
		})
	}
	unsubStatus := bus.Subscribe(contracts.EventOrderStatusChanged, forward)
	unsubStock := bus.Subscribe(contracts.EventInventoryChanged, forward)
	return func() {
		unsubStatus()
		unsubStock()
	}
}
