// Package events is the in-process publish/subscribe fabric of the saga.
// Handlers run asynchronously relative to the publisher but in subscription
// order for a given event type; no ordering holds across types.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

type Handler func(ctx context.Context, evt contracts.Event)

// Journal durably records every published event. It doubles as the relay
// outbox and the saga-progress read model.
type Journal interface {
	Append(ctx context.Context, evt contracts.Event) error
	ByCorrelation(ctx context.Context, correlationID string) ([]contracts.Event, error)
}

type subscription struct {
	id      int
	handler Handler
}

type Bus struct {
	mu      sync.Mutex
	subs    map[string][]subscription
	nextID  int
	journal Journal
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New builds a bus. journal may be nil for tests that don't assert on the
// durable record.
func New(logger *slog.Logger, journal Journal) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:    make(map[string][]subscription),
		journal: journal,
		logger:  logger,
	}
}

// Subscribe registers a handler for eventType and returns its unsubscribe
// handle.
func (b *Bus) Subscribe(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, sub := range list {
			if sub.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish journals the event, then dispatches it to subscribers on a separate
// goroutine. The journal write is synchronous: an event the caller saw
// accepted is always durable, even if the process dies before handlers run
// (in-flight work resumes from the queue, not from the bus).
func (b *Bus) Publish(ctx context.Context, evt contracts.Event) error {
	if b.journal != nil {
		if err := b.journal.Append(ctx, evt); err != nil {
			return err
		}
	}

	detached := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Dispatch(detached, evt)
	}()
	return nil
}

// Dispatch invokes every handler registered for the event's type, in
// subscription order, on the calling goroutine. Tests use it directly to get
// deterministic ordering.
func (b *Bus) Dispatch(ctx context.Context, evt contracts.Event) {
	b.mu.Lock()
	list := make([]subscription, len(b.subs[evt.Type]))
	copy(list, b.subs[evt.Type])
	b.mu.Unlock()

	for _, sub := range list {
		sub.handler(ctx, evt)
	}
}

// Drain blocks until every in-flight asynchronous dispatch has finished.
func (b *Bus) Drain() {
	b.wg.Wait()
}
