package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger mirrors the Postgres ledger's semantics under one mutex. It
// backs the tests and the memory store mode.
type MemoryLedger struct {
	mu           sync.Mutex
	products     map[uuid.UUID]*memProduct
	reservations map[string][]*memHold
}

type memProduct struct {
	available int
	reserved  int
	threshold int
}

type memHold struct {
	productID uuid.UUID
	quantity  int
	state     State
	createdAt time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		products:     make(map[uuid.UUID]*memProduct),
		reservations: make(map[string][]*memHold),
	}
}

// AddProduct seeds stock for a product.
func (l *MemoryLedger) AddProduct(productID uuid.UUID, available, lowStockThreshold int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[productID] = &memProduct{available: available, threshold: lowStockThreshold}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string, items []Item) (ReserveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.reservations[key] {
		if h.state == StateReserved {
			return ReserveResult{OK: true}, nil
		}
	}

	result := ReserveResult{}
	for _, item := range items {
		p, ok := l.products[item.ProductID]
		if !ok {
			return ReserveResult{}, fmt.Errorf("product %s: %w", item.ProductID, ErrUnknownProduct)
		}
		if p.available < item.Quantity {
			result.Shortages = append(result.Shortages, Shortage{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: p.available,
			})
		}
	}
	if len(result.Shortages) > 0 {
		return result, nil
	}

	now := time.Now().UTC()
	for _, item := range items {
		p := l.products[item.ProductID]
		p.available -= item.Quantity
		p.reserved += item.Quantity
		l.reservations[key] = append(l.reservations[key], &memHold{
			productID: item.ProductID,
			quantity:  item.Quantity,
			state:     StateReserved,
			createdAt: now,
		})
	}
	result.OK = true
	return result, nil
}

func (l *MemoryLedger) Commit(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds := l.reservations[key]
	if len(holds) == 0 {
		return fmt.Errorf("commit %s: %w", key, ErrUnknownReservation)
	}
	for _, h := range holds {
		if h.state != StateReserved {
			continue
		}
		l.products[h.productID].reserved -= h.quantity
		h.state = StateCommitted
	}
	return nil
}

func (l *MemoryLedger) Cancel(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds := l.reservations[key]
	if len(holds) == 0 {
		return fmt.Errorf("cancel %s: %w", key, ErrUnknownReservation)
	}
	for _, h := range holds {
		p := l.products[h.productID]
		switch h.state {
		case StateReserved:
			p.available += h.quantity
			p.reserved -= h.quantity
		case StateCommitted:
			p.available += h.quantity
		default:
			continue
		}
		h.state = StateCancelled
	}
	return nil
}

func (l *MemoryLedger) Rebind(_ context.Context, oldKey, newKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var moved []*memHold
	var kept []*memHold
	for _, h := range l.reservations[oldKey] {
		if h.state == StateReserved {
			moved = append(moved, h)
		} else {
			kept = append(kept, h)
		}
	}
	if len(moved) == 0 {
		return fmt.Errorf("rebind %s: %w", oldKey, ErrUnknownReservation)
	}
	l.reservations[newKey] = append(l.reservations[newKey], moved...)
	if len(kept) == 0 {
		delete(l.reservations, oldKey)
	} else {
		l.reservations[oldKey] = kept
	}
	return nil
}

func (l *MemoryLedger) Return(_ context.Context, key string, items []ReturnItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, item := range items {
		found := false
		for _, h := range l.reservations[key] {
			if h.productID == item.ProductID && h.state == StateCommitted {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("return %s/%s: %w", key, item.ProductID, ErrUnknownReservation)
		}
		l.products[item.ProductID].available += item.Quantity
	}
	return nil
}

func (l *MemoryLedger) ExpireBefore(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expired := 0
	for _, holds := range l.reservations {
		for _, h := range holds {
			if h.state == StateReserved && h.createdAt.Before(cutoff) {
				p := l.products[h.productID]
				p.available += h.quantity
				p.reserved -= h.quantity
				h.state = StateCancelled
				expired++
			}
		}
	}
	return expired, nil
}

func (l *MemoryLedger) Restock(_ context.Context, productID uuid.UUID, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return fmt.Errorf("restock %s: %w", productID, ErrUnknownProduct)
	}
	p.available += quantity
	return nil
}

func (l *MemoryLedger) Stock(_ context.Context, productID uuid.UUID) (StockLevel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return StockLevel{}, fmt.Errorf("stock %s: %w", productID, ErrUnknownProduct)
	}
	return StockLevel{
		ProductID: productID,
		Available: p.available,
		Reserved:  p.reserved,
		LowStock:  p.available <= p.threshold,
	}, nil
}

// HoldState reports the state of the hold for (key, productID); used by
// tests asserting reservation lifecycles.
func (l *MemoryLedger) HoldState(key string, productID uuid.UUID) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.reservations[key] {
		if h.productID == productID {
			return h.state, true
		}
	}
	return "", false
}
