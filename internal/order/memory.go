package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore mirrors PgStore's semantics in process.
type MemoryStore struct {
	mu        sync.Mutex
	customers map[uuid.UUID]Customer
	carts     map[uuid.UUID]*Cart
	prices    map[uuid.UUID]int64
	orders    map[uuid.UUID]*Order
	discounts map[uuid.UUID]*DiscountCode
	returns   map[uuid.UUID][]ReturnLine
	clock     int64 // monotonic creation order for derived order numbers
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[uuid.UUID]Customer),
		carts:     make(map[uuid.UUID]*Cart),
		prices:    make(map[uuid.UUID]int64),
		orders:    make(map[uuid.UUID]*Order),
		discounts: make(map[uuid.UUID]*DiscountCode),
		returns:   make(map[uuid.UUID][]ReturnLine),
	}
}

// SetPrice seeds a product price.
func (s *MemoryStore) SetPrice(productID uuid.UUID, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[productID] = priceCents
}

// SetCart replaces the customer's cart contents.
func (s *MemoryStore) SetCart(customerID uuid.UUID, items []CartItem) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cart := range s.carts {
		if cart.CustomerID == customerID {
			cart.Items = items
			cart.UpdatedAt = time.Now().UTC()
			cart.NotifiedAt = nil
			return cart.ID
		}
	}
	id := uuid.New()
	s.carts[id] = &Cart{ID: id, CustomerID: customerID, Items: items, UpdatedAt: time.Now().UTC()}
	return id
}

// AgeCart backdates a cart for abandonment tests.
func (s *MemoryStore) AgeCart(cartID uuid.UUID, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[cartID]; ok {
		cart.UpdatedAt = updatedAt
	}
}

func (s *MemoryStore) ResolveCustomer(_ context.Context, email string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.Email == email {
			return c, nil
		}
	}
	c := Customer{ID: uuid.New(), Email: email, CreatedAt: time.Now().UTC()}
	s.customers[c.ID] = c
	return c, nil
}

func (s *MemoryStore) CustomerByID(_ context.Context, id uuid.UUID) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (s *MemoryStore) CartForCustomer(_ context.Context, customerID uuid.UUID) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cart := range s.carts {
		if cart.CustomerID == customerID {
			return cloneCart(cart), nil
		}
	}
	return Cart{}, ErrCartNotFound
}

func (s *MemoryStore) CartByID(_ context.Context, cartID uuid.UUID) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[cartID]
	if !ok {
		return Cart{}, ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func cloneCart(cart *Cart) Cart {
	copied := *cart
	copied.Items = append([]CartItem(nil), cart.Items...)
	return copied
}

func (s *MemoryStore) ClearCart(_ context.Context, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[cartID]; ok {
		cart.Items = nil
	}
	return nil
}

func (s *MemoryStore) AbandonedCarts(_ context.Context, idleBefore time.Time, limit int) ([]Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Cart
	for _, cart := range s.carts {
		if len(cart.Items) > 0 && cart.NotifiedAt == nil && cart.UpdatedAt.Before(idleBefore) {
			result = append(result, cloneCart(cart))
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkCartNotified(_ context.Context, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[cartID]; ok {
		now := time.Now().UTC()
		cart.NotifiedAt = &now
	}
	return nil
}

func (s *MemoryStore) ProductPrices(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make(map[uuid.UUID]int64, len(ids))
	for _, id := range ids {
		if price, ok := s.prices[id]; ok {
			prices[id] = price
		}
	}
	return prices, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.DiscountCodeID != nil {
		dc, ok := s.discounts[*o.DiscountCodeID]
		if !ok {
			return ErrDiscountInvalid
		}
		if dc.IsUsed {
			return ErrDiscountUsed
		}
		dc.IsUsed = true
		dc.IsAvailable = false
	}

	s.clock++
	now := time.Now().UTC().Add(time.Duration(s.clock)) // strictly increasing
	o.CreatedAt = now
	o.UpdatedAt = now
	copied := *o
	copied.Items = append([]Item(nil), o.Items...)
	s.orders[o.ID] = &copied
	return nil
}

func (s *MemoryStore) OrderByID(_ context.Context, id uuid.UUID) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) OrderByCorrelation(_ context.Context, correlationID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CorrelationID == correlationID {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func cloneOrder(o *Order) Order {
	copied := *o
	copied.Items = append([]Item(nil), o.Items...)
	return copied
}

func (s *MemoryStore) TransitionStatus(_ context.Context, orderID uuid.UUID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return ErrOrderNotFound
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) OrderNumber(_ context.Context, orderID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.orders[orderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	var siblings []*Order
	for _, o := range s.orders {
		if o.CustomerID == target.CustomerID {
			siblings = append(siblings, o)
		}
	}
	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
	})
	for i, o := range siblings {
		if o.ID == orderID {
			return i + 1, nil
		}
	}
	return 0, ErrOrderNotFound
}

func (s *MemoryStore) CompletedOrderCount(_ context.Context, customerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.CustomerID == customerID && o.Status == StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DiscountByCode(_ context.Context, code string) (DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dc := range s.discounts {
		if dc.Code == code {
			return *dc, nil
		}
	}
	return DiscountCode{}, ErrDiscountInvalid
}

func (s *MemoryStore) CreateDiscountCode(_ context.Context, dc DiscountCode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.discounts {
		if existing.CustomerID == dc.CustomerID && existing.OrderNumberGenerated == dc.OrderNumberGenerated {
			return false, nil
		}
	}
	dc.CreatedAt = time.Now().UTC()
	copied := dc
	s.discounts[dc.ID] = &copied
	return true, nil
}

func (s *MemoryStore) DiscountCodesForCustomer(_ context.Context, customerID uuid.UUID) ([]DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []DiscountCode
	for _, dc := range s.discounts {
		if dc.CustomerID == customerID {
			codes = append(codes, *dc)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].CreatedAt.Before(codes[j].CreatedAt) })
	return codes, nil
}

func (s *MemoryStore) RecordReturn(_ context.Context, orderID uuid.UUID, items []ReturnLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returns[orderID] = append(s.returns[orderID], items...)
	return nil
}

func (s *MemoryStore) ReturnedQuantities(_ context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make(map[uuid.UUID]int)
	for _, line := range s.returns[orderID] {
		sums[line.ProductID] += line.Quantity
	}
	return sums, nil
}
