package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used by tests. Same idempotency
// behavior as PgStore: one Begin and one Apply per transaction id.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	applied map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		applied: make(map[string]bool),
	}
}

func (s *MemoryStore) Begin(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TransactionID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Status = StatusProcessing
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.TransactionID] = &rec
	return true, nil
}

func (s *MemoryStore) Apply(_ context.Context, transactionID string, status Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied[transactionID] {
		return false, nil
	}
	rec, ok := s.records[transactionID]
	if !ok || rec.Status != StatusProcessing {
		return false, ErrPaymentNotFound
	}
	s.applied[transactionID] = true
	rec.Status = status
	rec.Reason = reason
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ByTransactionID(_ context.Context, transactionID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[transactionID]
	if !ok {
		return Record{}, ErrPaymentNotFound
	}
	return *rec, nil
}

func (s *MemoryStore) ByOrder(_ context.Context, orderID uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.OrderID == orderID {
			return *rec, nil
		}
	}
	return Record{}, ErrPaymentNotFound
}
