package events

import (
	"context"
	"sync"

	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// MemoryJournal keeps the event record in process. It backs tests and the
// memory store mode.
type MemoryJournal struct {
	mu     sync.Mutex
	events []contracts.Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, evt contracts.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.events {
		if e.ID == evt.ID {
			return nil
		}
	}
	j.events = append(j.events, evt)
	return nil
}

func (j *MemoryJournal) ByCorrelation(_ context.Context, correlationID string) ([]contracts.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var result []contracts.Event
	for _, e := range j.events {
		if e.CorrelationID == correlationID {
			result = append(result, e)
		}
	}
	return result, nil
}

// All returns every journaled event in publish order.
func (j *MemoryJournal) All() []contracts.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]contracts.Event, len(j.events))
	copy(out, j.events)
	return out
}
