package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// Stage names, in flow order.
const (
	StageInitiated         = "initiated"
	StageOrderCreated      = "order_created"
	StagePaymentProcessing = "payment_processing"
	StagePaymentCompleted  = "payment_completed"
	StageInventoryUpdated  = "inventory_updated"
	StageConfirmationSent  = "confirmation_sent"
	StageCompleted         = "completed"
	StageFailed            = "failed"
)

var stageByEvent = map[string]string{
	contracts.EventCheckoutInitiated: StageInitiated,
	contracts.EventOrderCreated:      StageOrderCreated,
	contracts.EventPaymentProcessing: StagePaymentProcessing,
	contracts.EventPaymentCompleted:  StagePaymentCompleted,
	contracts.EventInventoryUpdated:  StageInventoryUpdated,
	contracts.EventConfirmationSent:  StageConfirmationSent,
	contracts.EventOrderCompleted:    StageCompleted,
	contracts.EventOrderFailed:       StageFailed,
	contracts.EventPaymentFailed:     StageFailed,
}

var stageRank = map[string]int{
	StageInitiated:         1,
	StageOrderCreated:      2,
	StagePaymentProcessing: 3,
	StagePaymentCompleted:  4,
	StageInventoryUpdated:  5,
	StageConfirmationSent:  6,
	StageCompleted:         7,
	StageFailed:            8, // terminal, wins over everything
}

// StageEvent is one recorded step of a saga, for the tracking endpoint.
type StageEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Progress is the reconstructed state of one checkout attempt.
type Progress struct {
	CorrelationID string       `json:"correlation_id"`
	Stage         string       `json:"stage"`
	Events        []StageEvent `json:"events"`
}

// ErrUnknownCorrelation reports a correlation id with no journalled events.
var ErrUnknownCorrelation = fmt.Errorf("saga: unknown correlation id")

// ProgressFor replays the journal for one correlation id and derives the
// furthest stage reached. A failure event is terminal regardless of what
// else was recorded.
func ProgressFor(ctx context.Context, journal events.Journal, correlationID string) (Progress, error) {
	recorded, err := journal.ByCorrelation(ctx, correlationID)
	if err != nil {
		return Progress{}, fmt.Errorf("load saga events: %w", err)
	}
	if len(recorded) == 0 {
		return Progress{}, ErrUnknownCorrelation
	}

	progress := Progress{CorrelationID: correlationID}
	for _, evt := range recorded {
		stage, ok := stageByEvent[evt.Type]
		if !ok {
			continue
		}
		progress.Events = append(progress.Events, StageEvent{
			Type:       evt.Type,
			OccurredAt: evt.OccurredAt,
		})
		if stageRank[stage] > stageRank[progress.Stage] {
			progress.Stage = stage
		}
	}
	if progress.Stage == "" {
		return Progress{}, ErrUnknownCorrelation
	}
	return progress, nil
}
