package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// PgJournal records published events in the domain_events table. Unrelayed
// rows are picked up by the relay and published to the broker.
type PgJournal struct {
	pool *pgxpool.Pool
}

func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

func (j *PgJournal) Append(ctx context.Context, evt contracts.Event) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO domain_events (event_id, event_type, correlation_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		evt.ID, evt.Type, evt.CorrelationID, []byte(evt.Data), evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append domain event: %w", err)
	}
	return nil
}

func (j *PgJournal) ByCorrelation(ctx context.Context, correlationID string) ([]contracts.Event, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT event_id, event_type, correlation_id, payload, occurred_at
		FROM domain_events
		WHERE correlation_id = $1
		ORDER BY id`, correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query domain events: %w", err)
	}
	defer rows.Close()

	var result []contracts.Event
	for rows.Next() {
		var evt contracts.Event
		var payload []byte
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.CorrelationID, &payload, &evt.OccurredAt); err != nil {
			return nil, err
		}
		evt.Data = payload
		result = append(result, evt)
	}
	return result, rows.Err()
}
