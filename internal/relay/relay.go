package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Relay drains the domain_events journal into the broker. It claims a batch
// under row locks, marks the rows processing with a visibility window, and
// publishes each one; failures re-queue the row with exponential backoff.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type journalRow struct {
	ID            int64
	EventID       string
	EventType     string
	CorrelationID string
	Payload       []byte
	OccurredAt    time.Time
	Attempts      int
}

// envelope is the wire shape consumers see.
type envelope struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data,omitempty"`
}

func New(pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

func (r *Relay) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Relay) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.dispatch(ctx); err != nil {
			r.logger.Error("event relay failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) dispatch(ctx context.Context) error {
	rows, err := r.claimRows(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := r.publishOne(ctx, row); err != nil {
			r.logger.Warn("relay event failed", "event_id", row.EventID, "type", row.EventType, "err", err)
		}
	}
	return nil
}

func (r *Relay) claimRows(ctx context.Context) ([]journalRow, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, correlation_id, payload, occurred_at, relay_attempts
		FROM domain_events
		WHERE relay_status = 'pending'
		   OR (relay_status = 'processing' AND relay_next_retry <= NOW())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		r.batchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []journalRow
	for rows.Next() {
		var row journalRow
		if err := rows.Scan(&row.ID, &row.EventID, &row.EventType, &row.CorrelationID,
			&row.Payload, &row.OccurredAt, &row.Attempts); err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	releaseAt := time.Now().Add(30 * time.Second)
	for _, row := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE domain_events
			SET relay_status = 'processing', relay_next_retry = $2
			WHERE id = $1`,
			row.ID, releaseAt,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Relay) publishOne(ctx context.Context, row journalRow) error {
	body, err := json.Marshal(envelope{
		EventID:       row.EventID,
		Type:          row.EventType,
		CorrelationID: row.CorrelationID,
		OccurredAt:    row.OccurredAt,
		Data:          row.Payload,
	})
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.publisher.Publish(pubCtx, row.EventType, body); err != nil {
		return r.markFailure(ctx, row, err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE domain_events
		SET relay_status = 'sent'
		WHERE id = $1`,
		row.ID,
	)
	return err
}

func (r *Relay) markFailure(ctx context.Context, row journalRow, publishErr error) error {
	nextRetry := time.Now().Add(retryDelay(row.Attempts + 1))
	if _, err := r.pool.Exec(ctx, `
		UPDATE domain_events
		SET relay_status = 'pending',
		    relay_attempts = relay_attempts + 1,
		    relay_next_retry = $2
		WHERE id = $1`,
		row.ID, nextRetry,
	); err != nil {
		return err
	}
	return publishErr
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
