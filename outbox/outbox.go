package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Writer stores events in the outbox table inside the caller's transaction.
// The dispatcher drains them to Kafka after commit, so an event is published
// iff its originating state change committed.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue appends one event. Must run inside the same transaction as the
// state write it describes.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
