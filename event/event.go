package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Timeline event types, one per externally observable notification.
const (
	TypeSaleLaunched      = "SALE_LAUNCHED"
	TypeInvested          = "INVESTED"
	TypeSaleEnded         = "SALE_ENDED"
	TypeRefunded          = "REFUNDED"
	TypeMilestoneReleased = "MILESTONE_RELEASED"
)

// Outbox topics for downstream delivery (dashboards, notifications).
const (
	TopicSaleLaunched      = "sale.launched"
	TopicInvested          = "sale.invested"
	TopicSaleEnded         = "sale.ended"
	TopicRefunded          = "sale.refunded"
	TopicMilestoneReleased = "escrow.milestone_released"
)

// Writer appends timeline events and outbox messages inside the caller's
// transaction. The per-sale seq is gapless because every writer holds a
// FOR UPDATE lock on the sale row (or is the transaction creating it).
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Append records an immutable business event on the sale's timeline.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, saleID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const insertSQL = `
INSERT INTO timeline_events (sale_id, seq, type, payload, actor_id)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb, $4::uuid
FROM timeline_events
WHERE sale_id = $1
`
	if _, err := tx.Exec(ctx, insertSQL, saleID, eventType, body, actor); err != nil {
		return fmt.Errorf("event: insert timeline event: %w", err)
	}
	return nil
}

// Enqueue writes a transactional outbox message.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("event: enqueue outbox: %w", err)
	}
	return nil
}
