package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// AppendEvent inserts one audit row. The id comes from the table's sequence,
// preserving append-order monotonicity across writers.
func (r *EventRepo) AppendEvent(ctx context.Context, e *models.EscrowEvent) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrow_events (event_type, task_id, funding_id, invoice_hash, preimage, amount_sats,
			actor_pubkey, provider, status, metadata, publish_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING id, created_at
	`, e.EventType, e.TaskID, e.FundingID, e.InvoiceHash, e.Preimage, e.AmountSats,
		e.ActorPubkey, e.Provider, e.Status, e.Metadata, e.PublishRef).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return errs.Internal("append escrow event", err)
	}
	return nil
}

func (r *EventRepo) ListEventsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, task_id, funding_id, invoice_hash, preimage, amount_sats,
			actor_pubkey, provider, status, metadata, publish_ref, created_at
		FROM escrow_events WHERE task_id = $1 ORDER BY id
	`, taskID)
	if err != nil {
		return nil, errs.Internal("list escrow events", err)
	}
	defer rows.Close()
	var list []*models.EscrowEvent
	for rows.Next() {
		var e models.EscrowEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.TaskID, &e.FundingID, &e.InvoiceHash, &e.Preimage, &e.AmountSats,
			&e.ActorPubkey, &e.Provider, &e.Status, &e.Metadata, &e.PublishRef, &e.CreatedAt); err != nil {
			return nil, errs.Internal("scan escrow event", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
