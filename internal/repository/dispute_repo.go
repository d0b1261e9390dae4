package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

const disputeColumns = `id, task_id, initiated_by, respondent, reason, evidence_urls,
	arbitrator_pubkey, resolution, resolution_reason, winner, funds_distribution,
	penalty_employer, penalty_worker, created_at, resolved_at, publish_ref`

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func scanDispute(row interface{ Scan(...any) error }) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.TaskID, &d.InitiatedBy, &d.Respondent, &d.Reason, &d.EvidenceURLs,
		&d.ArbitratorPubkey, &d.Resolution, &d.ResolutionReason, &d.Winner, &d.FundsDistribution,
		&d.PenaltyEmployer, &d.PenaltyWorker, &d.CreatedAt, &d.ResolvedAt, &d.PublishRef)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "dispute %s", id)
	}
	return d, nil
}

func (r *DisputeRepo) PutDispute(ctx context.Context, d *models.Dispute) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			arbitrator_pubkey = EXCLUDED.arbitrator_pubkey, resolution = EXCLUDED.resolution,
			resolution_reason = EXCLUDED.resolution_reason, winner = EXCLUDED.winner,
			funds_distribution = EXCLUDED.funds_distribution,
			penalty_employer = EXCLUDED.penalty_employer, penalty_worker = EXCLUDED.penalty_worker,
			resolved_at = EXCLUDED.resolved_at, publish_ref = EXCLUDED.publish_ref
	`, d.ID, d.TaskID, d.InitiatedBy, d.Respondent, d.Reason, d.EvidenceURLs,
		d.ArbitratorPubkey, d.Resolution, d.ResolutionReason, d.Winner, d.FundsDistribution,
		d.PenaltyEmployer, d.PenaltyWorker, d.CreatedAt, d.ResolvedAt, d.PublishRef)
	if err != nil {
		return errs.Internal("store dispute", err)
	}
	return nil
}

func (r *DisputeRepo) ListDisputesByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, errs.Internal("list disputes", err)
	}
	defer rows.Close()
	var list []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, errs.Internal("scan dispute", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
