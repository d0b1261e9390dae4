package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

const taskColumns = `id, title, description, reward_sats, state, employer_pubkey, worker_pubkey, worker_invoice,
	funding_id, proof_url, proof_hash, proof_event_id, verified_by, verified_at, verification_reason,
	deadline, metadata, publish_ref, created_at, updated_at, claimed_at, completed_at, settled_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.RewardSats, &t.State, &t.EmployerPubkey, &t.WorkerPubkey, &t.WorkerInvoice,
		&t.FundingID, &t.ProofURL, &t.ProofHash, &t.ProofEventID, &t.VerifiedBy, &t.VerifiedAt, &t.VerificationReason,
		&t.Deadline, &t.Metadata, &t.PublishRef, &t.CreatedAt, &t.UpdatedAt, &t.ClaimedAt, &t.CompletedAt, &t.SettledAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "task %s", id)
	}
	return t, nil
}

// PutTask upserts the full row so the write-lock holder's view always wins.
func (r *TaskRepo) PutTask(ctx context.Context, t *models.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, reward_sats = EXCLUDED.reward_sats,
			state = EXCLUDED.state, employer_pubkey = EXCLUDED.employer_pubkey, worker_pubkey = EXCLUDED.worker_pubkey,
			worker_invoice = EXCLUDED.worker_invoice, funding_id = EXCLUDED.funding_id,
			proof_url = EXCLUDED.proof_url, proof_hash = EXCLUDED.proof_hash, proof_event_id = EXCLUDED.proof_event_id,
			verified_by = EXCLUDED.verified_by, verified_at = EXCLUDED.verified_at, verification_reason = EXCLUDED.verification_reason,
			deadline = EXCLUDED.deadline, metadata = EXCLUDED.metadata, publish_ref = EXCLUDED.publish_ref,
			updated_at = EXCLUDED.updated_at, claimed_at = EXCLUDED.claimed_at,
			completed_at = EXCLUDED.completed_at, settled_at = EXCLUDED.settled_at
	`, t.ID, t.Title, t.Description, t.RewardSats, t.State, t.EmployerPubkey, t.WorkerPubkey, t.WorkerInvoice,
		t.FundingID, t.ProofURL, t.ProofHash, t.ProofEventID, t.VerifiedBy, t.VerifiedAt, t.VerificationReason,
		t.Deadline, t.Metadata, t.PublishRef, t.CreatedAt, t.UpdatedAt, t.ClaimedAt, t.CompletedAt, t.SettledAt)
	if err != nil {
		return errs.Internal("store task", err)
	}
	return nil
}

func (r *TaskRepo) ListTasksByPubkey(ctx context.Context, pubkey string) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE employer_pubkey = $1 OR worker_pubkey = $1
		ORDER BY created_at
	`, pubkey)
	if err != nil {
		return nil, errs.Internal("list tasks by pubkey", err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Internal("scan task", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *TaskRepo) ListTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, errs.Internal("list tasks", err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Internal("scan task", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
