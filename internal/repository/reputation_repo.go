package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

const reputationColumns = `pubkey, score, tier, tasks_created, tasks_funded, tasks_cancelled, total_sats_paid,
	tasks_claimed, tasks_completed, tasks_failed, total_sats_earned,
	disputes_total, disputes_won, disputes_lost, badges, penalty_points, suspended_until,
	first_seen_at, last_active_at, updated_at`

type ReputationRepo struct {
	pool *pgxpool.Pool
}

func NewReputationRepo(pool *pgxpool.Pool) *ReputationRepo {
	return &ReputationRepo{pool: pool}
}

func scanReputation(row interface{ Scan(...any) error }) (*models.Reputation, error) {
	var rep models.Reputation
	err := row.Scan(&rep.Pubkey, &rep.Score, &rep.Tier, &rep.TasksCreated, &rep.TasksFunded, &rep.TasksCancelled, &rep.TotalSatsPaid,
		&rep.TasksClaimed, &rep.TasksCompleted, &rep.TasksFailed, &rep.TotalSatsEarned,
		&rep.DisputesTotal, &rep.DisputesWon, &rep.DisputesLost, &rep.Badges, &rep.PenaltyPoints, &rep.SuspendedUntil,
		&rep.FirstSeenAt, &rep.LastActiveAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *ReputationRepo) GetReputation(ctx context.Context, pubkey string) (*models.Reputation, error) {
	rep, err := scanReputation(r.pool.QueryRow(ctx, `SELECT `+reputationColumns+` FROM reputation WHERE pubkey = $1`, pubkey))
	if err != nil {
		return nil, notFound(err, "reputation for %s", pubkey)
	}
	return rep, nil
}

func (r *ReputationRepo) PutReputation(ctx context.Context, rep *models.Reputation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reputation (`+reputationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (pubkey) DO UPDATE SET
			score = EXCLUDED.score, tier = EXCLUDED.tier,
			tasks_created = EXCLUDED.tasks_created, tasks_funded = EXCLUDED.tasks_funded,
			tasks_cancelled = EXCLUDED.tasks_cancelled, total_sats_paid = EXCLUDED.total_sats_paid,
			tasks_claimed = EXCLUDED.tasks_claimed, tasks_completed = EXCLUDED.tasks_completed,
			tasks_failed = EXCLUDED.tasks_failed, total_sats_earned = EXCLUDED.total_sats_earned,
			disputes_total = EXCLUDED.disputes_total, disputes_won = EXCLUDED.disputes_won,
			disputes_lost = EXCLUDED.disputes_lost, badges = EXCLUDED.badges,
			penalty_points = EXCLUDED.penalty_points, suspended_until = EXCLUDED.suspended_until,
			last_active_at = EXCLUDED.last_active_at, updated_at = EXCLUDED.updated_at
	`, rep.Pubkey, rep.Score, rep.Tier, rep.TasksCreated, rep.TasksFunded, rep.TasksCancelled, rep.TotalSatsPaid,
		rep.TasksClaimed, rep.TasksCompleted, rep.TasksFailed, rep.TotalSatsEarned,
		rep.DisputesTotal, rep.DisputesWon, rep.DisputesLost, rep.Badges, rep.PenaltyPoints, rep.SuspendedUntil,
		rep.FirstSeenAt, rep.LastActiveAt, rep.UpdatedAt)
	if err != nil {
		return errs.Internal("store reputation", err)
	}
	return nil
}

func (r *ReputationRepo) ListReputation(ctx context.Context) ([]*models.Reputation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reputationColumns+` FROM reputation ORDER BY score DESC`)
	if err != nil {
		return nil, errs.Internal("list reputation", err)
	}
	defer rows.Close()
	var list []*models.Reputation
	for rows.Next() {
		rep, err := scanReputation(rows)
		if err != nil {
			return nil, errs.Internal("scan reputation", err)
		}
		list = append(list, rep)
	}
	return list, rows.Err()
}
