package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

const fundingColumns = `id, task_id, mode, provider, invoice, invoice_hash, hold_invoice_id,
	onchain_address, swap_id, lockup_script, timeout_block, amount_sats, expires_at,
	status, payment_received_at, settled_at, cancelled_at, external_id, external_metadata,
	created_at, updated_at`

type FundingRepo struct {
	pool *pgxpool.Pool
}

func NewFundingRepo(pool *pgxpool.Pool) *FundingRepo {
	return &FundingRepo{pool: pool}
}

func scanFunding(row interface{ Scan(...any) error }) (*models.Funding, error) {
	var f models.Funding
	err := row.Scan(&f.ID, &f.TaskID, &f.Mode, &f.Provider, &f.Invoice, &f.InvoiceHash, &f.HoldInvoiceID,
		&f.OnchainAddress, &f.SwapID, &f.LockupScript, &f.TimeoutBlock, &f.AmountSats, &f.ExpiresAt,
		&f.Status, &f.PaymentReceivedAt, &f.SettledAt, &f.CancelledAt, &f.ExternalID, &f.ExternalMetadata,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FundingRepo) GetFunding(ctx context.Context, id uuid.UUID) (*models.Funding, error) {
	f, err := scanFunding(r.pool.QueryRow(ctx, `SELECT `+fundingColumns+` FROM funding WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "funding %s", id)
	}
	return f, nil
}

func (r *FundingRepo) PutFunding(ctx context.Context, f *models.Funding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO funding (`+fundingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode, provider = EXCLUDED.provider, invoice = EXCLUDED.invoice,
			invoice_hash = EXCLUDED.invoice_hash, hold_invoice_id = EXCLUDED.hold_invoice_id,
			onchain_address = EXCLUDED.onchain_address, swap_id = EXCLUDED.swap_id,
			lockup_script = EXCLUDED.lockup_script, timeout_block = EXCLUDED.timeout_block,
			amount_sats = EXCLUDED.amount_sats, expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status, payment_received_at = EXCLUDED.payment_received_at,
			settled_at = EXCLUDED.settled_at, cancelled_at = EXCLUDED.cancelled_at,
			external_id = EXCLUDED.external_id, external_metadata = EXCLUDED.external_metadata,
			updated_at = EXCLUDED.updated_at
	`, f.ID, f.TaskID, f.Mode, f.Provider, f.Invoice, f.InvoiceHash, f.HoldInvoiceID,
		f.OnchainAddress, f.SwapID, f.LockupScript, f.TimeoutBlock, f.AmountSats, f.ExpiresAt,
		f.Status, f.PaymentReceivedAt, f.SettledAt, f.CancelledAt, f.ExternalID, f.ExternalMetadata,
		f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return errs.Internal("store funding", err)
	}
	return nil
}

func (r *FundingRepo) ListFunding(ctx context.Context) ([]*models.Funding, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fundingColumns+` FROM funding ORDER BY created_at`)
	if err != nil {
		return nil, errs.Internal("list funding", err)
	}
	defer rows.Close()
	var list []*models.Funding
	for rows.Next() {
		f, err := scanFunding(rows)
		if err != nil {
			return nil, errs.Internal("scan funding", err)
		}
		list = append(list, f)
	}
	return list, rows.Err()
}
