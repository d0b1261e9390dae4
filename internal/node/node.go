// Package node is a thin aggregation surface over the orchestrator, the
// escrow engine, and the Lightning daemon: read-only cross-cutting queries
// that no single component owns.
package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/lightning"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/payments"
	"github.com/satwork/backend/internal/reputation"
)

// TaskReader is the orchestrator's read surface.
type TaskReader interface {
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	GetUserTasks(ctx context.Context, pubkey string) ([]*models.Task, error)
	GetFunding(ctx context.Context, fundingID uuid.UUID) (*models.Funding, error)
	GetTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error)
	GetTaskDisputes(ctx context.Context, taskID uuid.UUID) ([]*models.Dispute, error)
}

// EngineInfo is the escrow engine's health surface.
type EngineInfo interface {
	ActiveHolds() int
	MaxInvoiceAmountSats() int64
}

// NodeClient exposes daemon identity and balances.
type NodeClient interface {
	GetNodeInfo(ctx context.Context) (*lightning.NodeInfo, error)
	GetLiquidity(ctx context.Context) (*lightning.LiquidityInfo, error)
}

// ScoreReader is the reputation read surface.
type ScoreReader interface {
	Get(ctx context.Context, pubkey string) (*models.Reputation, error)
	TopUsers(ctx context.Context, n int) ([]*models.Reputation, error)
	GetStats(ctx context.Context) (*reputation.Stats, error)
}

// Facade bundles the read-only queries.
type Facade struct {
	tasks  TaskReader
	engine EngineInfo
	client NodeClient
	scores ScoreReader
	log    *slog.Logger

	startedAt time.Time
}

// New wires the facade.
func New(tasks TaskReader, engine EngineInfo, client NodeClient, scores ScoreReader, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{
		tasks:     tasks,
		engine:    engine,
		client:    client,
		scores:    scores,
		log:       log,
		startedAt: time.Now().UTC(),
	}
}

// Health is the liveness snapshot.
type Health struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	ActiveHolds   int       `json:"active_holds"`
	NodeSynced    bool      `json:"node_synced"`
	CheckedAt     time.Time `json:"checked_at"`
}

// GetHealth reports liveness. A daemon that cannot be reached degrades the
// status instead of failing the check.
func (f *Facade) GetHealth(ctx context.Context) *Health {
	h := &Health{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(f.startedAt).Seconds()),
		ActiveHolds:   f.engine.ActiveHolds(),
		CheckedAt:     time.Now().UTC(),
	}
	info, err := f.client.GetNodeInfo(ctx)
	if err != nil {
		f.log.Warn("node health check failed", "error", err)
		h.Status = "degraded"
		return h
	}
	h.NodeSynced = info.Synced
	if !info.Synced {
		h.Status = "degraded"
	}
	return h
}

// GetNodeInfo returns the backing node's identity.
func (f *Facade) GetNodeInfo(ctx context.Context) (*lightning.NodeInfo, error) {
	return f.client.GetNodeInfo(ctx)
}

// Liquidity pairs channel balances with the engine's hold ceiling.
type Liquidity struct {
	LocalBalanceSats  int64 `json:"local_balance_sats"`
	RemoteBalanceSats int64 `json:"remote_balance_sats"`
	MaxReceivableSats int64 `json:"max_receivable_sats"`
	MaxSendableSats   int64 `json:"max_sendable_sats"`
	MaxHoldSats       int64 `json:"max_hold_sats"`
	ActiveHolds       int   `json:"active_holds"`
}

// GetLiquidity reports receive headroom for new escrows.
func (f *Facade) GetLiquidity(ctx context.Context) (*Liquidity, error) {
	info, err := f.client.GetLiquidity(ctx)
	if err != nil {
		return nil, err
	}
	return &Liquidity{
		LocalBalanceSats:  info.LocalBalanceSats,
		RemoteBalanceSats: info.RemoteBalanceSats,
		MaxReceivableSats: info.MaxReceivableSats,
		MaxSendableSats:   info.MaxSendableSats,
		MaxHoldSats:       f.engine.MaxInvoiceAmountSats(),
		ActiveHolds:       f.engine.ActiveHolds(),
	}, nil
}

// TaskInfo aggregates a task with its funding, audit trail, and disputes.
type TaskInfo struct {
	Task     *models.Task          `json:"task"`
	Funding  *models.Funding       `json:"funding,omitempty"`
	Events   []*models.EscrowEvent `json:"events"`
	Disputes []*models.Dispute     `json:"disputes,omitempty"`
}

// GetTaskInfo loads the full picture of one task.
func (f *Facade) GetTaskInfo(ctx context.Context, taskID uuid.UUID) (*TaskInfo, error) {
	task, err := f.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	info := &TaskInfo{Task: task}
	if task.FundingID != nil {
		funding, err := f.tasks.GetFunding(ctx, *task.FundingID)
		if err != nil && errs.KindOf(err) != errs.KindNotFound {
			return nil, err
		}
		info.Funding = funding
	}
	if info.Events, err = f.tasks.GetTaskEvents(ctx, taskID); err != nil {
		return nil, err
	}
	if info.Disputes, err = f.tasks.GetTaskDisputes(ctx, taskID); err != nil {
		return nil, err
	}
	return info, nil
}

// GetUserTasks returns the pubkey's tasks on both sides of the market.
func (f *Facade) GetUserTasks(ctx context.Context, pubkey string) ([]*models.Task, error) {
	if pubkey == "" {
		return nil, errs.Validation("pubkey cannot be empty")
	}
	return f.tasks.GetUserTasks(ctx, pubkey)
}

// GetReputation returns one identity's record.
func (f *Facade) GetReputation(ctx context.Context, pubkey string) (*models.Reputation, error) {
	return f.scores.Get(ctx, pubkey)
}

// GetLeaderboard returns the top n identities by score.
func (f *Facade) GetLeaderboard(ctx context.Context, n int) ([]*models.Reputation, error) {
	return f.scores.TopUsers(ctx, n)
}

// GetReputationStats returns fleet-wide reputation aggregates.
func (f *Facade) GetReputationStats(ctx context.Context) (*reputation.Stats, error) {
	return f.scores.GetStats(ctx)
}

// FeeQuote prices one rail for an amount.
type FeeQuote struct {
	Mode    models.FundingMode `json:"mode"`
	FeeSats int64              `json:"fee_sats"`
}

// QuoteFees returns eligible rails and their fees for the amount, cheapest
// first as returned by the eligibility order.
func (f *Facade) QuoteFees(amountSats int64) ([]FeeQuote, error) {
	if amountSats <= 0 {
		return nil, errs.Validation("amount must be greater than 0")
	}
	modes := payments.GetSupportedModes(amountSats)
	quotes := make([]FeeQuote, 0, len(modes))
	for _, mode := range modes {
		fee, err := payments.CalculateFees(amountSats, mode)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, FeeQuote{Mode: mode, FeeSats: fee})
	}
	return quotes, nil
}

// SupportedModes lists the rails eligible for the amount.
func (f *Facade) SupportedModes(amountSats int64) []models.FundingMode {
	return payments.GetSupportedModes(amountSats)
}
