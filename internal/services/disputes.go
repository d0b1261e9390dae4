package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/publisher"
)

// ResolveDisputeRequest carries an arbitrator's verdict.
type ResolveDisputeRequest struct {
	ArbitratorPubkey string                   `json:"arbitrator_pubkey"`
	Resolution       models.DisputeResolution `json:"resolution"`
	Reason           string                   `json:"reason,omitempty"`
	Signature        string                   `json:"signature"`
}

// ResolveDispute closes a dispute and moves the escrowed funds. Worker
// favor (and a withdrawn complaint) settles to the worker; employer favor
// and split refund to the employer, a split recording the agreed
// distribution for out-of-band payout. Escalation leaves the dispute and
// the task open.
func (m *Manager) ResolveDispute(ctx context.Context, disputeID uuid.UUID, req ResolveDisputeRequest) (*models.Dispute, error) {
	if req.ArbitratorPubkey == "" {
		return nil, m.fail("resolve_dispute", errs.Validation("arbitrator pubkey cannot be empty"))
	}
	if err := m.verifier.VerifySignature(req.ArbitratorPubkey, req.Signature, disputeID.String()+":"+string(req.Resolution)); err != nil {
		return nil, m.fail("resolve_dispute", err)
	}

	m.mu.Lock()
	dispute, err := m.store.GetDispute(ctx, disputeID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", err)
	}
	if dispute.Resolved() {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", errs.Validation("dispute %s is already resolved", disputeID))
	}
	task, err := m.store.GetTask(ctx, dispute.TaskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", err)
	}
	if task.State != models.TaskDisputed {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", errs.StateTransition(string(task.State), string(models.TaskPaid), "task is not disputed"))
	}
	m.mu.Unlock()

	var winner, loser string
	var distribution map[string]int64
	switch req.Resolution {
	case models.ResolutionWorkerFavor, models.ResolutionWithdrawn:
		winner, loser = task.WorkerPubkey, task.EmployerPubkey
		distribution = map[string]int64{task.WorkerPubkey: task.RewardSats}
		if _, err := m.settleDisputedTask(ctx, dispute.TaskID); err != nil {
			return nil, m.fail("resolve_dispute", err)
		}
	case models.ResolutionEmployerFavor:
		winner, loser = task.EmployerPubkey, task.WorkerPubkey
		distribution = map[string]int64{task.EmployerPubkey: task.RewardSats}
		if _, err := m.refundDisputedTask(ctx, dispute.TaskID); err != nil {
			return nil, m.fail("resolve_dispute", err)
		}
	case models.ResolutionSplit:
		winner, loser = task.EmployerPubkey, task.WorkerPubkey
		// The hold cannot be paid out partially; the refund goes back to the
		// employer and the recorded split is honored out of band.
		half := task.RewardSats / 2
		distribution = map[string]int64{
			task.EmployerPubkey: task.RewardSats - half,
			task.WorkerPubkey:   half,
		}
		if _, err := m.refundDisputedTask(ctx, dispute.TaskID); err != nil {
			return nil, m.fail("resolve_dispute", err)
		}
	case models.ResolutionEscalated:
		// No fund movement; the dispute stays open for a wider panel.
	default:
		return nil, m.fail("resolve_dispute", errs.Validation("unknown resolution %q", req.Resolution))
	}

	now := time.Now().UTC()

	m.mu.Lock()
	dispute, err = m.store.GetDispute(ctx, disputeID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", err)
	}
	dispute.ArbitratorPubkey = req.ArbitratorPubkey
	dispute.Resolution = req.Resolution
	dispute.ResolutionReason = req.Reason
	dispute.Winner = winner
	if distribution != nil {
		dispute.FundsDistribution = mustJSON(distribution)
	}
	if loser != "" {
		if loser == task.EmployerPubkey {
			dispute.PenaltyEmployer = m.cfg.DisputePenalty
		} else {
			dispute.PenaltyWorker = m.cfg.DisputePenalty
		}
	}
	if req.Resolution != models.ResolutionEscalated {
		dispute.ResolvedAt = &now
	}
	if err := m.store.PutDispute(ctx, dispute); err != nil {
		m.mu.Unlock()
		return nil, m.fail("resolve_dispute", err)
	}
	m.mu.Unlock()

	if winner != "" {
		if err := m.scores.RecordDisputeResolved(ctx, winner, loser, m.cfg.DisputePenalty); err != nil {
			m.log.Warn("reputation update failed", "op", "resolve_dispute", "error", err)
		}
	}

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventDisputeResolved,
		TaskID:      &dispute.TaskID,
		ActorPubkey: req.ArbitratorPubkey,
		Status:      string(req.Resolution),
		Metadata:    mustJSON(map[string]string{"dispute_id": disputeID.String(), "winner": winner}),
	})
	m.publish(ctx, publisher.KindTaskDisputed, dispute)

	m.log.Info("dispute resolved", "dispute_id", disputeID, "resolution", req.Resolution, "winner", winner)
	return dispute, nil
}

// settleDisputedTask pays the worker out of a Disputed task.
func (m *Manager) settleDisputedTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	task, funding, err := m.taskWithFunding(ctx, taskID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	settlement, err := m.settleFunding(ctx, task, funding)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	task, funding, err = m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := task.Transition(models.TaskPaid); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	settledAt := settlement.SettledAt
	task.SettledAt = &settledAt
	funding.Status = models.FundingSettled
	funding.SettledAt = &settledAt
	funding.UpdatedAt = settledAt
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventSettlementCompleted,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: settlement.InvoiceHash,
		Preimage:    settlement.Preimage,
		AmountSats:  &funding.AmountSats,
		ActorPubkey: task.WorkerPubkey,
		Provider:    funding.Provider,
		Status:      string(funding.Status),
	})
	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskPaid)).Inc()
	m.metrics.SettlementsSats.Add(float64(funding.AmountSats))
	return task, nil
}

// refundDisputedTask returns the escrow to the employer out of a Disputed
// task.
func (m *Manager) refundDisputedTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	task, funding, err := m.taskWithFunding(ctx, taskID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if funding.Mode == models.ModeLightningHold {
		if err := m.escrow.CancelHoldInvoice(ctx, funding.HoldInvoiceID); err != nil {
			return nil, err
		}
		m.syncHoldsGauge()
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, funding, err = m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := task.Transition(models.TaskRefunded); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	funding.Status = models.FundingCancelled
	funding.CancelledAt = &now
	funding.UpdatedAt = now
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskRefunded,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: funding.InvoiceHash,
		AmountSats:  &funding.AmountSats,
		ActorPubkey: task.EmployerPubkey,
		Status:      string(funding.Status),
	})
	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskRefunded)).Inc()
	return task, nil
}
