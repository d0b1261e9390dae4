package services

import (
	"context"
	"time"

	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/reputation"
)

// Sweeps are idempotent passes driven by an external scheduler. Running
// them twice over the same data is a no-op the second time.

// ExpireTasks expires every non-terminal task whose deadline passed before
// now, cancelling any live hold. Returns the number of tasks expired.
func (m *Manager) ExpireTasks(ctx context.Context, now time.Time) (int, error) {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, task := range tasks {
		if task.State.IsTerminal() || task.Deadline == nil || task.Deadline.After(now) {
			continue
		}
		if !models.CanTransition(task.State, models.TaskExpired) {
			continue
		}
		if err := m.expireOne(ctx, task); err != nil {
			m.log.Error("expire sweep failed for task", "task_id", task.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (m *Manager) expireOne(ctx context.Context, snapshot *models.Task) error {
	// Cancel the hold first so the payer is refunded before the task flips.
	if snapshot.FundingID != nil {
		m.mu.Lock()
		funding, err := m.store.GetFunding(ctx, *snapshot.FundingID)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		if funding.Mode == models.ModeLightningHold && !funding.Status.IsTerminal() {
			if err := m.escrow.CancelHoldInvoice(ctx, funding.HoldInvoiceID); err != nil {
				return err
			}
			m.syncHoldsGauge()
		}
		if !funding.Status.IsTerminal() {
			now := time.Now().UTC()
			m.mu.Lock()
			funding.Status = models.FundingExpired
			funding.CancelledAt = &now
			funding.UpdatedAt = now
			err = m.store.PutFunding(ctx, funding)
			m.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	task, err := m.store.GetTask(ctx, snapshot.ID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if task.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	if err := task.Transition(models.TaskExpired); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if task.WorkerPubkey != "" {
		if _, err := m.scores.RecordTaskOutcome(ctx, task.WorkerPubkey, reputation.OutcomeExpired, task.RewardSats, false); err != nil {
			m.log.Warn("reputation update failed", "op", "expire_tasks", "error", err)
		}
	}
	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskExpired,
		TaskID:      &task.ID,
		ActorPubkey: task.EmployerPubkey,
		Status:      string(task.State),
	})
	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskExpired)).Inc()
	m.log.Info("task expired by sweep", "task_id", task.ID)
	return nil
}

// ExpireFunding reverts tasks whose funding invoice expired unpaid back to
// Draft so the employer can fund again. Returns the number of funding
// records expired.
func (m *Manager) ExpireFunding(ctx context.Context, now time.Time) (int, error) {
	records, err := m.store.ListFunding(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, funding := range records {
		if funding.Status.IsTerminal() || funding.ExpiresAt == nil || funding.ExpiresAt.After(now) {
			continue
		}
		if funding.PaymentReceivedAt != nil {
			continue
		}
		if err := m.expireFundingOne(ctx, funding); err != nil {
			m.log.Error("funding expiry sweep failed", "funding_id", funding.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (m *Manager) expireFundingOne(ctx context.Context, snapshot *models.Funding) error {
	if snapshot.Mode == models.ModeLightningHold {
		if err := m.escrow.CancelHoldInvoice(ctx, snapshot.HoldInvoiceID); err != nil {
			// The hold may already be gone; the record still expires.
			m.log.Warn("cancel during funding expiry failed", "funding_id", snapshot.ID, "error", err)
		}
		m.syncHoldsGauge()
	}

	ts := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	funding, err := m.store.GetFunding(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	if funding.Status.IsTerminal() {
		return nil
	}
	funding.Status = models.FundingExpired
	funding.UpdatedAt = ts
	if err := m.store.PutFunding(ctx, funding); err != nil {
		return err
	}

	task, err := m.store.GetTask(ctx, funding.TaskID)
	if err != nil {
		return err
	}
	if task.State == models.TaskPendingFunding {
		if err := task.Transition(models.TaskDraft); err != nil {
			return err
		}
		task.FundingID = nil
		if err := m.store.PutTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
