package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/models"
)

// Read paths. These go straight to the store, which serves consistent
// snapshots, so they never take the write lock.

// GetTask returns the task by id.
func (m *Manager) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return m.store.GetTask(ctx, taskID)
}

// GetUserTasks returns every task the pubkey participates in, as employer
// or worker.
func (m *Manager) GetUserTasks(ctx context.Context, pubkey string) ([]*models.Task, error) {
	return m.store.ListTasksByPubkey(ctx, pubkey)
}

// ListTasks returns all tasks.
func (m *Manager) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return m.store.ListTasks(ctx)
}

// GetFunding returns the funding attempt by id.
func (m *Manager) GetFunding(ctx context.Context, fundingID uuid.UUID) (*models.Funding, error) {
	return m.store.GetFunding(ctx, fundingID)
}

// GetTaskEvents returns the task's audit trail in append order.
func (m *Manager) GetTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error) {
	return m.store.ListEventsByTask(ctx, taskID)
}

// GetDispute returns the dispute by id.
func (m *Manager) GetDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return m.store.GetDispute(ctx, disputeID)
}

// GetTaskDisputes returns all disputes opened against the task.
func (m *Manager) GetTaskDisputes(ctx context.Context, taskID uuid.UUID) ([]*models.Dispute, error) {
	return m.store.ListDisputesByTask(ctx, taskID)
}
