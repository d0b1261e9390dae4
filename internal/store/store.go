// Package store defines the persistence collaborator contracts the escrow
// core depends on, plus the in-memory arena used by default. Durable
// implementations live in internal/repository.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/models"
)

// TaskStore is load-by-id / store-by-id access to tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	PutTask(ctx context.Context, t *models.Task) error
	// ListTasksByPubkey returns tasks where the pubkey is employer or worker.
	ListTasksByPubkey(ctx context.Context, pubkey string) ([]*models.Task, error)
	// ListTasks returns a snapshot of every task. Used by sweeps.
	ListTasks(ctx context.Context) ([]*models.Task, error)
}

// FundingStore is load-by-id / store-by-id access to funding attempts.
type FundingStore interface {
	GetFunding(ctx context.Context, id uuid.UUID) (*models.Funding, error)
	PutFunding(ctx context.Context, f *models.Funding) error
	ListFunding(ctx context.Context) ([]*models.Funding, error)
}

// EventStore appends to and reads the audit trail. Append assigns the
// monotonic event id; records are never updated or deleted.
type EventStore interface {
	AppendEvent(ctx context.Context, e *models.EscrowEvent) error
	ListEventsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error)
}

// ReputationStore is keyed by identity pubkey.
type ReputationStore interface {
	GetReputation(ctx context.Context, pubkey string) (*models.Reputation, error)
	PutReputation(ctx context.Context, r *models.Reputation) error
	ListReputation(ctx context.Context) ([]*models.Reputation, error)
}

// DisputeStore is load-by-id / store-by-id access to disputes.
type DisputeStore interface {
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	PutDispute(ctx context.Context, d *models.Dispute) error
	ListDisputesByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Dispute, error)
}

// Store bundles every collection the orchestrator needs.
type Store interface {
	TaskStore
	FundingStore
	EventStore
	ReputationStore
	DisputeStore
}
