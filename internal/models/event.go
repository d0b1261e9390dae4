package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit event type tags appended by the orchestrator.
const (
	EventTaskCreated         = "task.created"
	EventInvoiceCreated      = "invoice.created"
	EventFundingConfirmed    = "funding.confirmed"
	EventTaskClaimed         = "task.claimed"
	EventProofSubmitted      = "proof.submitted"
	EventProofVerified       = "proof.verified"
	EventProofRejected       = "proof.rejected"
	EventSettlementCompleted = "settlement.completed"
	EventTaskRefunded        = "task.refunded"
	EventTaskExpired         = "task.expired"
	EventDisputeOpened       = "dispute.opened"
	EventDisputeResolved     = "dispute.resolved"
)

// EscrowEvent is one append-only audit record. Events are never updated or
// deleted after append; ids are assigned monotonically by the event store.
type EscrowEvent struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`

	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	FundingID *uuid.UUID `json:"funding_id,omitempty"`

	InvoiceHash string `json:"invoice_hash,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	AmountSats  *int64 `json:"amount_sats,omitempty"`

	ActorPubkey string `json:"actor_pubkey,omitempty"`

	Provider string          `json:"provider,omitempty"`
	Status   string          `json:"status,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// PublishRef references the externally published copy of this event.
	PublishRef string `json:"publish_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
