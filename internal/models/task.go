// Package models holds the task, funding, event, reputation, and dispute
// entities plus their state machines. It has no dependencies on the rest of
// the escrow core.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	// TaskDraft: created but not yet funded.
	TaskDraft TaskState = "draft"
	// TaskPendingFunding: funding invoice created, awaiting payment.
	TaskPendingFunding TaskState = "pending_funding"
	// TaskFunded: payment received and held in escrow.
	TaskFunded TaskState = "funded"
	// TaskClaimed: a worker has claimed the task.
	TaskClaimed TaskState = "claimed"
	// TaskVerified: proof approved, awaiting settlement.
	TaskVerified TaskState = "verified"
	// TaskPaid: funds released to the worker. Terminal.
	TaskPaid TaskState = "paid"
	// TaskRefunded: funds returned to the employer. Terminal.
	TaskRefunded TaskState = "refunded"
	// TaskDisputed: under arbitration.
	TaskDisputed TaskState = "disputed"
	// TaskExpired: deadline passed without completion. Terminal.
	TaskExpired TaskState = "expired"
)

// taskTransitions is the authoritative legality table. Capability predicates
// below are derived views; this map is what Transition checks.
var taskTransitions = map[TaskState][]TaskState{
	TaskDraft:          {TaskPendingFunding, TaskExpired},
	TaskPendingFunding: {TaskFunded, TaskExpired, TaskDraft},
	TaskFunded:         {TaskClaimed, TaskRefunded, TaskExpired},
	TaskClaimed:        {TaskVerified, TaskDisputed, TaskExpired},
	TaskVerified:       {TaskPaid, TaskDisputed},
	TaskDisputed:       {TaskPaid, TaskRefunded},
}

// CanTransition reports whether from -> to is in the legality table.
func CanTransition(from, to TaskState) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskPaid || s == TaskRefunded || s == TaskExpired
}

// Pre-flight capability predicates. The transition table remains
// authoritative; these exist so callers can guard before doing work.

func (s TaskState) CanFund() bool        { return s == TaskDraft }
func (s TaskState) CanClaim() bool       { return s == TaskFunded }
func (s TaskState) CanSubmitProof() bool { return s == TaskClaimed }
func (s TaskState) CanVerify() bool      { return s == TaskClaimed }
func (s TaskState) CanSettle() bool      { return s == TaskVerified }
func (s TaskState) CanDispute() bool     { return s == TaskClaimed || s == TaskVerified }

// Task is a unit of paid work moving through the escrow lifecycle.
type Task struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	RewardSats  int64     `json:"reward_sats"`
	State       TaskState `json:"state"`

	EmployerPubkey string `json:"employer_pubkey"`
	WorkerPubkey   string `json:"worker_pubkey,omitempty"`
	// WorkerInvoice is the worker's payout invoice, captured at claim time
	// and threaded through to settlement.
	WorkerInvoice string `json:"worker_invoice,omitempty"`

	FundingID *uuid.UUID `json:"funding_id,omitempty"`

	ProofURL     string `json:"proof_url,omitempty"`
	ProofHash    string `json:"proof_hash,omitempty"`
	ProofEventID string `json:"proof_event_id,omitempty"`

	VerifiedBy         string     `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	VerificationReason string     `json:"verification_reason,omitempty"`

	Deadline *time.Time      `json:"deadline,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	// PublishRef is the external publish reference for the task announcement.
	PublishRef string `json:"publish_ref,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// NewTask returns a Draft task owned by the employer.
func NewTask(title, description string, rewardSats int64, employerPubkey string, deadline *time.Time) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:             uuid.New(),
		Title:          title,
		Description:    description,
		RewardSats:     rewardSats,
		State:          TaskDraft,
		EmployerPubkey: employerPubkey,
		Deadline:       deadline,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the task to the target state, failing with a
// state-transition error carrying the attempted pair when illegal.
func (t *Task) Transition(to TaskState) error {
	if !CanTransition(t.State, to) {
		reason := "transition not in legality table"
		if t.State.IsTerminal() {
			reason = "task is in a terminal state"
		}
		return errs.StateTransition(string(t.State), string(to), reason)
	}
	t.State = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}
