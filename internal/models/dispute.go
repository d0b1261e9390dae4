package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DisputeResolution is the arbitration outcome.
type DisputeResolution string

const (
	// ResolutionPending: awaiting arbitrator review.
	ResolutionPending DisputeResolution = "pending"
	// ResolutionEmployerFavor: funds returned to the employer.
	ResolutionEmployerFavor DisputeResolution = "employer_favor"
	// ResolutionWorkerFavor: funds released to the worker.
	ResolutionWorkerFavor DisputeResolution = "worker_favor"
	// ResolutionSplit: funds split between parties.
	ResolutionSplit DisputeResolution = "split"
	// ResolutionEscalated: requires multi-arbitrator review.
	ResolutionEscalated DisputeResolution = "escalated"
	// ResolutionWithdrawn: withdrawn by the initiator.
	ResolutionWithdrawn DisputeResolution = "withdrawn"
)

// Dispute is opened when verification is rejected and closed by arbitration.
type Dispute struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"task_id"`

	InitiatedBy string `json:"initiated_by"`
	Respondent  string `json:"respondent"`

	Reason       string   `json:"reason"`
	EvidenceURLs []string `json:"evidence_urls,omitempty"`

	ArbitratorPubkey string            `json:"arbitrator_pubkey,omitempty"`
	Resolution       DisputeResolution `json:"resolution"`
	ResolutionReason string            `json:"resolution_reason,omitempty"`

	Winner            string          `json:"winner,omitempty"`
	FundsDistribution json.RawMessage `json:"funds_distribution,omitempty"`

	PenaltyEmployer int `json:"penalty_employer"`
	PenaltyWorker   int `json:"penalty_worker"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	PublishRef string `json:"publish_ref,omitempty"`
}

// NewDispute returns a pending dispute between initiator and respondent.
func NewDispute(taskID uuid.UUID, initiatedBy, respondent, reason string, evidence []string) *Dispute {
	return &Dispute{
		ID:           uuid.New(),
		TaskID:       taskID,
		InitiatedBy:  initiatedBy,
		Respondent:   respondent,
		Reason:       reason,
		EvidenceURLs: evidence,
		Resolution:   ResolutionPending,
		CreatedAt:    time.Now().UTC(),
	}
}

// Resolved reports whether arbitration has concluded.
func (d *Dispute) Resolved() bool {
	return d.Resolution != ResolutionPending && d.Resolution != ResolutionEscalated
}
