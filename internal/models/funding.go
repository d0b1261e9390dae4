package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FundingMode is the payment rail used to collect escrowed funds.
type FundingMode string

const (
	// ModeLightningHold: Lightning hold invoice, supports commit/reveal. Preferred.
	ModeLightningHold FundingMode = "lightning_hold"
	// ModeLightningStandard: standard Lightning invoice, manual verification.
	ModeLightningStandard FundingMode = "lightning_standard"
	// ModeOnchainSubmarine: payer funds on-chain, worker receives Lightning.
	ModeOnchainSubmarine FundingMode = "onchain_submarine"
	// ModeOnchainReverse: payer funds Lightning, worker receives on-chain.
	ModeOnchainReverse FundingMode = "onchain_reverse"
	// ModeOnchainMultisig: 2-of-3 on-chain escrow, fallback.
	ModeOnchainMultisig FundingMode = "onchain_multisig"
)

// FundingStatus tracks one funding attempt.
type FundingStatus string

const (
	FundingCreated   FundingStatus = "created"
	FundingPending   FundingStatus = "pending"
	FundingAccepted  FundingStatus = "accepted"
	FundingSettled   FundingStatus = "settled"
	FundingCancelled FundingStatus = "cancelled"
	FundingExpired   FundingStatus = "expired"
	FundingFailed    FundingStatus = "failed"
)

// IsTerminal reports whether the funding attempt can no longer change.
func (s FundingStatus) IsTerminal() bool {
	switch s {
	case FundingSettled, FundingCancelled, FundingExpired, FundingFailed:
		return true
	}
	return false
}

// Funding is one funding attempt for exactly one task.
type Funding struct {
	ID     uuid.UUID   `json:"id"`
	TaskID uuid.UUID   `json:"task_id"`
	Mode   FundingMode `json:"mode"`
	// Provider names the external collaborator backing this attempt.
	Provider string `json:"provider"`

	// Lightning rails.
	Invoice       string `json:"invoice,omitempty"`
	InvoiceHash   string `json:"invoice_hash,omitempty"`
	HoldInvoiceID string `json:"hold_invoice_id,omitempty"`

	// On-chain rails.
	OnchainAddress string `json:"onchain_address,omitempty"`
	SwapID         string `json:"swap_id,omitempty"`
	LockupScript   string `json:"lockup_script,omitempty"`
	TimeoutBlock   int32  `json:"timeout_block,omitempty"`

	AmountSats int64      `json:"amount_sats"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Status            FundingStatus `json:"status"`
	PaymentReceivedAt *time.Time    `json:"payment_received_at,omitempty"`
	SettledAt         *time.Time    `json:"settled_at,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`

	ExternalID       string          `json:"external_id,omitempty"`
	ExternalMetadata json.RawMessage `json:"external_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFunding returns a Created funding attempt for the task.
func NewFunding(taskID uuid.UUID, mode FundingMode, provider string, amountSats int64, expiresAt *time.Time) *Funding {
	now := time.Now().UTC()
	return &Funding{
		ID:         uuid.New(),
		TaskID:     taskID,
		Mode:       mode,
		Provider:   provider,
		AmountSats: amountSats,
		ExpiresAt:  expiresAt,
		Status:     FundingCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
