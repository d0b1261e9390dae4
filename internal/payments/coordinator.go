// Package payments prices and builds funding rails. The coordinator is
// polymorphic over mode: callers hand it an amount and a preferred mode and
// get back a rail-specific response without branching themselves.
package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/engine"
	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

// Amount thresholds gating the on-chain rails, in sats.
const (
	MinSubmarineSats = 10_000
	MinReverseSats   = 50_000
	MinMultisigSats  = 100_000
)

// Fee schedule in basis points per mode.
const (
	feeBpsLightning = 10  // 0.1%
	feeBpsSubmarine = 50  // 0.5%
	feeBpsReverse   = 30  // 0.3%
	feeBpsMultisig  = 100 // 1%
)

// HoldInvoicer creates commit/reveal hold invoices. Satisfied by the
// escrow engine.
type HoldInvoicer interface {
	CreateHoldInvoice(ctx context.Context, amountSats int64, description, taskRef string) (*engine.HoldInvoiceData, error)
}

// InvoiceCreator creates standard invoices for the non-hold Lightning rail.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amountSats int64, description string) (invoice, hash string, err error)
}

// SwapDirection selects the on-chain rail inside the swap envelope.
type SwapDirection string

const (
	SwapSubmarine SwapDirection = "submarine"
	SwapReverse   SwapDirection = "reverse"
	SwapMultisig  SwapDirection = "multisig"
)

// SwapRequest is the generic envelope sent to the swap provider for every
// on-chain rail.
type SwapRequest struct {
	AmountSats    int64         `json:"amount_sats"`
	Direction     SwapDirection `json:"direction"`
	Invoice       string        `json:"invoice,omitempty"`
	RefundAddress string        `json:"refund_address,omitempty"`
}

// SwapResponse is the provider's envelope.
type SwapResponse struct {
	SwapID             string `json:"swap_id"`
	Invoice            string `json:"invoice,omitempty"`
	Address            string `json:"address,omitempty"`
	ExpectedAmountSats int64  `json:"expected_amount_sats"`
	TimeoutBlock       int32  `json:"timeout_block"`
	RedeemScript       string `json:"redeem_script,omitempty"`
}

// SwapProvider drives submarine, reverse, and multisig rails.
type SwapProvider interface {
	CreateSwap(ctx context.Context, req SwapRequest) (*SwapResponse, error)
}

// PaymentRequest asks for a funding rail for a task.
type PaymentRequest struct {
	TaskID        uuid.UUID          `json:"task_id"`
	AmountSats    int64              `json:"amount_sats"`
	PreferredMode models.FundingMode `json:"preferred_mode"`
	Description   string             `json:"description,omitempty"`
	WorkerInvoice string             `json:"worker_invoice,omitempty"`
	RefundAddress string             `json:"refund_address,omitempty"`
}

// PaymentResponse carries whatever the chosen rail produced. Unused fields
// stay zero.
type PaymentResponse struct {
	FundingID       uuid.UUID          `json:"funding_id"`
	Mode            models.FundingMode `json:"mode"`
	Invoice         string             `json:"invoice,omitempty"`
	InvoiceHash     string             `json:"invoice_hash,omitempty"`
	HoldInvoiceID   string             `json:"hold_invoice_id,omitempty"`
	Address         string             `json:"address,omitempty"`
	SwapID          string             `json:"swap_id,omitempty"`
	TimeoutBlock    int32              `json:"timeout_block,omitempty"`
	RedeemScript    string             `json:"redeem_script,omitempty"`
	FeeEstimateSats int64              `json:"fee_estimate_sats"`
	ExpiresAt       time.Time          `json:"expires_at"`
}

// Coordinator builds funding rails from its three collaborators.
type Coordinator struct {
	holds    HoldInvoicer
	invoices InvoiceCreator
	swaps    SwapProvider
	ttl      time.Duration
	log      *slog.Logger
}

// NewCoordinator wires the coordinator. invoiceTTL applies to the rails
// whose expiry the provider does not dictate.
func NewCoordinator(holds HoldInvoicer, invoices InvoiceCreator, swaps SwapProvider, invoiceTTL time.Duration, log *slog.Logger) *Coordinator {
	if invoiceTTL <= 0 {
		invoiceTTL = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{holds: holds, invoices: invoices, swaps: swaps, ttl: invoiceTTL, log: log}
}

// GetSupportedModes returns the rails eligible for the amount. Pure and
// deterministic; performs no I/O.
func GetSupportedModes(amountSats int64) []models.FundingMode {
	if amountSats <= 0 {
		return nil
	}
	modes := []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard}
	if amountSats >= MinSubmarineSats {
		modes = append(modes, models.ModeOnchainSubmarine)
	}
	if amountSats >= MinReverseSats {
		modes = append(modes, models.ModeOnchainReverse)
	}
	if amountSats >= MinMultisigSats {
		modes = append(modes, models.ModeOnchainMultisig)
	}
	return modes
}

// CalculateFees quotes the rail fee in sats. Pure and deterministic; the
// quote matches what CreatePayment will estimate.
func CalculateFees(amountSats int64, mode models.FundingMode) (int64, error) {
	if amountSats <= 0 {
		return 0, errs.Validation("amount must be greater than 0")
	}
	var bps int64
	switch mode {
	case models.ModeLightningHold, models.ModeLightningStandard:
		bps = feeBpsLightning
	case models.ModeOnchainSubmarine:
		bps = feeBpsSubmarine
	case models.ModeOnchainReverse:
		bps = feeBpsReverse
	case models.ModeOnchainMultisig:
		bps = feeBpsMultisig
	default:
		return 0, errs.Validation("unknown funding mode %q", mode)
	}
	return amountSats * bps / 10_000, nil
}

func modeEligible(amountSats int64, mode models.FundingMode) bool {
	for _, m := range GetSupportedModes(amountSats) {
		if m == mode {
			return true
		}
	}
	return false
}

// CreatePayment dispatches on the preferred mode and returns the rail's
// response. Swap-provider failures surface as integration errors.
func (c *Coordinator) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if req.AmountSats <= 0 {
		return nil, errs.Validation("amount must be greater than 0")
	}
	if !modeEligible(req.AmountSats, req.PreferredMode) {
		return nil, errs.Validation("mode %s not eligible for %d sats", req.PreferredMode, req.AmountSats)
	}
	fee, err := CalculateFees(req.AmountSats, req.PreferredMode)
	if err != nil {
		return nil, err
	}

	resp := &PaymentResponse{
		FundingID:       uuid.New(),
		Mode:            req.PreferredMode,
		FeeEstimateSats: fee,
	}

	switch req.PreferredMode {
	case models.ModeLightningHold:
		hold, err := c.holds.CreateHoldInvoice(ctx, req.AmountSats, req.Description, req.TaskID.String())
		if err != nil {
			return nil, err
		}
		resp.Invoice = hold.Invoice
		resp.InvoiceHash = hold.InvoiceHash
		resp.HoldInvoiceID = hold.HoldInvoiceID
		resp.ExpiresAt = hold.ExpiresAt

	case models.ModeLightningStandard:
		invoice, hash, err := c.invoices.CreateInvoice(ctx, req.AmountSats, req.Description)
		if err != nil {
			return nil, err
		}
		resp.Invoice = invoice
		resp.InvoiceHash = hash
		resp.ExpiresAt = time.Now().UTC().Add(c.ttl)

	case models.ModeOnchainSubmarine:
		swap, err := c.createSwap(ctx, SwapRequest{
			AmountSats: req.AmountSats,
			Direction:  SwapSubmarine,
			Invoice:    req.WorkerInvoice,
		})
		if err != nil {
			return nil, err
		}
		c.fillSwap(resp, swap)

	case models.ModeOnchainReverse:
		swap, err := c.createSwap(ctx, SwapRequest{
			AmountSats:    req.AmountSats,
			Direction:     SwapReverse,
			RefundAddress: req.RefundAddress,
		})
		if err != nil {
			return nil, err
		}
		c.fillSwap(resp, swap)

	case models.ModeOnchainMultisig:
		swap, err := c.createSwap(ctx, SwapRequest{
			AmountSats:    req.AmountSats,
			Direction:     SwapMultisig,
			RefundAddress: req.RefundAddress,
		})
		if err != nil {
			return nil, err
		}
		c.fillSwap(resp, swap)
	}

	c.log.Info("payment rail created",
		"funding_id", resp.FundingID,
		"mode", resp.Mode,
		"amount_sats", req.AmountSats,
		"fee_sats", fee)
	return resp, nil
}

func (c *Coordinator) createSwap(ctx context.Context, req SwapRequest) (*SwapResponse, error) {
	swap, err := c.swaps.CreateSwap(ctx, req)
	if err != nil {
		return nil, errs.Integration("create swap with provider", err)
	}
	if swap.SwapID == "" {
		return nil, errs.Integration("swap provider returned empty swap id", nil)
	}
	return swap, nil
}

func (c *Coordinator) fillSwap(resp *PaymentResponse, swap *SwapResponse) {
	resp.SwapID = swap.SwapID
	resp.Invoice = swap.Invoice
	resp.Address = swap.Address
	resp.TimeoutBlock = swap.TimeoutBlock
	resp.RedeemScript = swap.RedeemScript
	resp.ExpiresAt = time.Now().UTC().Add(c.ttl)
}
