package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/engine"
	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

type mockHolds struct {
	lastAmount int64
	err        error
}

func (m *mockHolds) CreateHoldInvoice(_ context.Context, amountSats int64, _, taskRef string) (*engine.HoldInvoiceData, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastAmount = amountSats
	return &engine.HoldInvoiceData{
		Invoice:       "lnbchold",
		InvoiceHash:   "hash",
		HoldInvoiceID: "hold-1",
		AmountSats:    amountSats,
		ExpiresAt:     time.Now().Add(time.Hour),
	}, nil
}

type mockInvoices struct{}

func (mockInvoices) CreateInvoice(_ context.Context, _ int64, _ string) (string, string, error) {
	return "lnbcstd", "stdhash", nil
}

type mockSwaps struct {
	lastReq SwapRequest
	err     error
}

func (m *mockSwaps) CreateSwap(_ context.Context, req SwapRequest) (*SwapResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastReq = req
	return &SwapResponse{
		SwapID:             "swap-1",
		Address:            "bc1qswap",
		Invoice:            "lnbcswap",
		ExpectedAmountSats: req.AmountSats,
		TimeoutBlock:       800_000,
		RedeemScript:       "a914",
	}, nil
}

func newTestCoordinator(holds *mockHolds, swaps *mockSwaps) *Coordinator {
	return NewCoordinator(holds, mockInvoices{}, swaps, time.Hour, nil)
}

func TestGetSupportedModes(t *testing.T) {
	cases := []struct {
		amount int64
		want   []models.FundingMode
	}{
		{0, nil},
		{500, []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard}},
		{9_999, []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard}},
		{10_000, []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard, models.ModeOnchainSubmarine}},
		{50_000, []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard, models.ModeOnchainSubmarine, models.ModeOnchainReverse}},
		{100_000, []models.FundingMode{models.ModeLightningHold, models.ModeLightningStandard, models.ModeOnchainSubmarine, models.ModeOnchainReverse, models.ModeOnchainMultisig}},
	}
	for _, tc := range cases {
		got := GetSupportedModes(tc.amount)
		if len(got) != len(tc.want) {
			t.Errorf("GetSupportedModes(%d) = %v, want %v", tc.amount, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("GetSupportedModes(%d)[%d] = %s, want %s", tc.amount, i, got[i], tc.want[i])
			}
		}
	}
}

func TestCalculateFees(t *testing.T) {
	cases := []struct {
		mode models.FundingMode
		amt  int64
		want int64
	}{
		{models.ModeLightningHold, 100_000, 100},
		{models.ModeLightningStandard, 100_000, 100},
		{models.ModeOnchainSubmarine, 100_000, 500},
		{models.ModeOnchainReverse, 100_000, 300},
		{models.ModeOnchainMultisig, 100_000, 1000},
		{models.ModeLightningHold, 50_000, 50},
	}
	for _, tc := range cases {
		got, err := CalculateFees(tc.amt, tc.mode)
		if err != nil {
			t.Fatalf("CalculateFees(%d, %s): %v", tc.amt, tc.mode, err)
		}
		if got != tc.want {
			t.Errorf("CalculateFees(%d, %s) = %d, want %d", tc.amt, tc.mode, got, tc.want)
		}
	}

	if _, err := CalculateFees(0, models.ModeLightningHold); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("zero amount: got %v, want validation error", err)
	}
	if _, err := CalculateFees(1000, models.FundingMode("carrier_pigeon")); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown mode: got %v, want validation error", err)
	}
}

func TestCalculateFeesMonotonic(t *testing.T) {
	modes := []models.FundingMode{
		models.ModeLightningHold,
		models.ModeOnchainSubmarine,
		models.ModeOnchainReverse,
		models.ModeOnchainMultisig,
	}
	for _, mode := range modes {
		prev := int64(-1)
		for amt := int64(1000); amt <= 1_000_000; amt += 7919 {
			fee, err := CalculateFees(amt, mode)
			if err != nil {
				t.Fatalf("CalculateFees(%d, %s): %v", amt, mode, err)
			}
			if fee < prev {
				t.Fatalf("fee decreased for %s: %d sats -> %d, was %d", mode, amt, fee, prev)
			}
			prev = fee
		}
	}
}

func TestCreatePaymentLightningHold(t *testing.T) {
	holds := &mockHolds{}
	c := newTestCoordinator(holds, &mockSwaps{})

	resp, err := c.CreatePayment(context.Background(), PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    50_000,
		PreferredMode: models.ModeLightningHold,
		Description:   "escrow",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if resp.Invoice != "lnbchold" || resp.HoldInvoiceID != "hold-1" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.FeeEstimateSats != 50 {
		t.Fatalf("fee = %d, want 50", resp.FeeEstimateSats)
	}
	if holds.lastAmount != 50_000 {
		t.Fatalf("hold amount = %d, want 50000", holds.lastAmount)
	}
	if resp.FundingID == uuid.Nil {
		t.Fatalf("missing funding id")
	}
}

func TestCreatePaymentEligibility(t *testing.T) {
	c := newTestCoordinator(&mockHolds{}, &mockSwaps{})

	// 9999 sats is below the submarine threshold.
	_, err := c.CreatePayment(context.Background(), PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    9_999,
		PreferredMode: models.ModeOnchainSubmarine,
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("ineligible mode: got %v, want validation error", err)
	}

	_, err = c.CreatePayment(context.Background(), PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    0,
		PreferredMode: models.ModeLightningHold,
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("zero amount: got %v, want validation error", err)
	}
}

func TestCreatePaymentSwapRails(t *testing.T) {
	swaps := &mockSwaps{}
	c := newTestCoordinator(&mockHolds{}, swaps)
	ctx := context.Background()

	resp, err := c.CreatePayment(ctx, PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    20_000,
		PreferredMode: models.ModeOnchainSubmarine,
		WorkerInvoice: "lnbcworker",
	})
	if err != nil {
		t.Fatalf("submarine: %v", err)
	}
	if swaps.lastReq.Direction != SwapSubmarine || swaps.lastReq.Invoice != "lnbcworker" {
		t.Fatalf("submarine request = %+v", swaps.lastReq)
	}
	if resp.SwapID != "swap-1" || resp.Address == "" {
		t.Fatalf("submarine response = %+v", resp)
	}

	if _, err := c.CreatePayment(ctx, PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    60_000,
		PreferredMode: models.ModeOnchainReverse,
		RefundAddress: "bc1qrefund",
	}); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if swaps.lastReq.Direction != SwapReverse || swaps.lastReq.RefundAddress != "bc1qrefund" {
		t.Fatalf("reverse request = %+v", swaps.lastReq)
	}

	if _, err := c.CreatePayment(ctx, PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    150_000,
		PreferredMode: models.ModeOnchainMultisig,
	}); err != nil {
		t.Fatalf("multisig: %v", err)
	}
	if swaps.lastReq.Direction != SwapMultisig {
		t.Fatalf("multisig request = %+v", swaps.lastReq)
	}
}

func TestCreatePaymentSwapFailure(t *testing.T) {
	swaps := &mockSwaps{err: errors.New("provider down")}
	c := newTestCoordinator(&mockHolds{}, swaps)

	_, err := c.CreatePayment(context.Background(), PaymentRequest{
		TaskID:        uuid.New(),
		AmountSats:    20_000,
		PreferredMode: models.ModeOnchainSubmarine,
	})
	if !errors.Is(err, errs.ErrIntegration) {
		t.Fatalf("got %v, want integration error", err)
	}
}
