package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/engine"
	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/payments"
	"github.com/satwork/backend/internal/reputation"
	"github.com/satwork/backend/internal/store"
	"github.com/satwork/backend/internal/verification"
)

// fakeNode simulates the Lightning daemon behind the escrow engine.
type fakeNode struct {
	mu          sync.Mutex
	holds       map[string]string // holdID -> hash
	status      models.FundingStatus
	revealErr   error
	revealCalls int
	cancelCalls int
}

func newFakeNode() *fakeNode {
	return &fakeNode{holds: map[string]string{}, status: models.FundingAccepted}
}

func (f *fakeNode) CreateHold(_ context.Context, _ int64, hashHex, _ string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	holdID := "hold-" + hashHex[:8]
	f.holds[holdID] = hashHex
	return "lnbc" + hashHex[:12], holdID, nil
}

func (f *fakeNode) Status(context.Context, string) (models.FundingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeNode) RevealAndRoute(_ context.Context, holdID, preimageHex, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealCalls++
	if f.revealErr != nil {
		return f.revealErr
	}
	hash, ok := f.holds[holdID]
	if !ok {
		return errors.New("unknown hold")
	}
	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(preimage)
	if hex.EncodeToString(sum[:]) != hash {
		return errors.New("bad preimage")
	}
	delete(f.holds, holdID)
	return nil
}

func (f *fakeNode) Cancel(_ context.Context, holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	delete(f.holds, holdID)
	return nil
}

// stubVerifier accepts everything unless primed with an error.
type stubVerifier struct {
	sigErr   error
	proofErr error
}

func (s *stubVerifier) VerifySignature(string, string, string) error { return s.sigErr }

func (s *stubVerifier) VerifyEventSignature(raw json.RawMessage) (*verification.ProofEvent, error) {
	if s.sigErr != nil {
		return nil, s.sigErr
	}
	var event verification.ProofEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errs.Validation("decode proof event: %v", err)
	}
	return &event, nil
}

func (s *stubVerifier) VerifyProof(string, string) error { return s.proofErr }

type stubInvoices struct{}

func (stubInvoices) CreateInvoice(context.Context, int64, string) (string, string, error) {
	return "lnbcstd", "stdhash", nil
}

type stubSwaps struct{}

func (stubSwaps) CreateSwap(_ context.Context, req payments.SwapRequest) (*payments.SwapResponse, error) {
	return &payments.SwapResponse{SwapID: "swap-1", Address: "bc1q", ExpectedAmountSats: req.AmountSats}, nil
}

// recordingSink captures published kinds.
type recordingSink struct {
	mu    sync.Mutex
	kinds []int
}

func (r *recordingSink) Publish(_ context.Context, kind int, _ string, _ [][]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return "ref-" + uuid.NewString()[:8], nil
}

type fixture struct {
	manager *Manager
	store   *store.Memory
	node    *fakeNode
	sink    *recordingSink
	scores  *reputation.Indexer
	verify  *stubVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	node := newFakeNode()
	eng, err := engine.New(engine.Config{InvoiceTTL: time.Hour, MaxInvoiceAmountSats: 10_000_000}, node, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	coord := payments.NewCoordinator(eng, stubInvoices{}, stubSwaps{}, time.Hour, nil)
	scores := reputation.NewIndexer(reputation.DefaultConfig(), mem, nil)
	sink := &recordingSink{}
	verify := &stubVerifier{}
	mgr := NewManager(DefaultConfig(), mem, eng, coord, verify, scores, sink, nil, nil)
	return &fixture{manager: mgr, store: mem, node: node, sink: sink, scores: scores, verify: verify}
}

// steps through create, fund, confirm, and claim; returns the task.
func (f *fixture) fundedAndClaimed(t *testing.T, reward int64) *models.Task {
	t.Helper()
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, CreateTaskRequest{
		Title:          "build the widget",
		RewardSats:     reward,
		EmployerPubkey: "e1",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	if _, err := f.manager.ConfirmFunding(ctx, task.ID); err != nil {
		t.Fatalf("ConfirmFunding: %v", err)
	}
	claimed, err := f.manager.ClaimTask(ctx, task.ID, "w1", "lnbcworker")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	return claimed
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []CreateTaskRequest{
		{Title: "", RewardSats: 1000, EmployerPubkey: "e1"},
		{Title: "t", RewardSats: 0, EmployerPubkey: "e1"},
		{Title: "t", RewardSats: -5, EmployerPubkey: "e1"},
		{Title: "t", RewardSats: 1000, EmployerPubkey: ""},
		{Title: "t", RewardSats: 100_000_000, EmployerPubkey: "e1"},
	}
	for i, req := range cases {
		if _, err := f.manager.CreateTask(ctx, req); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("case %d: got %v, want validation error", i, err)
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, CreateTaskRequest{
		Title:          "build the widget",
		Description:    "a widget that widgets",
		RewardSats:     50_000,
		EmployerPubkey: "e1",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.State != models.TaskDraft {
		t.Fatalf("state = %s, want draft", task.State)
	}

	resp, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold)
	if err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	if resp.Invoice == "" || resp.InvoiceHash == "" || resp.HoldInvoiceID == "" {
		t.Fatalf("funding response = %+v", resp)
	}
	got, _ := f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskPendingFunding {
		t.Fatalf("state = %s, want pending_funding", got.State)
	}
	funding, err := f.manager.GetFunding(ctx, resp.FundingID)
	if err != nil {
		t.Fatalf("GetFunding: %v", err)
	}
	if funding.AmountSats != 50_000 {
		t.Fatalf("funding amount = %d, want 50000", funding.AmountSats)
	}

	if _, err := f.manager.ConfirmFunding(ctx, task.ID); err != nil {
		t.Fatalf("ConfirmFunding: %v", err)
	}
	got, _ = f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskFunded {
		t.Fatalf("state = %s, want funded", got.State)
	}

	claimed, err := f.manager.ClaimTask(ctx, task.ID, "w1", "lnbcworker")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed.State != models.TaskClaimed || claimed.WorkerInvoice != "lnbcworker" {
		t.Fatalf("claimed = %+v", claimed)
	}

	submitted, err := f.manager.SubmitProof(ctx, task.ID, SubmitProofRequest{
		WorkerPubkey: "w1",
		ProofURL:     "https://example.com/proof",
		ProofHash:    "4a44dc15364204a80fe80e9039455cc1608281820fe2b24f1e5233ade6af1dd5",
		Signature:    "sig",
	})
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if submitted.State != models.TaskClaimed {
		t.Fatalf("proof submission must not change state, got %s", submitted.State)
	}
	if submitted.ProofURL == "" || submitted.ProofHash == "" {
		t.Fatalf("proof fields not set: %+v", submitted)
	}

	paid, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1",
		Approved:       true,
		Signature:      "sig",
	})
	if err != nil {
		t.Fatalf("VerifyTask: %v", err)
	}
	if paid.State != models.TaskPaid {
		t.Fatalf("state = %s, want paid", paid.State)
	}
	if paid.SettledAt == nil {
		t.Fatalf("missing settlement timestamp")
	}

	// Settlement event carries a non-empty preimage.
	events, err := f.manager.GetTaskEvents(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskEvents: %v", err)
	}
	var sawSettlement bool
	var lastID int64
	for _, event := range events {
		if event.ID <= lastID {
			t.Fatalf("event ids not monotonic: %d after %d", event.ID, lastID)
		}
		lastID = event.ID
		if event.EventType == models.EventSettlementCompleted {
			sawSettlement = true
			if event.Preimage == "" {
				t.Fatalf("settlement event has empty preimage")
			}
		}
	}
	if !sawSettlement {
		t.Fatalf("no settlement event in audit trail: %+v", events)
	}

	rep, err := f.scores.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("reputation Get: %v", err)
	}
	if rep.TasksCompleted != 1 {
		t.Fatalf("worker tasks_completed = %d, want 1", rep.TasksCompleted)
	}
	if rep.Score <= 500 {
		t.Fatalf("worker score = %d, want above initial 500", rep.Score)
	}

	if f.node.revealCalls != 1 {
		t.Fatalf("reveal calls = %d, want 1", f.node.revealCalls)
	}
	if len(f.sink.kinds) == 0 {
		t.Fatalf("nothing published to the sink")
	}
}

func TestFundTaskWrongEmployer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := f.manager.FundTask(ctx, task.ID, "someone-else", models.ModeLightningHold); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	got, _ := f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskDraft {
		t.Fatalf("state = %s, want unchanged draft", got.State)
	}
}

func TestFundTaskTwiceFailsGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("first fund: %v", err)
	}
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); !errors.Is(err, errs.ErrStateTransition) {
		t.Fatalf("second fund: got %v, want state-transition error", err)
	}
}

func TestConcurrentFundExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, guardFails int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, errs.ErrStateTransition):
				guardFails++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if guardFails != n-1 {
		t.Fatalf("guard failures = %d, want %d", guardFails, n-1)
	}
	got, _ := f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskPendingFunding {
		t.Fatalf("state = %s, want pending_funding", got.State)
	}
	// Exactly one hold was created.
	if len(f.node.holds) != 1 {
		t.Fatalf("holds on node = %d, want 1", len(f.node.holds))
	}
}

func TestConfirmFundingNotYetPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	f.node.status = models.FundingPending
	if _, err := f.manager.ConfirmFunding(ctx, task.ID); !errors.Is(err, errs.ErrPayment) {
		t.Fatalf("got %v, want payment error", err)
	}
	got, _ := f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskPendingFunding {
		t.Fatalf("state = %s, want pending_funding", got.State)
	}
}

func TestClaimValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if _, err := f.manager.ClaimTask(ctx, task.ID, "w1", "lnbc"); !errors.Is(err, errs.ErrStateTransition) {
		t.Fatalf("claim unfunded: got %v, want state-transition error", err)
	}
	if _, err := f.manager.ClaimTask(ctx, task.ID, "w1", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty invoice: got %v, want validation error", err)
	}
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	if _, err := f.manager.ConfirmFunding(ctx, task.ID); err != nil {
		t.Fatalf("ConfirmFunding: %v", err)
	}
	if _, err := f.manager.ClaimTask(ctx, task.ID, "e1", "lnbc"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("self-claim: got %v, want validation error", err)
	}
}

func TestSubmitProofRequiresWorkerMatch(t *testing.T) {
	f := newFixture(t)
	task := f.fundedAndClaimed(t, 1000)

	_, err := f.manager.SubmitProof(context.Background(), task.ID, SubmitProofRequest{
		WorkerPubkey: "w2",
		ProofURL:     "https://example.com/p",
		ProofHash:    "4a44dc15364204a80fe80e9039455cc1608281820fe2b24f1e5233ade6af1dd5",
		Signature:    "sig",
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestVerifyRejectionOpensDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.fundedAndClaimed(t, 1000)

	if _, err := f.manager.SubmitProof(ctx, task.ID, SubmitProofRequest{
		WorkerPubkey: "w1",
		ProofURL:     "https://example.com/p",
		ProofHash:    "4a44dc15364204a80fe80e9039455cc1608281820fe2b24f1e5233ade6af1dd5",
		Signature:    "sig",
	}); err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}

	got, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1",
		Approved:       false,
		Reason:         "proof does not match deliverable",
		Signature:      "sig",
	})
	if err != nil {
		t.Fatalf("VerifyTask: %v", err)
	}
	if got.State != models.TaskDisputed {
		t.Fatalf("state = %s, want disputed", got.State)
	}

	disputes, err := f.manager.GetTaskDisputes(ctx, task.ID)
	if err != nil || len(disputes) != 1 {
		t.Fatalf("disputes = %v, %v; want one record", disputes, err)
	}
	d := disputes[0]
	if d.InitiatedBy != "e1" || d.Respondent != "w1" || d.Resolution != models.ResolutionPending {
		t.Fatalf("dispute = %+v", d)
	}
	if f.node.revealCalls != 0 {
		t.Fatalf("settlement must not run on rejection")
	}
}

func TestVerifyRequiresEmployerAndProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.fundedAndClaimed(t, 1000)

	if _, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "w1", Approved: true, Signature: "sig",
	}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("non-employer verifier: got %v, want validation error", err)
	}
	if _, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1", Approved: true, Signature: "sig",
	}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("no proof submitted: got %v, want validation error", err)
	}
}

func TestSettlementFailureLeavesVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.fundedAndClaimed(t, 1000)

	if _, err := f.manager.SubmitProof(ctx, task.ID, SubmitProofRequest{
		WorkerPubkey: "w1",
		ProofURL:     "https://example.com/p",
		ProofHash:    "4a44dc15364204a80fe80e9039455cc1608281820fe2b24f1e5233ade6af1dd5",
		Signature:    "sig",
	}); err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}

	f.node.revealErr = errors.New("no route")
	_, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1", Approved: true, Signature: "sig",
	})
	if !errors.Is(err, errs.ErrIntegration) {
		t.Fatalf("got %v, want integration error", err)
	}
	got, _ := f.manager.GetTask(ctx, task.ID)
	if got.State != models.TaskVerified {
		t.Fatalf("state = %s, want verified after failed settlement", got.State)
	}

	rep, _ := f.scores.Get(ctx, "w1")
	if rep.TasksCompleted != 0 {
		t.Fatalf("reputation credited despite failed settlement")
	}
}

func TestCancelFundedTaskRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	if _, err := f.manager.ConfirmFunding(ctx, task.ID); err != nil {
		t.Fatalf("ConfirmFunding: %v", err)
	}

	got, err := f.manager.CancelTask(ctx, task.ID, "e1", "no longer needed")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if got.State != models.TaskRefunded {
		t.Fatalf("state = %s, want refunded", got.State)
	}
	if f.node.cancelCalls != 1 {
		t.Fatalf("hold cancel calls = %d, want 1", f.node.cancelCalls)
	}
	funding, _ := f.manager.GetFunding(ctx, *got.FundingID)
	if funding.Status != models.FundingCancelled {
		t.Fatalf("funding status = %s, want cancelled", funding.Status)
	}
}

func TestCancelDraftExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	got, err := f.manager.CancelTask(ctx, task.ID, "e1", "mistake")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if got.State != models.TaskExpired {
		t.Fatalf("state = %s, want expired", got.State)
	}
}

func TestClaimCountsTowardReputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundedAndClaimed(t, 20_000)

	rep, err := f.scores.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rep.TasksClaimed != 1 {
		t.Fatalf("tasks claimed = %d, want 1", rep.TasksClaimed)
	}
	if rep.TasksCompleted != 0 {
		t.Fatalf("claim should not count as completion")
	}
}

func TestApprovedReverifyRetriesSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.fundedAndClaimed(t, 1000)

	if _, err := f.manager.SubmitProof(ctx, task.ID, SubmitProofRequest{
		WorkerPubkey: "w1",
		ProofURL:     "https://example.com/p",
		ProofHash:    "4a44dc15364204a80fe80e9039455cc1608281820fe2b24f1e5233ade6af1dd5",
		Signature:    "sig",
	}); err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}

	f.node.revealErr = errors.New("no route")
	if _, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1", Approved: true, Signature: "sig",
	}); !errors.Is(err, errs.ErrIntegration) {
		t.Fatalf("got %v, want integration error", err)
	}

	f.node.revealErr = nil
	got, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1", Approved: true, Signature: "sig",
	})
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if got.State != models.TaskPaid {
		t.Fatalf("state = %s, want paid after retried settlement", got.State)
	}
	if f.node.revealCalls != 2 {
		t.Fatalf("reveal calls = %d, want 2", f.node.revealCalls)
	}

	rep, _ := f.scores.Get(ctx, "w1")
	if rep.TasksCompleted != 1 {
		t.Fatalf("tasks completed = %d, want 1", rep.TasksCompleted)
	}

	// Rejecting a Verified task is still not a thing.
	if _, err := f.manager.VerifyTask(ctx, task.ID, VerifyTaskRequest{
		VerifierPubkey: "e1", Approved: false, Signature: "sig",
	}); !errors.Is(err, errs.ErrStateTransition) {
		t.Fatalf("got %v, want state transition error", err)
	}
}

func TestCancelPendingFundingCancelsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if _, err := f.manager.FundTask(ctx, task.ID, "e1", models.ModeLightningHold); err != nil {
		t.Fatalf("FundTask: %v", err)
	}

	got, err := f.manager.CancelTask(ctx, task.ID, "e1", "changed my mind")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if got.State != models.TaskExpired {
		t.Fatalf("state = %s, want expired", got.State)
	}
	if f.node.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d, want 1", f.node.cancelCalls)
	}

	got, _ = f.manager.GetTask(ctx, task.ID)
	if got.FundingID == nil {
		t.Fatal("funding reference lost")
	}
	funding, err := f.manager.GetFunding(ctx, *got.FundingID)
	if err != nil {
		t.Fatalf("GetFunding: %v", err)
	}
	if funding.Status != models.FundingCancelled {
		t.Fatalf("funding status = %s, want cancelled", funding.Status)
	}
	if funding.CancelledAt == nil {
		t.Fatal("cancelled_at not set")
	}
}

func TestCreateTaskPersistsPublishRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, CreateTaskRequest{Title: "t", RewardSats: 1000, EmployerPubkey: "e1"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.PublishRef == "" {
		t.Fatal("publish ref missing on returned task")
	}

	stored, err := f.manager.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.PublishRef != task.PublishRef {
		t.Fatalf("stored publish ref = %q, want %q", stored.PublishRef, task.PublishRef)
	}
}
