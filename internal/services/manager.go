// Package services holds the task manager, the single writer of task and
// funding state. Every public operation follows the same shape: fetch,
// validate, guard the transition, call the collaborator, mutate under the
// write lock, score reputation, append an audit event, publish.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/engine"
	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/metrics"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/payments"
	"github.com/satwork/backend/internal/publisher"
	"github.com/satwork/backend/internal/reputation"
	"github.com/satwork/backend/internal/store"
	"github.com/satwork/backend/internal/verification"
)

// Escrow is the engine surface the manager drives.
type Escrow interface {
	GetInvoiceStatus(ctx context.Context, invoiceHash string) (models.FundingStatus, error)
	SettleHoldInvoice(ctx context.Context, holdID, workerInvoice string) (*engine.SettlementData, error)
	CancelHoldInvoice(ctx context.Context, holdID string) error
	ActiveHolds() int
}

// Rails builds funding rails.
type Rails interface {
	CreatePayment(ctx context.Context, req payments.PaymentRequest) (*payments.PaymentResponse, error)
}

// Verifier checks signatures and proofs.
type Verifier interface {
	VerifySignature(pubkeyHex, sigHex, subjectID string) error
	VerifyEventSignature(raw json.RawMessage) (*verification.ProofEvent, error)
	VerifyProof(proofURL, proofHash string) error
}

// Scores is the reputation surface the manager updates.
type Scores interface {
	RecordTaskOutcome(ctx context.Context, pubkey string, outcome reputation.TaskOutcome, amountSats int64, onTime bool) (*models.Reputation, error)
	RecordTaskCreated(ctx context.Context, pubkey string, amountSats int64) (*models.Reputation, error)
	RecordTaskClaimed(ctx context.Context, pubkey string) (*models.Reputation, error)
	RecordPayment(ctx context.Context, pubkey string, amountSats int64) (*models.Reputation, error)
	RecordDisputeResolved(ctx context.Context, winner, loser string, penalty int) error
	IsSuspended(ctx context.Context, pubkey string) (bool, error)
}

// Config tunes the manager.
type Config struct {
	// MaxRewardSats bounds task rewards. Zero means the default.
	MaxRewardSats int64
	// DisputePenalty is the penalty applied to a dispute loser.
	DisputePenalty int
	// Provider labels funding records and audit events.
	Provider string
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxRewardSats:  10_000_000,
		DisputePenalty: 20,
		Provider:       "lnd",
	}
}

// Manager orchestrates the escrow lifecycle. It is safe for concurrent use;
// all task and funding writes are serialized by a single write lock while
// collaborator I/O happens outside it.
type Manager struct {
	cfg      Config
	store    store.Store
	escrow   Escrow
	rails    Rails
	verifier Verifier
	scores   Scores
	sink     publisher.Sink
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu sync.Mutex
}

// NewManager wires the orchestrator.
func NewManager(cfg Config, st store.Store, escrow Escrow, rails Rails, verifier Verifier, scores Scores, sink publisher.Sink, m *metrics.Metrics, log *slog.Logger) *Manager {
	if cfg.MaxRewardSats <= 0 {
		cfg.MaxRewardSats = DefaultConfig().MaxRewardSats
	}
	if cfg.DisputePenalty <= 0 {
		cfg.DisputePenalty = DefaultConfig().DisputePenalty
	}
	if sink == nil {
		sink = publisher.Noop{}
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		escrow:   escrow,
		rails:    rails,
		verifier: verifier,
		scores:   scores,
		sink:     sink,
		metrics:  m,
		log:      log,
	}
}

// CreateTaskRequest carries the fields for a new task.
type CreateTaskRequest struct {
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	RewardSats     int64           `json:"reward_sats"`
	EmployerPubkey string          `json:"employer_pubkey"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// CreateTask creates a Draft task owned by the employer.
func (m *Manager) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, m.fail("create_task", errs.Validation("title cannot be empty"))
	}
	if req.EmployerPubkey == "" {
		return nil, m.fail("create_task", errs.Validation("employer pubkey cannot be empty"))
	}
	if req.RewardSats <= 0 {
		return nil, m.fail("create_task", errs.Validation("reward must be greater than 0"))
	}
	if req.RewardSats > m.cfg.MaxRewardSats {
		return nil, m.fail("create_task", errs.Validation("reward %d sats exceeds maximum %d", req.RewardSats, m.cfg.MaxRewardSats))
	}
	if suspended, err := m.scores.IsSuspended(ctx, req.EmployerPubkey); err == nil && suspended {
		return nil, m.fail("create_task", errs.Validation("employer %s is suspended", req.EmployerPubkey))
	}

	task := models.NewTask(req.Title, req.Description, req.RewardSats, req.EmployerPubkey, req.Deadline)
	task.Metadata = req.Metadata

	m.mu.Lock()
	err := m.store.PutTask(ctx, task)
	m.mu.Unlock()
	if err != nil {
		return nil, m.fail("create_task", err)
	}

	if _, err := m.scores.RecordTaskCreated(ctx, req.EmployerPubkey, req.RewardSats); err != nil {
		m.log.Warn("reputation update failed", "op", "create_task", "error", err)
	}
	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskCreated,
		TaskID:      &task.ID,
		AmountSats:  &task.RewardSats,
		ActorPubkey: req.EmployerPubkey,
		Status:      string(task.State),
	})
	if ref := m.publish(ctx, publisher.KindTaskListing, task); ref != "" {
		task.PublishRef = ref
		m.mu.Lock()
		if err := m.store.PutTask(ctx, task); err != nil {
			m.log.Warn("persist publish ref failed", "task_id", task.ID, "error", err)
		}
		m.mu.Unlock()
	}

	m.metrics.TasksCreated.Inc()
	m.log.Info("task created", "task_id", task.ID, "reward_sats", task.RewardSats, "employer", req.EmployerPubkey)
	return task, nil
}

// FundTask builds a funding rail for the task. The task is reserved in
// PendingFunding before the slow rail call and reverted to Draft if the
// rail cannot be built, so concurrent funders fail the guard instead of
// creating duplicate holds.
func (m *Manager) FundTask(ctx context.Context, taskID uuid.UUID, employerPubkey string, mode models.FundingMode) (*payments.PaymentResponse, error) {
	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("fund_task", err)
	}
	if task.EmployerPubkey != employerPubkey {
		m.mu.Unlock()
		return nil, m.fail("fund_task", errs.Validation("only the employer can fund the task"))
	}
	if !task.State.CanFund() {
		m.mu.Unlock()
		return nil, m.fail("fund_task", errs.StateTransition(string(task.State), string(models.TaskPendingFunding), "task is not fundable"))
	}
	if err := task.Transition(models.TaskPendingFunding); err != nil {
		m.mu.Unlock()
		return nil, m.fail("fund_task", err)
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("fund_task", err)
	}
	m.mu.Unlock()

	resp, err := m.rails.CreatePayment(ctx, payments.PaymentRequest{
		TaskID:        taskID,
		AmountSats:    task.RewardSats,
		PreferredMode: mode,
		Description:   task.Title,
	})
	if err != nil {
		m.revertToDraft(ctx, taskID)
		return nil, m.fail("fund_task", err)
	}

	funding := models.NewFunding(taskID, mode, m.cfg.Provider, task.RewardSats, &resp.ExpiresAt)
	funding.ID = resp.FundingID
	funding.Invoice = resp.Invoice
	funding.InvoiceHash = resp.InvoiceHash
	funding.HoldInvoiceID = resp.HoldInvoiceID
	funding.OnchainAddress = resp.Address
	funding.SwapID = resp.SwapID
	funding.LockupScript = resp.RedeemScript
	funding.TimeoutBlock = resp.TimeoutBlock

	m.mu.Lock()
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		m.revertToDraft(ctx, taskID)
		return nil, m.fail("fund_task", err)
	}
	task, err = m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("fund_task", err)
	}
	task.FundingID = &funding.ID
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("fund_task", err)
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventInvoiceCreated,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: funding.InvoiceHash,
		AmountSats:  &funding.AmountSats,
		ActorPubkey: employerPubkey,
		Provider:    funding.Provider,
		Status:      string(funding.Status),
	})

	m.metrics.FundingCreated.WithLabelValues(string(mode)).Inc()
	m.syncHoldsGauge()
	m.log.Info("funding rail created", "task_id", taskID, "funding_id", funding.ID, "mode", mode)
	return resp, nil
}

func (m *Manager) syncHoldsGauge() {
	m.metrics.ActiveHoldsGauge.Set(float64(m.escrow.ActiveHolds()))
}

// revertToDraft undoes the PendingFunding reservation after a failed rail
// build.
func (m *Manager) revertToDraft(ctx context.Context, taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.log.Error("revert fetch failed", "task_id", taskID, "error", err)
		return
	}
	if task.State != models.TaskPendingFunding {
		return
	}
	if err := task.Transition(models.TaskDraft); err != nil {
		m.log.Error("revert transition failed", "task_id", taskID, "error", err)
		return
	}
	task.FundingID = nil
	if err := m.store.PutTask(ctx, task); err != nil {
		m.log.Error("revert store failed", "task_id", taskID, "error", err)
	}
}

// ConfirmFunding checks whether the funding payment arrived and moves the
// task to Funded. For the hold rail the escrow engine is consulted; the
// other rails are confirmed by their external observers calling this after
// their own checks.
func (m *Manager) ConfirmFunding(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	task, funding, err := m.taskWithFunding(ctx, taskID)
	m.mu.Unlock()
	if err != nil {
		return nil, m.fail("confirm_funding", err)
	}
	if task.State != models.TaskPendingFunding {
		return nil, m.fail("confirm_funding", errs.StateTransition(string(task.State), string(models.TaskFunded), "task is not awaiting funding"))
	}

	if funding.Mode == models.ModeLightningHold {
		status, err := m.escrow.GetInvoiceStatus(ctx, funding.InvoiceHash)
		if err != nil {
			return nil, m.fail("confirm_funding", err)
		}
		if status != models.FundingAccepted && status != models.FundingSettled {
			return nil, m.fail("confirm_funding", errs.Payment(fmt.Sprintf("invoice not yet accepted, status %s", status), nil))
		}
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, funding, err = m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("confirm_funding", err)
	}
	if err := task.Transition(models.TaskFunded); err != nil {
		m.mu.Unlock()
		return nil, m.fail("confirm_funding", err)
	}
	funding.Status = models.FundingAccepted
	funding.PaymentReceivedAt = &now
	funding.UpdatedAt = now
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		return nil, m.fail("confirm_funding", err)
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("confirm_funding", err)
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventFundingConfirmed,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: funding.InvoiceHash,
		AmountSats:  &funding.AmountSats,
		Provider:    funding.Provider,
		Status:      string(funding.Status),
	})
	m.publish(ctx, publisher.KindTaskFunded, task)

	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskFunded)).Inc()
	m.log.Info("funding confirmed", "task_id", taskID, "funding_id", funding.ID)
	return task, nil
}

// ClaimTask assigns the task to a worker and captures the payout invoice
// used at settlement.
func (m *Manager) ClaimTask(ctx context.Context, taskID uuid.UUID, workerPubkey, workerInvoice string) (*models.Task, error) {
	if workerPubkey == "" {
		return nil, m.fail("claim_task", errs.Validation("worker pubkey cannot be empty"))
	}
	if workerInvoice == "" {
		return nil, m.fail("claim_task", errs.Validation("worker invoice cannot be empty"))
	}
	if suspended, err := m.scores.IsSuspended(ctx, workerPubkey); err == nil && suspended {
		return nil, m.fail("claim_task", errs.Validation("worker %s is suspended", workerPubkey))
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("claim_task", err)
	}
	if task.EmployerPubkey == workerPubkey {
		m.mu.Unlock()
		return nil, m.fail("claim_task", errs.Validation("employer cannot claim their own task"))
	}
	if !task.State.CanClaim() {
		m.mu.Unlock()
		return nil, m.fail("claim_task", errs.StateTransition(string(task.State), string(models.TaskClaimed), "task is not claimable"))
	}
	if err := task.Transition(models.TaskClaimed); err != nil {
		m.mu.Unlock()
		return nil, m.fail("claim_task", err)
	}
	task.WorkerPubkey = workerPubkey
	task.WorkerInvoice = workerInvoice
	task.ClaimedAt = &now
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("claim_task", err)
	}
	m.mu.Unlock()

	if _, err := m.scores.RecordTaskClaimed(ctx, workerPubkey); err != nil {
		m.log.Warn("reputation update failed", "op", "claim_task", "error", err)
	}
	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskClaimed,
		TaskID:      &taskID,
		ActorPubkey: workerPubkey,
		Status:      string(task.State),
	})
	m.publish(ctx, publisher.KindTaskClaimed, task)

	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskClaimed)).Inc()
	m.log.Info("task claimed", "task_id", taskID, "worker", workerPubkey)
	return task, nil
}

// SubmitProofRequest carries a worker's proof of completed work.
type SubmitProofRequest struct {
	WorkerPubkey string `json:"worker_pubkey"`
	ProofURL     string `json:"proof_url"`
	ProofHash    string `json:"proof_hash"`
	// ProofEvent is an optional signed event carrying the proof; when set it
	// is verified instead of Signature.
	ProofEvent json.RawMessage `json:"proof_event,omitempty"`
	Signature  string          `json:"signature,omitempty"`
}

// SubmitProof records the proof artifact on the task. The task stays
// Claimed; verification moves it on.
func (m *Manager) SubmitProof(ctx context.Context, taskID uuid.UUID, req SubmitProofRequest) (*models.Task, error) {
	if req.WorkerPubkey == "" {
		return nil, m.fail("submit_proof", errs.Validation("worker pubkey cannot be empty"))
	}
	if err := m.verifier.VerifyProof(req.ProofURL, req.ProofHash); err != nil {
		return nil, m.fail("submit_proof", err)
	}

	var proofEventID string
	if len(req.ProofEvent) > 0 {
		event, err := m.verifier.VerifyEventSignature(req.ProofEvent)
		if err != nil {
			return nil, m.fail("submit_proof", err)
		}
		if event.Pubkey != req.WorkerPubkey {
			return nil, m.fail("submit_proof", errs.Crypto("proof event signed by %s, not the worker", event.Pubkey))
		}
		proofEventID = event.ID
	} else {
		subject := taskID.String() + ":" + req.ProofHash
		if err := m.verifier.VerifySignature(req.WorkerPubkey, req.Signature, subject); err != nil {
			return nil, m.fail("submit_proof", err)
		}
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("submit_proof", err)
	}
	if task.WorkerPubkey != req.WorkerPubkey {
		m.mu.Unlock()
		return nil, m.fail("submit_proof", errs.Validation("only the claiming worker can submit proof"))
	}
	if !task.State.CanSubmitProof() {
		m.mu.Unlock()
		return nil, m.fail("submit_proof", errs.StateTransition(string(task.State), string(task.State), "task is not accepting proof"))
	}
	task.ProofURL = req.ProofURL
	task.ProofHash = req.ProofHash
	task.ProofEventID = proofEventID
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("submit_proof", err)
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventProofSubmitted,
		TaskID:      &taskID,
		ActorPubkey: req.WorkerPubkey,
		Status:      string(task.State),
		Metadata:    mustJSON(map[string]string{"proof_url": req.ProofURL, "proof_hash": req.ProofHash}),
	})
	m.publish(ctx, publisher.KindProofSubmit, task)

	m.log.Info("proof submitted", "task_id", taskID, "worker", req.WorkerPubkey)
	return task, nil
}

// VerifyTaskRequest carries the employer's verdict on submitted proof.
type VerifyTaskRequest struct {
	VerifierPubkey string `json:"verifier_pubkey"`
	Approved       bool   `json:"approved"`
	Reason         string `json:"reason,omitempty"`
	Signature      string `json:"signature"`
}

// VerifyTask applies the employer's verdict. Approval settles the escrow
// and pays the worker; the task reaches Paid only after the engine confirms
// settlement. Rejection opens a dispute.
func (m *Manager) VerifyTask(ctx context.Context, taskID uuid.UUID, req VerifyTaskRequest) (*models.Task, error) {
	if req.VerifierPubkey == "" {
		return nil, m.fail("verify_task", errs.Validation("verifier pubkey cannot be empty"))
	}
	subject := taskID.String() + ":" + verdictWord(req.Approved)
	if err := m.verifier.VerifySignature(req.VerifierPubkey, req.Signature, subject); err != nil {
		return nil, m.fail("verify_task", err)
	}

	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	if task.EmployerPubkey != req.VerifierPubkey {
		m.mu.Unlock()
		return nil, m.fail("verify_task", errs.Validation("only the employer can verify the task"))
	}
	if !task.State.CanVerify() {
		m.mu.Unlock()
		// An approved task stuck in Verified means an earlier settlement
		// attempt failed; re-approving retries just the settlement.
		if task.State == models.TaskVerified && req.Approved {
			return m.finishSettlement(ctx, taskID)
		}
		return nil, m.fail("verify_task", errs.StateTransition(string(task.State), string(models.TaskVerified), "task is not verifiable"))
	}
	if task.ProofURL == "" {
		m.mu.Unlock()
		return nil, m.fail("verify_task", errs.Validation("no proof has been submitted"))
	}
	m.mu.Unlock()

	if !req.Approved {
		return m.rejectProof(ctx, taskID, req)
	}
	return m.approveAndSettle(ctx, taskID, req)
}

func verdictWord(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}

// rejectProof moves the task to Disputed and opens a dispute record.
func (m *Manager) rejectProof(ctx context.Context, taskID uuid.UUID, req VerifyTaskRequest) (*models.Task, error) {
	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	if err := task.Transition(models.TaskDisputed); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	task.VerifiedBy = req.VerifierPubkey
	task.VerificationReason = req.Reason
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	dispute := models.NewDispute(taskID, req.VerifierPubkey, task.WorkerPubkey, req.Reason, nil)
	if err := m.store.PutDispute(ctx, dispute); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	m.mu.Unlock()

	if _, err := m.scores.RecordTaskOutcome(ctx, task.WorkerPubkey, reputation.OutcomeDisputed, task.RewardSats, true); err != nil {
		m.log.Warn("reputation update failed", "op", "verify_task", "error", err)
	}
	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventProofRejected,
		TaskID:      &taskID,
		ActorPubkey: req.VerifierPubkey,
		Status:      string(task.State),
		Metadata:    mustJSON(map[string]string{"reason": req.Reason}),
	})
	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventDisputeOpened,
		TaskID:      &taskID,
		ActorPubkey: req.VerifierPubkey,
		Status:      string(models.ResolutionPending),
		Metadata:    mustJSON(map[string]string{"dispute_id": dispute.ID.String()}),
	})
	m.publish(ctx, publisher.KindTaskDisputed, task)

	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskDisputed)).Inc()
	m.log.Info("proof rejected, dispute opened", "task_id", taskID, "dispute_id", dispute.ID)
	return task, nil
}

// approveAndSettle marks the task Verified, settles the hold, and advances
// to Paid only once the engine confirms. A settlement failure leaves the
// task Verified and surfaces the error.
func (m *Manager) approveAndSettle(ctx context.Context, taskID uuid.UUID, req VerifyTaskRequest) (*models.Task, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	task, _, err := m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	if err := task.Transition(models.TaskVerified); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	task.VerifiedBy = req.VerifierPubkey
	task.VerifiedAt = &now
	task.VerificationReason = req.Reason
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventProofVerified,
		TaskID:      &taskID,
		ActorPubkey: req.VerifierPubkey,
		Status:      string(task.State),
	})
	m.publish(ctx, publisher.KindTaskVerified, task)
	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskVerified)).Inc()

	return m.finishSettlement(ctx, taskID)
}

// finishSettlement settles the hold for a Verified task and commits Paid.
// It is the tail of approval and the retry path after a settlement failure.
func (m *Manager) finishSettlement(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	task, funding, err := m.taskWithFunding(ctx, taskID)
	m.mu.Unlock()
	if err != nil {
		return nil, m.fail("verify_task", err)
	}

	settlement, err := m.settleFunding(ctx, task, funding)
	if err != nil {
		// Task stays Verified; an approved re-verify retries settlement.
		return task, m.fail("verify_task", err)
	}

	m.mu.Lock()
	task, funding, err = m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	if err := task.Transition(models.TaskPaid); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	settledAt := settlement.SettledAt
	task.SettledAt = &settledAt
	funding.Status = models.FundingSettled
	funding.SettledAt = &settledAt
	funding.UpdatedAt = settledAt
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("verify_task", err)
	}
	m.mu.Unlock()

	onTime := task.Deadline == nil || !task.CompletedAt.After(*task.Deadline)
	if _, err := m.scores.RecordTaskOutcome(ctx, task.WorkerPubkey, reputation.OutcomeCompleted, task.RewardSats, onTime); err != nil {
		m.log.Warn("reputation update failed", "op", "verify_task", "error", err)
	}
	if _, err := m.scores.RecordPayment(ctx, task.EmployerPubkey, task.RewardSats); err != nil {
		m.log.Warn("reputation update failed", "op", "verify_task", "error", err)
	}

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventSettlementCompleted,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: settlement.InvoiceHash,
		Preimage:    settlement.Preimage,
		AmountSats:  &funding.AmountSats,
		ActorPubkey: task.WorkerPubkey,
		Provider:    funding.Provider,
		Status:      string(funding.Status),
	})
	m.publish(ctx, publisher.KindTaskSettled, task)

	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskPaid)).Inc()
	m.metrics.SettlementsSats.Add(float64(funding.AmountSats))
	m.log.Info("task settled", "task_id", taskID, "amount_sats", funding.AmountSats, "worker", task.WorkerPubkey)
	return task, nil
}

// settleFunding releases escrowed funds to the worker for the task's rail.
func (m *Manager) settleFunding(ctx context.Context, task *models.Task, funding *models.Funding) (*engine.SettlementData, error) {
	if funding.Mode == models.ModeLightningHold {
		data, err := m.escrow.SettleHoldInvoice(ctx, funding.HoldInvoiceID, task.WorkerInvoice)
		if err == nil {
			m.syncHoldsGauge()
		}
		return data, err
	}
	// Non-hold rails settle through their own providers; the funds movement
	// is confirmed out of band before verification is approved.
	return &engine.SettlementData{
		InvoiceHash: funding.InvoiceHash,
		AmountSats:  funding.AmountSats,
		SettledAt:   time.Now().UTC(),
	}, nil
}

// CancelTask refunds a funded task back to the employer, or expires an
// unfunded one.
func (m *Manager) CancelTask(ctx context.Context, taskID uuid.UUID, employerPubkey, reason string) (*models.Task, error) {
	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	if task.EmployerPubkey != employerPubkey {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", errs.Validation("only the employer can cancel the task"))
	}
	state := task.State
	m.mu.Unlock()

	switch state {
	case models.TaskDraft, models.TaskPendingFunding:
		return m.expireTask(ctx, taskID, reason)
	case models.TaskFunded:
		return m.refundTask(ctx, taskID, reason)
	default:
		return nil, m.fail("cancel_task", errs.StateTransition(string(state), string(models.TaskRefunded), "task cannot be cancelled in this state"))
	}
}

// refundTask cancels the hold and moves a Funded task to Refunded.
func (m *Manager) refundTask(ctx context.Context, taskID uuid.UUID, reason string) (*models.Task, error) {
	m.mu.Lock()
	task, funding, err := m.taskWithFunding(ctx, taskID)
	m.mu.Unlock()
	if err != nil {
		return nil, m.fail("cancel_task", err)
	}

	if funding.Mode == models.ModeLightningHold {
		if err := m.escrow.CancelHoldInvoice(ctx, funding.HoldInvoiceID); err != nil {
			return nil, m.fail("cancel_task", err)
		}
		m.syncHoldsGauge()
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, funding, err = m.taskWithFunding(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	if err := task.Transition(models.TaskRefunded); err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	funding.Status = models.FundingCancelled
	funding.CancelledAt = &now
	funding.UpdatedAt = now
	if err := m.store.PutFunding(ctx, funding); err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	m.mu.Unlock()

	if task.WorkerPubkey != "" {
		if _, err := m.scores.RecordTaskOutcome(ctx, task.WorkerPubkey, reputation.OutcomeRefunded, task.RewardSats, false); err != nil {
			m.log.Warn("refund reputation update failed", "task_id", taskID, "error", err)
		}
	}

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskRefunded,
		TaskID:      &taskID,
		FundingID:   &funding.ID,
		InvoiceHash: funding.InvoiceHash,
		AmountSats:  &funding.AmountSats,
		ActorPubkey: task.EmployerPubkey,
		Status:      string(funding.Status),
		Metadata:    mustJSON(map[string]string{"reason": reason}),
	})

	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskRefunded)).Inc()
	m.log.Info("task refunded", "task_id", taskID, "reason", reason)
	return task, nil
}

// expireTask moves an unfunded task to Expired, cancelling any pending
// funding attempt so its hold is not left for the expiry sweep.
func (m *Manager) expireTask(ctx context.Context, taskID uuid.UUID, reason string) (*models.Task, error) {
	m.mu.Lock()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	var funding *models.Funding
	if task.FundingID != nil {
		if funding, err = m.store.GetFunding(ctx, *task.FundingID); err != nil {
			m.mu.Unlock()
			return nil, m.fail("cancel_task", err)
		}
	}
	m.mu.Unlock()

	if funding != nil && funding.Mode == models.ModeLightningHold && !funding.Status.IsTerminal() {
		if err := m.escrow.CancelHoldInvoice(ctx, funding.HoldInvoiceID); err != nil {
			// The hold may already be gone; the record is still closed out.
			m.log.Warn("cancel during task expiry failed", "task_id", taskID, "error", err)
		}
		m.syncHoldsGauge()
	}

	now := time.Now().UTC()

	m.mu.Lock()
	task, err = m.store.GetTask(ctx, taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	if err := task.Transition(models.TaskExpired); err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	if funding != nil && !funding.Status.IsTerminal() {
		funding.Status = models.FundingCancelled
		funding.CancelledAt = &now
		funding.UpdatedAt = now
		if err := m.store.PutFunding(ctx, funding); err != nil {
			m.mu.Unlock()
			return nil, m.fail("cancel_task", err)
		}
	}
	if err := m.store.PutTask(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, m.fail("cancel_task", err)
	}
	m.mu.Unlock()

	m.appendEvent(ctx, &models.EscrowEvent{
		EventType:   models.EventTaskExpired,
		TaskID:      &taskID,
		ActorPubkey: task.EmployerPubkey,
		Status:      string(task.State),
		Metadata:    mustJSON(map[string]string{"reason": reason}),
	})
	m.metrics.TaskTransitions.WithLabelValues(string(models.TaskExpired)).Inc()
	return task, nil
}

// taskWithFunding fetches a task and its funding record. Callers hold the
// write lock.
func (m *Manager) taskWithFunding(ctx context.Context, taskID uuid.UUID) (*models.Task, *models.Funding, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.FundingID == nil {
		return nil, nil, errs.Internal(fmt.Sprintf("task %s has no funding record", taskID), nil)
	}
	funding, err := m.store.GetFunding(ctx, *task.FundingID)
	if err != nil {
		return nil, nil, err
	}
	return task, funding, nil
}

// appendEvent writes one audit record. Append failures are logged, never
// propagated, so a completed state transition is not unwound by its audit.
func (m *Manager) appendEvent(ctx context.Context, event *models.EscrowEvent) {
	if err := m.store.AppendEvent(ctx, event); err != nil {
		m.log.Error("audit append failed", "event_type", event.EventType, "error", err)
	}
}

// publish pushes the entity to the relay sink. Failures are counted and
// logged, never returned.
func (m *Manager) publish(ctx context.Context, kind int, v any) string {
	content, err := json.Marshal(v)
	if err != nil {
		m.log.Error("publish encode failed", "kind", kind, "error", err)
		return ""
	}
	ref, err := m.sink.Publish(ctx, kind, string(content), nil)
	if err != nil {
		m.metrics.PublishFailures.Inc()
		m.log.Warn("publish failed", "kind", kind, "error", err)
		return ""
	}
	return ref
}

// fail records the error against the operation's metrics before returning it.
func (m *Manager) fail(op string, err error) error {
	m.metrics.OperationErrors.WithLabelValues(op, errs.KindOf(err).String()).Inc()
	return err
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
