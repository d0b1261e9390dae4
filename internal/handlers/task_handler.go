// Package handlers exposes the escrow operations over HTTP. Handlers stay
// thin: decode, delegate, encode. The caller identity always comes from the
// session token, never from the request body.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/middleware"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/payments"
	"github.com/satwork/backend/internal/services"
)

// TaskService is the subset of the orchestrator the task handler needs.
type TaskService interface {
	CreateTask(ctx context.Context, req services.CreateTaskRequest) (*models.Task, error)
	FundTask(ctx context.Context, taskID uuid.UUID, employerPubkey string, mode models.FundingMode) (*payments.PaymentResponse, error)
	ConfirmFunding(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ClaimTask(ctx context.Context, taskID uuid.UUID, workerPubkey, workerInvoice string) (*models.Task, error)
	SubmitProof(ctx context.Context, taskID uuid.UUID, req services.SubmitProofRequest) (*models.Task, error)
	VerifyTask(ctx context.Context, taskID uuid.UUID, req services.VerifyTaskRequest) (*models.Task, error)
	CancelTask(ctx context.Context, taskID uuid.UUID, employerPubkey, reason string) (*models.Task, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)
	GetTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error)
	GetFunding(ctx context.Context, fundingID uuid.UUID) (*models.Funding, error)
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Tasks  TaskService
	Logger *slog.Logger
}

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	RewardSats  int64           `json:"reward_sats"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// CreateTask handles POST /v1/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	if pubkey == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.Tasks.CreateTask(r.Context(), services.CreateTaskRequest{
		Title:          req.Title,
		Description:    req.Description,
		RewardSats:     req.RewardSats,
		EmployerPubkey: pubkey,
		Deadline:       req.Deadline,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type fundTaskRequest struct {
	Mode models.FundingMode `json:"mode"`
}

// FundTask handles POST /v1/tasks/{id}/fund. Only the employer can fund.
func (h *TaskHandler) FundTask(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req fundTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	resp, err := h.Tasks.FundTask(r.Context(), taskID, pubkey, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ConfirmFunding handles POST /v1/tasks/{id}/funding/confirm. It re-checks
// the rail and moves the task to funded once payment is held.
func (h *TaskHandler) ConfirmFunding(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.ConfirmFunding(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type claimTaskRequest struct {
	WorkerInvoice string `json:"worker_invoice"`
}

// ClaimTask handles POST /v1/tasks/{id}/claim.
func (h *TaskHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req claimTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.Tasks.ClaimTask(r.Context(), taskID, pubkey, req.WorkerInvoice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type submitProofRequest struct {
	ProofURL   string          `json:"proof_url"`
	ProofHash  string          `json:"proof_hash"`
	ProofEvent json.RawMessage `json:"proof_event,omitempty"`
	Signature  string          `json:"signature,omitempty"`
}

// SubmitProof handles POST /v1/tasks/{id}/proof.
func (h *TaskHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req submitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.Tasks.SubmitProof(r.Context(), taskID, services.SubmitProofRequest{
		WorkerPubkey: pubkey,
		ProofURL:     req.ProofURL,
		ProofHash:    req.ProofHash,
		ProofEvent:   req.ProofEvent,
		Signature:    req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type verifyTaskRequest struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature"`
}

// VerifyTask handles POST /v1/tasks/{id}/verify. Approval settles the
// escrow to the worker; rejection opens a dispute.
func (h *TaskHandler) VerifyTask(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req verifyTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.Tasks.VerifyTask(r.Context(), taskID, services.VerifyTaskRequest{
		VerifierPubkey: pubkey,
		Approved:       req.Approved,
		Reason:         req.Reason,
		Signature:      req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type cancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelTask handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req cancelTaskRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	task, err := h.Tasks.CancelTask(r.Context(), taskID, pubkey, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// GetTaskEvents handles GET /v1/tasks/{id}/events.
func (h *TaskHandler) GetTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := h.Tasks.GetTaskEvents(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// FundingQR handles GET /v1/tasks/{id}/funding/qr. It renders the active
// funding target (invoice or on-chain address) as a PNG for wallet scanning.
func (h *TaskHandler) FundingQR(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	task, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.FundingID == nil {
		writeError(w, errs.NotFound("task %s has no funding attempt", taskID))
		return
	}
	funding, err := h.Tasks.GetFunding(r.Context(), *task.FundingID)
	if err != nil {
		writeError(w, err)
		return
	}

	target := funding.Invoice
	if target == "" {
		target = funding.OnchainAddress
	}
	if target == "" {
		writeError(w, errs.NotFound("funding %s has no payable target", funding.ID))
		return
	}

	size := 256
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 64 && n <= 1024 {
			size = n
		}
	}

	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		h.Logger.Error("encode funding qr", "task_id", taskID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "qr encoding failed"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// pathID parses the {id} path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}
