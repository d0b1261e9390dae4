package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/middleware"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/services"
)

// DisputeService is the subset of the orchestrator the dispute handler needs.
type DisputeService interface {
	ResolveDispute(ctx context.Context, disputeID uuid.UUID, req services.ResolveDisputeRequest) (*models.Dispute, error)
	GetDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	GetTaskDisputes(ctx context.Context, taskID uuid.UUID) ([]*models.Dispute, error)
}

// DisputeHandler serves /v1/disputes endpoints.
type DisputeHandler struct {
	Disputes DisputeService
	Logger   *slog.Logger
}

type resolveDisputeRequest struct {
	Resolution models.DisputeResolution `json:"resolution"`
	Reason     string                   `json:"reason,omitempty"`
	Signature  string                   `json:"signature"`
}

// ResolveDispute handles POST /v1/disputes/{id}/resolve. The caller is the
// arbitrator; their signature over the verdict is checked downstream.
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	pubkey := middleware.PubkeyFromCtx(r.Context())
	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dispute id"})
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	dispute, err := h.Disputes.ResolveDispute(r.Context(), disputeID, services.ResolveDisputeRequest{
		ArbitratorPubkey: pubkey,
		Resolution:       req.Resolution,
		Reason:           req.Reason,
		Signature:        req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispute)
}

// GetDispute handles GET /v1/disputes/{id}.
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dispute id"})
		return
	}
	dispute, err := h.Disputes.GetDispute(r.Context(), disputeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispute)
}

// GetTaskDisputes handles GET /v1/tasks/{id}/disputes.
func (h *DisputeHandler) GetTaskDisputes(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	disputes, err := h.Disputes.GetTaskDisputes(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": disputes, "count": len(disputes)})
}
