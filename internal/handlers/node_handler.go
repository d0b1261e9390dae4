package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/lightning"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/node"
	"github.com/satwork/backend/internal/reputation"
)

// NodeService is the read-only facade surface the handler exposes.
type NodeService interface {
	GetHealth(ctx context.Context) *node.Health
	GetNodeInfo(ctx context.Context) (*lightning.NodeInfo, error)
	GetLiquidity(ctx context.Context) (*node.Liquidity, error)
	GetTaskInfo(ctx context.Context, taskID uuid.UUID) (*node.TaskInfo, error)
	GetUserTasks(ctx context.Context, pubkey string) ([]*models.Task, error)
	GetReputation(ctx context.Context, pubkey string) (*models.Reputation, error)
	GetLeaderboard(ctx context.Context, n int) ([]*models.Reputation, error)
	GetReputationStats(ctx context.Context) (*reputation.Stats, error)
	QuoteFees(amountSats int64) ([]node.FeeQuote, error)
	SupportedModes(amountSats int64) []models.FundingMode
}

// NodeHandler serves the read-only status and query endpoints.
type NodeHandler struct {
	Node   NodeService
	Logger *slog.Logger
}

// Health handles GET /health. Always 200; the body reports degradation.
func (h *NodeHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Node.GetHealth(r.Context()))
}

// NodeInfo handles GET /v1/node/info.
func (h *NodeHandler) NodeInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Node.GetNodeInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Liquidity handles GET /v1/node/liquidity.
func (h *NodeHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	liq, err := h.Node.GetLiquidity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liq)
}

// TaskInfo handles GET /v1/tasks/{id}/info, the aggregate view with
// funding, events, and disputes.
func (h *NodeHandler) TaskInfo(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := h.Node.GetTaskInfo(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UserTasks handles GET /v1/users/{pubkey}/tasks.
func (h *NodeHandler) UserTasks(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")
	if pubkey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pubkey is required"})
		return
	}
	tasks, err := h.Node.GetUserTasks(r.Context(), pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// Reputation handles GET /v1/users/{pubkey}/reputation.
func (h *NodeHandler) Reputation(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")
	if pubkey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pubkey is required"})
		return
	}
	rep, err := h.Node.GetReputation(r.Context(), pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Leaderboard handles GET /v1/reputation/leaderboard.
func (h *NodeHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	n := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			n = v
		}
	}
	top, err := h.Node.GetLeaderboard(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": top, "count": len(top)})
}

// ReputationStats handles GET /v1/reputation/stats.
func (h *NodeHandler) ReputationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Node.GetReputationStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Fees handles GET /v1/fees?amount_sats=N.
func (h *NodeHandler) Fees(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount_sats"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount_sats is required"})
		return
	}
	quotes, err := h.Node.QuoteFees(amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount_sats": amount,
		"modes":       h.Node.SupportedModes(amount),
		"quotes":      quotes,
	})
}
