package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// AuthService is the challenge/login surface.
type AuthService interface {
	Challenge(pubkey string) (string, error)
	Login(ctx context.Context, pubkey, sigHex string) (string, error)
}

// AuthHandler serves /v1/auth endpoints. Both are unauthenticated.
type AuthHandler struct {
	Auth   AuthService
	Logger *slog.Logger
}

type challengeRequest struct {
	Pubkey string `json:"pubkey"`
}

// Challenge handles POST /v1/auth/challenge.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	nonce, err := h.Auth.Challenge(req.Pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": nonce})
}

type loginRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// Login handles POST /v1/auth/login. The signature covers the outstanding
// challenge nonce.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	token, err := h.Auth.Login(r.Context(), req.Pubkey, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
