package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/satwork/backend/internal/errs"
)

// SwapClientConfig locates the swap provider API.
type SwapClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SwapClient implements SwapProvider against a Boltz-style REST API.
type SwapClient struct {
	cfg  SwapClientConfig
	http *http.Client
	log  *slog.Logger
}

// NewSwapClient returns a swap provider client.
func NewSwapClient(cfg SwapClientConfig, log *slog.Logger) *SwapClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SwapClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// CreateSwap posts the generic swap envelope and decodes the provider's
// response.
func (s *SwapClient) CreateSwap(ctx context.Context, req SwapRequest) (*SwapResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Internal("encode swap request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v2/swaps", bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Internal("build swap request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, errs.Integration("call swap provider", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Warn("swap provider error", "status", resp.StatusCode, "body", string(raw))
		return nil, errs.Integration(fmt.Sprintf("swap provider returned %d", resp.StatusCode), nil)
	}

	var out SwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Integration("decode swap response", err)
	}
	return &out, nil
}
