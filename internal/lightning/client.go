// Package lightning talks to the hold-invoice daemon over HTTP.
package lightning

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
	"github.com/satwork/backend/internal/models"
)

// Config locates the daemon.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements the engine's HoldProvider contract against a
// LND-style hold-invoice REST daemon.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient returns a provider client for the daemon at cfg.BaseURL.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type createHoldRequest struct {
	AmountSats  int64  `json:"amount_sats"`
	Hash        string `json:"hash"`
	Description string `json:"description,omitempty"`
}

type createHoldResponse struct {
	Invoice string `json:"invoice"`
	HoldID  string `json:"hold_id"`
}

// CreateHold asks the daemon to publish an invoice committed to hashHex.
func (c *Client) CreateHold(ctx context.Context, amountSats int64, hashHex, description string) (string, string, error) {
	var resp createHoldResponse
	err := c.do(ctx, http.MethodPost, "/v1/invoices/hold", createHoldRequest{
		AmountSats:  amountSats,
		Hash:        hashHex,
		Description: description,
	}, &resp)
	if err != nil {
		return "", "", err
	}
	if resp.Invoice == "" || resp.HoldID == "" {
		return "", "", errs.Integration("daemon returned empty invoice or hold id", nil)
	}
	return resp.Invoice, resp.HoldID, nil
}

type createInvoiceRequest struct {
	AmountSats  int64  `json:"amount_sats"`
	Description string `json:"description,omitempty"`
}

type createInvoiceResponse struct {
	Invoice string `json:"invoice"`
	Hash    string `json:"hash"`
}

// CreateInvoice publishes a standard (non-hold) invoice.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, description string) (string, string, error) {
	var resp createInvoiceResponse
	err := c.do(ctx, http.MethodPost, "/v1/invoices", createInvoiceRequest{
		AmountSats:  amountSats,
		Description: description,
	}, &resp)
	if err != nil {
		return "", "", err
	}
	if resp.Invoice == "" {
		return "", "", errs.Integration("daemon returned empty invoice", nil)
	}
	return resp.Invoice, resp.Hash, nil
}

type invoiceStatusResponse struct {
	State string `json:"state"`
}

// Status maps the daemon's invoice state onto funding statuses.
func (c *Client) Status(ctx context.Context, hashHex string) (models.FundingStatus, error) {
	var resp invoiceStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/invoices/"+hashHex, nil, &resp); err != nil {
		return "", err
	}
	switch resp.State {
	case "open":
		return models.FundingCreated, nil
	case "in_flight":
		return models.FundingPending, nil
	case "accepted":
		return models.FundingAccepted, nil
	case "settled":
		return models.FundingSettled, nil
	case "canceled", "cancelled":
		return models.FundingCancelled, nil
	case "expired":
		return models.FundingExpired, nil
	default:
		return "", errs.Integration(fmt.Sprintf("unknown invoice state %q", resp.State), nil)
	}
}

type settleRequest struct {
	Preimage    string `json:"preimage"`
	DestInvoice string `json:"dest_invoice"`
}

// RevealAndRoute settles the hold with the preimage and pays destInvoice.
func (c *Client) RevealAndRoute(ctx context.Context, holdID, preimageHex, destInvoice string) error {
	return c.do(ctx, http.MethodPost, "/v1/invoices/"+holdID+"/settle", settleRequest{
		Preimage:    preimageHex,
		DestInvoice: destInvoice,
	}, nil)
}

// Cancel releases the hold back to the payer.
func (c *Client) Cancel(ctx context.Context, holdID string) error {
	return c.do(ctx, http.MethodPost, "/v1/invoices/"+holdID+"/cancel", nil, nil)
}

type nodeInfoResponse struct {
	Pubkey      string `json:"pubkey"`
	Alias       string `json:"alias"`
	BlockHeight int64  `json:"block_height"`
	Synced      bool   `json:"synced"`
	NumChannels int    `json:"num_channels"`
}

// NodeInfo describes the backing Lightning node.
type NodeInfo struct {
	Pubkey      string `json:"pubkey"`
	Alias       string `json:"alias"`
	BlockHeight int64  `json:"block_height"`
	Synced      bool   `json:"synced"`
	NumChannels int    `json:"num_channels"`
}

// GetNodeInfo queries the daemon for node identity and sync state.
func (c *Client) GetNodeInfo(ctx context.Context) (*NodeInfo, error) {
	var resp nodeInfoResponse
	if err := c.do(ctx, http.MethodGet, "/v1/node/info", nil, &resp); err != nil {
		return nil, err
	}
	return &NodeInfo{
		Pubkey:      resp.Pubkey,
		Alias:       resp.Alias,
		BlockHeight: resp.BlockHeight,
		Synced:      resp.Synced,
		NumChannels: resp.NumChannels,
	}, nil
}

// LiquidityInfo reports channel balance headroom.
type LiquidityInfo struct {
	LocalBalanceSats  int64 `json:"local_balance_sats"`
	RemoteBalanceSats int64 `json:"remote_balance_sats"`
	MaxReceivableSats int64 `json:"max_receivable_sats"`
	MaxSendableSats   int64 `json:"max_sendable_sats"`
}

// GetLiquidity queries current channel balances.
func (c *Client) GetLiquidity(ctx context.Context) (*LiquidityInfo, error) {
	var resp LiquidityInfo
	if err := c.do(ctx, http.MethodGet, "/v1/node/liquidity", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errs.Internal("encode daemon request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errs.Internal("build daemon request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Integration("call lightning daemon", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.NotFound("daemon resource %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("lightning daemon error", "path", path, "status", resp.StatusCode, "body", string(raw))
		return errs.Integration(fmt.Sprintf("lightning daemon returned %d", resp.StatusCode), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Integration("decode daemon response", err)
	}
	return nil
}
