// Package publisher pushes marketplace events to the external relay
// network. Publishing is fire-and-forget from the orchestrator's view: a
// failed publish is reported, never rolled back into task state.
package publisher

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

// Event kinds published by the marketplace.
const (
	KindTaskListing  = 30078
	KindTaskFunded   = 30079
	KindTaskClaimed  = 30080
	KindProofSubmit  = 30081
	KindTaskVerified = 30082
	KindTaskSettled  = 30083
	KindTaskDisputed = 30084
)

// Sink publishes an event and returns a reference to it.
type Sink interface {
	Publish(ctx context.Context, kind int, content string, tags [][]string) (ref string, err error)
}

// Noop discards everything. Used in tests and when no relay is configured.
type Noop struct{}

// Publish returns an empty reference without doing anything.
func (Noop) Publish(context.Context, int, string, [][]string) (string, error) { return "", nil }

// RelayConfig locates the relay gateway.
type RelayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Relay publishes over the relay gateway's HTTP API.
type Relay struct {
	cfg  RelayConfig
	http *http.Client
	log  *slog.Logger
}

// NewRelay returns a relay sink.
func NewRelay(cfg RelayConfig, log *slog.Logger) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type publishRequest struct {
	Kind    int        `json:"kind"`
	Content string     `json:"content"`
	Tags    [][]string `json:"tags,omitempty"`
}

type publishResponse struct {
	EventID string `json:"event_id"`
}

// Publish posts the event and returns the relay's event id.
func (r *Relay) Publish(ctx context.Context, kind int, content string, tags [][]string) (string, error) {
	buf, err := json.Marshal(publishRequest{Kind: kind, Content: content, Tags: tags})
	if err != nil {
		return "", errs.Internal("encode publish request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/events", bytes.NewReader(buf))
	if err != nil {
		return "", errs.Internal("build publish request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", errs.Integration("publish to relay", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		r.log.Warn("relay rejected event", "kind", kind, "status", resp.StatusCode, "body", string(raw))
		return "", errs.Integration(fmt.Sprintf("relay returned %d", resp.StatusCode), nil)
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Integration("decode relay response", err)
	}
	return out.EventID, nil
}
