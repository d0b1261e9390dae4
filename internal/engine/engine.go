// Package engine implements the hold-invoice escrow protocol: commit a
// payment against a hash, reveal the preimage to settle, cancel to refund.
// The actual Lightning node sits behind the HoldProvider contract.
package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

// HoldProvider is the Lightning collaborator contract. CreateHold commits a
// payment against the given hash; the preimage never leaves this process
// until RevealAndRoute.
type HoldProvider interface {
	// CreateHold returns a payable invoice bound to hashHex and the
	// provider's id for the hold.
	CreateHold(ctx context.Context, amountSats int64, hashHex, description string) (invoice, holdID string, err error)
	// Status reports the funding status the provider observes for the hash.
	Status(ctx context.Context, hashHex string) (models.FundingStatus, error)
	// RevealAndRoute releases the held payment by revealing the preimage and
	// routes the funds to the destination invoice.
	RevealAndRoute(ctx context.Context, holdID, preimageHex, destInvoice string) error
	// Cancel releases the hold and returns funds to the payer.
	Cancel(ctx context.Context, holdID string) error
}

// Config tunes the engine.
type Config struct {
	// InvoiceTTL is added to now for every new hold invoice expiry.
	InvoiceTTL time.Duration
	// MaxInvoiceAmountSats rejects oversized holds. Zero means the default.
	MaxInvoiceAmountSats int64
	// PreimageKey encrypts preimages at rest in the active index. Must be
	// chacha20poly1305.KeySize bytes; generated if empty.
	PreimageKey []byte
}

// DefaultConfig returns the engine defaults: 1 hour TTL, 0.1 BTC cap.
func DefaultConfig() Config {
	return Config{
		InvoiceTTL:           time.Hour,
		MaxInvoiceAmountSats: 10_000_000,
	}
}

// HoldInvoiceData is returned when a hold is created.
type HoldInvoiceData struct {
	Invoice       string    `json:"invoice"`
	InvoiceHash   string    `json:"invoice_hash"`
	HoldInvoiceID string    `json:"hold_invoice_id"`
	AmountSats    int64     `json:"amount_sats"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SettlementData is returned when a hold is settled.
type SettlementData struct {
	InvoiceHash string    `json:"invoice_hash"`
	Preimage    string    `json:"preimage"`
	AmountSats  int64     `json:"amount_sats"`
	SettledAt   time.Time `json:"settled_at"`
}

// StatusUpdate is pushed to subscribers of an invoice hash.
type StatusUpdate struct {
	InvoiceHash string
	Status      models.FundingStatus
	AmountSats  int64
	Preimage    string
	Timestamp   time.Time
}

type holdEntry struct {
	holdID         string
	sealedPreimage []byte
	nonce          []byte
	amountSats     int64
	expiresAt      time.Time
	taskRef        string
}

// Engine owns the active-hold index: the sole source of truth for whether a
// hold is still live. Each hold leaves the index exactly once, into settled
// or cancelled.
type Engine struct {
	cfg      Config
	provider HoldProvider
	aead     interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	log *slog.Logger

	mu     sync.Mutex
	active map[string]holdEntry // invoice hash -> entry
	subs   map[string][]chan StatusUpdate
}

// New returns an engine backed by the given Lightning provider.
func New(cfg Config, provider HoldProvider, log *slog.Logger) (*Engine, error) {
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = time.Hour
	}
	if cfg.MaxInvoiceAmountSats <= 0 {
		cfg.MaxInvoiceAmountSats = DefaultConfig().MaxInvoiceAmountSats
	}
	if len(cfg.PreimageKey) == 0 {
		cfg.PreimageKey = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(cfg.PreimageKey); err != nil {
			return nil, errs.Internal("generate preimage key", err)
		}
	}
	aead, err := chacha20poly1305.New(cfg.PreimageKey)
	if err != nil {
		return nil, errs.Internal("init preimage cipher", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		provider: provider,
		aead:     aead,
		log:      log,
		active:   make(map[string]holdEntry),
		subs:     make(map[string][]chan StatusUpdate),
	}, nil
}

// CreateHoldInvoice mints a preimage, commits a hold against its hash with
// the Lightning provider, and registers the hold in the active index.
func (e *Engine) CreateHoldInvoice(ctx context.Context, amountSats int64, description, taskRef string) (*HoldInvoiceData, error) {
	if amountSats <= 0 {
		return nil, errs.Validation("hold amount must be greater than 0")
	}
	if amountSats > e.cfg.MaxInvoiceAmountSats {
		return nil, errs.Validation("amount %d sats exceeds maximum %d", amountSats, e.cfg.MaxInvoiceAmountSats)
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, errs.Internal("generate preimage", err)
	}
	hash := sha256.Sum256(preimage)
	hashHex := hex.EncodeToString(hash[:])

	invoice, holdID, err := e.provider.CreateHold(ctx, amountSats, hashHex, description)
	if err != nil {
		return nil, errs.Integration("create hold with lightning provider", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Internal("generate preimage nonce", err)
	}
	sealed := e.aead.Seal(nil, nonce, preimage, []byte(hashHex))

	expiresAt := time.Now().UTC().Add(e.cfg.InvoiceTTL)

	e.mu.Lock()
	e.active[hashHex] = holdEntry{
		holdID:         holdID,
		sealedPreimage: sealed,
		nonce:          nonce,
		amountSats:     amountSats,
		expiresAt:      expiresAt,
		taskRef:        taskRef,
	}
	e.mu.Unlock()

	e.log.Info("hold invoice created", "invoice_hash", hashHex, "amount_sats", amountSats, "task_ref", taskRef)

	return &HoldInvoiceData{
		Invoice:       invoice,
		InvoiceHash:   hashHex,
		HoldInvoiceID: holdID,
		AmountSats:    amountSats,
		ExpiresAt:     expiresAt,
	}, nil
}

// GetInvoiceStatus reports the provider's view of the hold. Fails not-found
// if the hash is not in the active index.
func (e *Engine) GetInvoiceStatus(ctx context.Context, invoiceHash string) (models.FundingStatus, error) {
	e.mu.Lock()
	_, ok := e.active[invoiceHash]
	e.mu.Unlock()
	if !ok {
		return "", errs.NotFound("invoice %s", invoiceHash)
	}
	status, err := e.provider.Status(ctx, invoiceHash)
	if err != nil {
		return "", errs.Integration("query invoice status", err)
	}
	return status, nil
}

// SettleHoldInvoice reveals the preimage and routes the funds to the
// worker's invoice. The hold is claimed out of the active index before the
// provider call so a concurrent settle or cancel observes not-found; it is
// restored if the provider fails.
func (e *Engine) SettleHoldInvoice(ctx context.Context, holdID, workerInvoice string) (*SettlementData, error) {
	if workerInvoice == "" {
		return nil, errs.Validation("worker invoice cannot be empty")
	}

	hashHex, entry, err := e.claim(holdID)
	if err != nil {
		return nil, err
	}

	preimage, err := e.aead.Open(nil, entry.nonce, entry.sealedPreimage, []byte(hashHex))
	if err != nil {
		e.restore(hashHex, entry)
		return nil, errs.Internal("unseal preimage", err)
	}
	preimageHex := hex.EncodeToString(preimage)

	if err := e.provider.RevealAndRoute(ctx, holdID, preimageHex, workerInvoice); err != nil {
		e.restore(hashHex, entry)
		return nil, errs.Integration("reveal preimage and route payment", err)
	}

	settledAt := time.Now().UTC()
	e.notify(hashHex, StatusUpdate{
		InvoiceHash: hashHex,
		Status:      models.FundingSettled,
		AmountSats:  entry.amountSats,
		Preimage:    preimageHex,
		Timestamp:   settledAt,
	}, true)

	e.log.Info("hold invoice settled", "invoice_hash", hashHex, "amount_sats", entry.amountSats)

	return &SettlementData{
		InvoiceHash: hashHex,
		Preimage:    preimageHex,
		AmountSats:  entry.amountSats,
		SettledAt:   settledAt,
	}, nil
}

// CancelHoldInvoice releases the hold so funds return to the payer. Claims
// the index entry atomically with the cancel, mirroring settlement.
func (e *Engine) CancelHoldInvoice(ctx context.Context, holdID string) error {
	hashHex, entry, err := e.claim(holdID)
	if err != nil {
		return err
	}

	if err := e.provider.Cancel(ctx, holdID); err != nil {
		e.restore(hashHex, entry)
		return errs.Integration("cancel hold", err)
	}

	e.notify(hashHex, StatusUpdate{
		InvoiceHash: hashHex,
		Status:      models.FundingCancelled,
		AmountSats:  entry.amountSats,
		Timestamp:   time.Now().UTC(),
	}, true)

	e.log.Info("hold invoice cancelled", "invoice_hash", hashHex)
	return nil
}

// Subscribe returns a channel of status updates for the invoice hash. The
// channel is closed after a terminal update. Updates are dropped rather
// than blocking a slow receiver.
func (e *Engine) Subscribe(invoiceHash string) <-chan StatusUpdate {
	ch := make(chan StatusUpdate, 4)
	e.mu.Lock()
	e.subs[invoiceHash] = append(e.subs[invoiceHash], ch)
	e.mu.Unlock()
	return ch
}

// NotifyStatus is the entry point for provider-side status observations
// (payment detected, payment accepted). It fans the update out to
// subscribers; terminal statuses close the subscription.
func (e *Engine) NotifyStatus(invoiceHash string, status models.FundingStatus, amountSats int64) {
	e.notify(invoiceHash, StatusUpdate{
		InvoiceHash: invoiceHash,
		Status:      status,
		AmountSats:  amountSats,
		Timestamp:   time.Now().UTC(),
	}, status.IsTerminal())
}

// ActiveHolds returns the number of live holds.
func (e *Engine) ActiveHolds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// HoldIDForHash resolves the provider hold id for an invoice hash.
func (e *Engine) HoldIDForHash(invoiceHash string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.active[invoiceHash]
	if !ok {
		return "", errs.NotFound("invoice %s", invoiceHash)
	}
	return entry.holdID, nil
}

// MaxInvoiceAmountSats exposes the configured hold cap for liquidity queries.
func (e *Engine) MaxInvoiceAmountSats() int64 { return e.cfg.MaxInvoiceAmountSats }

// claim removes the hold owned by holdID from the active index, returning
// its hash and entry. Concurrent claimers race on the map delete: exactly
// one wins, the rest get not-found.
func (e *Engine) claim(holdID string) (string, holdEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for hash, entry := range e.active {
		if entry.holdID == holdID {
			delete(e.active, hash)
			return hash, entry, nil
		}
	}
	return "", holdEntry{}, errs.NotFound("hold invoice %s", holdID)
}

// restore reinserts a claimed entry after a failed provider call so the
// caller may retry.
func (e *Engine) restore(hashHex string, entry holdEntry) {
	e.mu.Lock()
	e.active[hashHex] = entry
	e.mu.Unlock()
}

func (e *Engine) notify(invoiceHash string, update StatusUpdate, terminal bool) {
	e.mu.Lock()
	chans := e.subs[invoiceHash]
	if terminal {
		delete(e.subs, invoiceHash)
	}
	e.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- update:
		default:
			e.log.Warn("dropping status update for slow subscriber", "invoice_hash", invoiceHash)
		}
		if terminal {
			close(ch)
		}
	}
}
