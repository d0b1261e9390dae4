// Package verification checks signatures and work proofs before the
// orchestrator accepts them.
package verification

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/satwork/backend/internal/errs"
)

// proofEventSchema constrains the signed proof event payload submitted
// alongside a proof URL.
const proofEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "pubkey", "kind", "content", "sig"],
  "properties": {
    "id":         {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "pubkey":     {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "created_at": {"type": "integer", "minimum": 0},
    "kind":       {"type": "integer", "minimum": 30078, "maximum": 30084},
    "tags":       {"type": "array", "items": {"type": "array", "items": {"type": "string"}}},
    "content":    {"type": "string", "maxLength": 65536},
    "sig":        {"type": "string", "pattern": "^[0-9a-f]{128}$"}
  }
}`

// Service validates signatures, proof artifacts, and signed proof events.
type Service struct {
	schema         *jsonschema.Schema
	allowedSchemes map[string]bool
}

// NewService compiles the proof-event schema. allowedSchemes defaults to
// https and ipfs.
func NewService(allowedSchemes ...string) (*Service, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("proof-event.json", strings.NewReader(proofEventSchema)); err != nil {
		return nil, errs.Internal("register proof event schema", err)
	}
	schema, err := compiler.Compile("proof-event.json")
	if err != nil {
		return nil, errs.Internal("compile proof event schema", err)
	}
	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"https", "ipfs"}
	}
	scheme := make(map[string]bool, len(allowedSchemes))
	for _, s := range allowedSchemes {
		scheme[s] = true
	}
	return &Service{schema: schema, allowedSchemes: scheme}, nil
}

// VerifySignature checks sigHex over subjectID by pubkeyHex. Signatures are
// 64-byte ed25519 over sha256(subjectID).
func (s *Service) VerifySignature(pubkeyHex, sigHex, subjectID string) error {
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		return errs.Crypto("pubkey must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errs.Crypto("signature must be %d hex-encoded bytes", ed25519.SignatureSize)
	}
	digest := sha256.Sum256([]byte(subjectID))
	if !ed25519.Verify(ed25519.PublicKey(pubkey), digest[:], sig) {
		return errs.Crypto("signature does not verify for subject %s", subjectID)
	}
	return nil
}

// ProofEvent is the signed event accompanying a proof submission.
type ProofEvent struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// VerifyEventSignature validates a raw proof event: schema shape, id
// commitment, and signature. The id must be sha256 over the canonical
// serialization [0, pubkey, created_at, kind, tags, content].
func (s *Service) VerifyEventSignature(raw json.RawMessage) (*ProofEvent, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Validation("proof event is not valid JSON: %v", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, errs.Validation("proof event failed schema validation: %v", err)
	}

	var event ProofEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errs.Validation("decode proof event: %v", err)
	}

	canonical, err := json.Marshal([]any{0, event.Pubkey, event.CreatedAt, event.Kind, event.Tags, event.Content})
	if err != nil {
		return nil, errs.Internal("serialize proof event", err)
	}
	digest := sha256.Sum256(canonical)
	if hex.EncodeToString(digest[:]) != event.ID {
		return nil, errs.Crypto("event id does not match event content")
	}

	pubkey, err := hex.DecodeString(event.Pubkey)
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		return nil, errs.Crypto("event pubkey must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	sig, err := hex.DecodeString(event.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, errs.Crypto("event signature must be %d hex-encoded bytes", ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), digest[:], sig) {
		return nil, errs.Crypto("event signature does not verify")
	}
	return &event, nil
}

// VerifyProof validates the proof artifact fields: a URL with an allowed
// scheme and a 64-character hex content hash.
func (s *Service) VerifyProof(proofURL, proofHash string) error {
	if proofURL == "" {
		return errs.Validation("proof url cannot be empty")
	}
	u, err := url.Parse(proofURL)
	if err != nil {
		return errs.Validation("proof url is malformed: %v", err)
	}
	if !s.allowedSchemes[u.Scheme] {
		return errs.Validation("proof url scheme %q is not allowed", u.Scheme)
	}
	if len(proofHash) != 64 {
		return errs.Validation("proof hash must be 64 hex characters")
	}
	if _, err := hex.DecodeString(proofHash); err != nil {
		return errs.Validation("proof hash must be hex encoded")
	}
	return nil
}
