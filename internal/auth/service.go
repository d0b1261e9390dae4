// Package auth exchanges a signed challenge for a session token. There are
// no accounts or passwords; the pubkey that signs the challenge is the
// identity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/satwork/backend/internal/errs"
)

// SignatureVerifier checks a signature made by pubkey over a subject.
type SignatureVerifier interface {
	VerifySignature(pubkeyHex, sigHex, subjectID string) error
}

// TokenIssuer mints session tokens for authenticated pubkeys.
type TokenIssuer interface {
	Issue(pubkey string) (string, error)
}

// Service holds outstanding challenges in memory. Challenges are single
// use and expire after the configured window.
type Service struct {
	verifier SignatureVerifier
	issuer   TokenIssuer
	ttl      time.Duration

	mu         sync.Mutex
	challenges map[string]challenge // pubkey -> outstanding challenge
}

type challenge struct {
	nonce     string
	expiresAt time.Time
}

// NewService returns an auth service with the given challenge TTL.
func NewService(verifier SignatureVerifier, issuer TokenIssuer, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		verifier:   verifier,
		issuer:     issuer,
		ttl:        ttl,
		challenges: make(map[string]challenge),
	}
}

// Challenge returns a fresh nonce the pubkey must sign to log in. A new
// challenge replaces any outstanding one.
func (s *Service) Challenge(pubkey string) (string, error) {
	if pubkey == "" {
		return "", errs.Validation("pubkey cannot be empty")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Internal("generate challenge", err)
	}
	nonce := hex.EncodeToString(buf)

	s.mu.Lock()
	s.challenges[pubkey] = challenge{nonce: nonce, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return nonce, nil
}

// Login verifies the signature over the outstanding challenge and returns a
// session token. The challenge is consumed whether or not the signature
// verifies.
func (s *Service) Login(_ context.Context, pubkey, sigHex string) (string, error) {
	if pubkey == "" || sigHex == "" {
		return "", errs.Validation("pubkey and signature are required")
	}

	s.mu.Lock()
	ch, ok := s.challenges[pubkey]
	delete(s.challenges, pubkey)
	s.mu.Unlock()

	if !ok {
		return "", errs.Validation("no outstanding challenge for %s", pubkey)
	}
	if time.Now().After(ch.expiresAt) {
		return "", errs.Validation("challenge expired")
	}
	if err := s.verifier.VerifySignature(pubkey, sigHex, ch.nonce); err != nil {
		return "", err
	}
	token, err := s.issuer.Issue(pubkey)
	if err != nil {
		return "", errs.Internal("issue token", err)
	}
	return token, nil
}
