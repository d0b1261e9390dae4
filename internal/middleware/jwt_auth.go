package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ctxPubkeyKey contextKey = "pubkey"

// TokenIssuer signs and parses the session tokens carried as Bearer
// credentials. The subject claim is the caller's pubkey.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer returns an issuer signing HS256 tokens with the secret.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue returns a signed token for the pubkey.
func (t *TokenIssuer) Issue(pubkey string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   pubkey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates the token and returns the pubkey it was issued to.
func (t *TokenIssuer) Parse(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

// JWTAuth authenticates requests by parsing the Bearer token and putting the
// caller's pubkey into request context.
func JWTAuth(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			pubkey, err := issuer.Parse(raw)
			if err != nil || pubkey == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxPubkeyKey, pubkey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PubkeyFromCtx returns the authenticated pubkey or "".
func PubkeyFromCtx(ctx context.Context) string {
	pubkey, _ := ctx.Value(ctxPubkeyKey).(string)
	return pubkey
}

// WithPubkey returns a context carrying the given pubkey.
func WithPubkey(ctx context.Context, pubkey string) context.Context {
	return context.WithValue(ctx, ctxPubkeyKey, pubkey)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
