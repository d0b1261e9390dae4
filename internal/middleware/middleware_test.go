package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTAuthRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	token, err := issuer.Issue("02worker")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var gotPubkey string
	handler := JWTAuth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPubkey = PubkeyFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotPubkey != "02worker" {
		t.Fatalf("pubkey = %q, want 02worker", gotPubkey)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	handler := JWTAuth(issuer)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	// No header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no header: status = %d, want 401", rec.Code)
	}

	// Garbage token.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	// Token signed with a different secret.
	other := NewTokenIssuer([]byte("other-secret"), time.Hour)
	token, _ := other.Issue("02worker")
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d, want 401", rec.Code)
	}
}

type stubChecker struct {
	suspended bool
	err       error
}

func (s stubChecker) IsSuspended(context.Context, string) (bool, error) {
	return s.suspended, s.err
}

func TestSuspensionCheck(t *testing.T) {
	run := func(checker stubChecker, pubkey string) *httptest.ResponseRecorder {
		handler := SuspensionCheck(checker)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		req := httptest.NewRequest(http.MethodPost, "/v1/tasks", nil)
		if pubkey != "" {
			req = req.WithContext(WithPubkey(req.Context(), pubkey))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := run(stubChecker{}, "02ok"); rec.Code != http.StatusCreated {
		t.Fatalf("clean identity: status = %d, want 201", rec.Code)
	}
	if rec := run(stubChecker{suspended: true}, "02bad"); rec.Code != http.StatusForbidden {
		t.Fatalf("suspended identity: status = %d, want 403", rec.Code)
	}
	if rec := run(stubChecker{}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing pubkey: status = %d, want 401", rec.Code)
	}
	if rec := run(stubChecker{err: errors.New("db down")}, "02ok"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("checker failure: status = %d, want 500", rec.Code)
	}
}
