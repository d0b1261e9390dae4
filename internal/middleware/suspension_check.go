package middleware

import (
	"context"
	"net/http"
)

// SuspensionChecker reports whether a pubkey is inside a suspension window.
type SuspensionChecker interface {
	IsSuspended(ctx context.Context, pubkey string) (bool, error)
}

// SuspensionCheck rejects write requests from suspended identities before
// they reach a handler. Runs after JWTAuth.
func SuspensionCheck(checker SuspensionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pubkey := PubkeyFromCtx(r.Context())
			if pubkey == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			suspended, err := checker.IsSuspended(r.Context(), pubkey)
			if err != nil {
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if suspended {
				http.Error(w, `{"error":"identity is suspended"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
