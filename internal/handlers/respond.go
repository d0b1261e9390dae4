package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/satwork/backend/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Internal details
// stay out of the response body.
func writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindStateTransition:
		status = http.StatusConflict
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindCrypto:
		status = http.StatusUnauthorized
	case errs.KindPayment:
		status = http.StatusPaymentRequired
	case errs.KindIntegration:
		status = http.StatusBadGateway
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	body := map[string]string{"error": e.Error(), "kind": e.Kind.String()}
	if e.Kind == errs.KindInternal {
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}
