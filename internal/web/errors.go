package web

// Error responses pair an HTTP status with the user message from
// importer.MapError. The technical error stays in the server log, tagged
// with the request id.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, staging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, staging.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, importer.ErrNoFile), errors.Is(err, webhook.ErrInvalidSubscription),
		errors.Is(err, errInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrSubscriptionNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := importer.MapError(err)

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request error", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	} else {
		logger.Warn("request rejected", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	}

	body := ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code}
	if status == http.StatusBadRequest && !importer.IsUserFacing(err) {
		body.Error = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
