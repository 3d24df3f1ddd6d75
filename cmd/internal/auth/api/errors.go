package authapi

import (
	"errors"
	"net/http"
	"strconv"

	"gatehouse/cmd/internal/auth/gate"

	"github.com/getsentry/sentry-go"
)

// Stable machine-readable error codes.
const (
	CodeAuthentication = "authentication_failed"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeValidation     = "validation_error"
	CodeStorage        = "storage_unavailable"
	CodeInternal       = "internal_error"
	CodeForbidden      = "forbidden"
)

// writeGateError maps a gate error onto its status, code and client-safe
// message. Causes never reach the response body.
func (h *Handler) writeGateError(w http.ResponseWriter, r *http.Request, err error) {
	msg := gate.PublicMessage(err)

	switch gate.KindOf(err) {
	case gate.ErrAuthentication:
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, CodeAuthentication, msg)

	case gate.ErrRateLimited:
		var rl *gate.RateLimitError
		var secs int64 = 1
		if errors.As(err, &rl) {
			secs = rl.RetryAfterSeconds()
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		body := newErrorResponse(CodeRateLimited, msg)
		body.RetryAfter = secs
		writeJSON(w, http.StatusTooManyRequests, body)

	case gate.ErrValidation:
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, msg)

	case gate.ErrStorage:
		writeError(w, http.StatusServiceUnavailable, CodeStorage, msg)

	default:
		h.log.Error("auth.internal", "err", err, "path", r.URL.Path)
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, CodeInternal, gate.MsgInternal)
	}
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnprocessableEntity, CodeValidation, msg)
}
