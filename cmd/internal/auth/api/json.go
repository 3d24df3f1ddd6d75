package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// errorResponse is the body of every non-2xx auth response.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// RetryAfter mirrors the Retry-After header on rate_limit_exceeded.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

func newErrorResponse(code, msg string) errorResponse {
	var out errorResponse
	out.Error.Code = code
	out.Error.Message = msg
	return out
}

// writeJSON writes v as the response. Auth responses carry tokens and user
// data, so none of them may be cached.
func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, newErrorResponse(code, msg))
}

// bodyError is a request body the handler refuses. Reason is safe to show
// to the client; it never echoes the submitted values.
type bodyError struct {
	Reason string
	Err    error
}

func (e *bodyError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *bodyError) Unwrap() error { return e.Err }

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return &bodyError{Reason: "request body is required", Err: io.EOF}
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return &bodyError{Reason: "request body too large", Err: err}
		case errors.Is(err, io.EOF):
			return &bodyError{Reason: "request body is required", Err: err}
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return &bodyError{Reason: "unknown field in request body", Err: err}
		default:
			return &bodyError{Reason: "request body is not valid JSON", Err: err}
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &bodyError{Reason: "unexpected data after JSON object", Err: errors.New("trailing data")}
	}
	return nil
}

// bodyErrorMessage returns the client-safe text for a decodeJSON failure.
func bodyErrorMessage(err error) string {
	var be *bodyError
	if errors.As(err, &be) {
		return be.Reason
	}
	return "invalid request body"
}
