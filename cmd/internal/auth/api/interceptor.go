package authapi

import (
	"net/http"

	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/ratelimit"
)

// Wrap authenticates the bearer token of every request before calling next.
// On success the principal is attached to the request context; read it with
// gate.PrincipalFrom. Every authentication failure is the same 401, and the
// real reason only goes to logs and metrics.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			h.unauthorized(w, r, "missing_token")
			return
		}

		p, err := h.gate.Authenticate(r.Context(), raw)
		if err != nil {
			if gate.KindOf(err) == gate.ErrAuthentication {
				reason := gate.RejectionReason(err)
				h.metrics.TokenRejected(reason)
				h.log.Info("auth.token.rejected", "reason", reason, "path", r.URL.Path)
			}
			h.writeGateError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(gate.WithPrincipal(r.Context(), p)))
	})
}

// Protect mounts next behind the request-counted class and Wrap. Collaborators
// use it for their own routes (ClassAPI, ClassUpload).
func (h *Handler) Protect(class ratelimit.Class, next http.Handler) http.Handler {
	return h.limit(class, h.Wrap(next))
}

// limit runs before authentication so rejected clients cost no token work.
func (h *Handler) limit(class ratelimit.Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := h.limiter.Allow(ratelimit.Key{Client: h.clientKey(r), Class: class})
		if !d.Allowed {
			h.metrics.RateLimited(string(class))
			h.writeGateError(w, r, &gate.RateLimitError{
				Op:         "authapi.limit",
				Class:      string(class),
				RetryAfter: d.RetryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.TokenRejected(reason)
	h.log.Info("auth.token.rejected", "reason", reason, "path", r.URL.Path)
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, CodeAuthentication, gate.MsgInvalidToken)
}
