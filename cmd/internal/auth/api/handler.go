package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"gatehouse/cmd/internal/auth/authmetrics"
	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/ratelimit"
)

// Handler wires HTTP auth endpoints to the gate.
type Handler struct {
	log *slog.Logger
	cfg Config

	gate    *gate.Gate
	limiter *ratelimit.Limiter

	metrics   *authmetrics.Metrics
	auditSink AuditSink
	admins    map[string]struct{}
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditSink overrides the default no-op audit sink.
func WithAuditSink(sink AuditSink) HandlerOption {
	return func(h *Handler) {
		if h == nil || sink == nil {
			return
		}
		h.auditSink = sink
	}
}

// WithMetrics counts token rejections and rate-limit denials.
func WithMetrics(m *authmetrics.Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.metrics = m
	}
}

// NewHandler constructs an auth Handler. limiter must be the one the gate uses
// so request-counted classes share state with it.
func NewHandler(log *slog.Logger, g *gate.Gate, limiter *ratelimit.Limiter, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if g == nil || limiter == nil {
		return nil, errors.New("auth: nil gate or limiter")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		gate:      g,
		limiter:   limiter,
		auditSink: NopAudit{},
		admins:    make(map[string]struct{}, len(cfg.AdminSubjects)),
	}
	for _, s := range cfg.AdminSubjects {
		h.admins[s] = struct{}{}
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.Handle("POST /api/auth/refresh", h.Protect(ratelimit.ClassRefresh, http.HandlerFunc(h.handleRefresh)))
	mux.Handle("POST /api/auth/logout", h.limit(ratelimit.ClassAPI, http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /api/auth/logout-all", h.Protect(ratelimit.ClassAPI, http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("GET /api/auth/me", h.Protect(ratelimit.ClassAPI, http.HandlerFunc(h.handleMe)))
	mux.Handle("POST /api/auth/cleanup-sessions", h.Protect(ratelimit.ClassAPI, http.HandlerFunc(h.handleCleanupSessions)))
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.log.Info("auth.login.bad_body", "err", err)
		writeValidation(w, bodyErrorMessage(err))
		return
	}

	out, err := h.gate.Login(r.Context(), gate.LoginInput{
		Username: req.Username,
		Password: req.Password,
		Client:   h.clientKey(r),
	})
	if err != nil {
		switch gate.KindOf(err) {
		case gate.ErrAuthentication:
			h.audit(r, "auth.login.failed", "", map[string]any{"identifier": req.Username})
		case gate.ErrRateLimited:
			var rl *gate.RateLimitError
			if errors.As(err, &rl) {
				h.audit(r, "auth.login.rate_limited", "", map[string]any{
					"identifier":    req.Username,
					"retry_after_s": rl.RetryAfterSeconds(),
				})
			}
		}
		h.writeGateError(w, r, err)
		return
	}

	h.audit(r, "auth.login.success", out.User.ID, nil)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: out.Token,
		TokenType:   out.TokenType,
		ExpiresIn:   out.ExpiresIn,
		UserInfo:    toUserInfo(out.User),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		h.unauthorized(w, r, "no_principal")
		return
	}

	out, err := h.gate.Refresh(r.Context(), p)
	if err != nil {
		h.writeGateError(w, r, err)
		return
	}

	h.audit(r, "auth.refresh.success", p.UserID, nil)
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: out.Token,
		TokenType:   out.TokenType,
		ExpiresIn:   out.ExpiresIn,
	})
}

// handleLogout accepts tokens that are already expired or revoked, so it reads
// the header itself instead of going through Wrap.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		h.unauthorized(w, r, "missing_token")
		return
	}

	if err := h.gate.Logout(r.Context(), raw); err != nil {
		h.writeGateError(w, r, err)
		return
	}

	h.audit(r, "auth.logout", "", nil)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		h.unauthorized(w, r, "no_principal")
		return
	}

	n, err := h.gate.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		h.writeGateError(w, r, err)
		return
	}

	h.audit(r, "auth.logout_all", p.UserID, map[string]any{"revoked": n})
	writeJSON(w, http.StatusOK, logoutAllResponse{OK: true, RevokedCount: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		h.unauthorized(w, r, "no_principal")
		return
	}

	u, err := h.gate.Me(r.Context(), p.UserID)
	if err != nil {
		h.writeGateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserInfo(u))
}

func (h *Handler) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		h.unauthorized(w, r, "no_principal")
		return
	}
	if len(h.admins) > 0 {
		if _, ok := h.admins[p.UserID]; !ok {
			h.log.Warn("auth.cleanup_sessions.forbidden", "user_id", p.UserID)
			writeError(w, http.StatusForbidden, CodeForbidden, "not allowed")
			return
		}
	}

	n, err := h.gate.CleanupSessions(r.Context())
	if err != nil {
		h.writeGateError(w, r, err)
		return
	}

	h.audit(r, "auth.cleanup_sessions", p.UserID, map[string]any{"removed": n})
	writeJSON(w, http.StatusOK, cleanupResponse{RemovedCount: n})
}
