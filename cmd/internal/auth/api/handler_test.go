package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/gate/gatetest"
	"gatehouse/cmd/internal/auth/ratelimit"
	"gatehouse/cmd/internal/auth/session"
)

type testServer struct {
	rig *gatetest.Rig
	h   *Handler
	mux *http.ServeMux
}

func newTestServer(t *testing.T, cfg Config, opts ...gatetest.Option) *testServer {
	t.Helper()

	rig := gatetest.New(t, opts...)
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), rig.Gate, rig.Limiter, cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testServer{rig: rig, h: h, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) loginResponse {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{
		Username: gatetest.Username,
		Password: gatetest.Password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out loginResponse
	decodeBody(t, rec, &out)
	return out
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status=%d want %d body=%s", rec.Code, status, rec.Body.String())
	}
	var out errorResponse
	decodeBody(t, rec, &out)
	if out.Error.Code != code {
		t.Fatalf("code=%q want %q", out.Error.Code, code)
	}
	return out
}

func TestLogin_SuccessThenMe(t *testing.T) {
	s := newTestServer(t, Config{})

	out := s.login(t)
	if out.AccessToken == "" || out.TokenType != "bearer" {
		t.Fatalf("unexpected login response %+v", out)
	}
	if out.ExpiresIn != int64((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("expires_in=%d", out.ExpiresIn)
	}
	if out.UserInfo.Username != gatetest.Username || out.UserInfo.SubjectID != s.rig.Admin.ID {
		t.Fatalf("unexpected user_info %+v", out.UserInfo)
	}

	rec := s.do(t, http.MethodGet, "/api/auth/me", out.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
	if got := rec.Header().Get("Pragma"); got != "no-cache" {
		t.Fatalf("Pragma=%q", got)
	}
	var me userInfo
	decodeBody(t, rec, &me)
	if me.SubjectID != s.rig.Admin.ID || me.Username != gatetest.Username {
		t.Fatalf("unexpected me %+v", me)
	}
}

func TestLogin_NoEnumeration(t *testing.T) {
	s := newTestServer(t, Config{})

	unknown := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "nobody", Password: "whatever"})
	wrong := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: gatetest.Username, Password: "wrong"})

	a := expectError(t, unknown, http.StatusUnauthorized, CodeAuthentication)
	b := expectError(t, wrong, http.StatusUnauthorized, CodeAuthentication)
	if a.Error.Message != b.Error.Message {
		t.Fatalf("messages differ: %q vs %q", a.Error.Message, b.Error.Message)
	}
	if unknown.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate")
	}
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	s := newTestServer(t, Config{})

	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: gatetest.Username, Password: "wrong"})
		expectError(t, rec, http.StatusUnauthorized, CodeAuthentication)
	}

	verifies := s.rig.Hasher.Verifies()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: gatetest.Username, Password: gatetest.Password})
	out := expectError(t, rec, http.StatusTooManyRequests, CodeRateLimited)

	if got := rec.Header().Get("Retry-After"); got != "1800" {
		t.Fatalf("Retry-After=%q", got)
	}
	if out.RetryAfter != 1800 {
		t.Fatalf("retry_after=%d", out.RetryAfter)
	}
	if s.rig.Hasher.Verifies() != verifies {
		t.Fatalf("locked-out attempt reached the hasher")
	}
}

func TestLogin_ValidationErrors(t *testing.T) {
	s := newTestServer(t, Config{MaxBodyBytes: 64})

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{name: "unknown field", body: `{"username":"admin","password":"x","remember":true}`, wantMsg: "unknown field in request body"},
		{name: "not json", body: `username=admin`, wantMsg: "request body is not valid JSON"},
		{name: "trailing data", body: `{"username":"admin","password":"x"} {}`, wantMsg: "unexpected data after JSON object"},
		{name: "empty body", body: nil, wantMsg: "request body is required"},
		{name: "empty username", body: loginRequest{Password: "x"}},
		{name: "too large", body: `{"username":"` + strings.Repeat("a", 100) + `","password":"x"}`, wantMsg: "request body too large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/auth/login", "", tc.body)
			out := expectError(t, rec, http.StatusUnprocessableEntity, CodeValidation)
			if tc.wantMsg != "" && out.Error.Message != tc.wantMsg {
				t.Fatalf("message=%q want %q", out.Error.Message, tc.wantMsg)
			}
			if strings.Contains(out.Error.Message, "remember") {
				t.Fatalf("submitted field echoed to client: %q", out.Error.Message)
			}
		})
	}
}

func TestLogin_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := s.do(t, http.MethodGet, "/api/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestWrap_RejectsBadTokensUniformly(t *testing.T) {
	s := newTestServer(t, Config{})
	good := s.login(t).AccessToken
	revoked := s.login(t).AccessToken
	if rec := s.do(t, http.MethodPost, "/api/auth/logout", revoked, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status=%d", rec.Code)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic " + good},
		{name: "no token", header: "Bearer"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "tampered", header: "Bearer " + good[:len(good)-10] + "AAAAAAAAAA"},
		{name: "revoked", header: "Bearer " + revoked},
	}

	var msg string
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			s.mux.ServeHTTP(rec, req)

			out := expectError(t, rec, http.StatusUnauthorized, CodeAuthentication)
			if msg == "" {
				msg = out.Error.Message
			} else if out.Error.Message != msg {
				t.Fatalf("message %q differs from %q", out.Error.Message, msg)
			}
		})
	}
}

func TestWrap_SchemeIsCaseInsensitive(t *testing.T) {
	s := newTestServer(t, Config{})
	tok := s.login(t).AccessToken

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "bEaReR "+tok)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWrap_ExpiredToken(t *testing.T) {
	s := newTestServer(t, Config{})
	tok := s.login(t).AccessToken

	s.rig.Clock.Advance(7*24*time.Hour - time.Second)
	if rec := s.do(t, http.MethodGet, "/api/auth/me", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("status before expiry=%d", rec.Code)
	}

	s.rig.Clock.Advance(time.Second)
	expectError(t, s.do(t, http.MethodGet, "/api/auth/me", tok, nil), http.StatusUnauthorized, CodeAuthentication)
}

func TestRefresh_RevokesPriorToken(t *testing.T) {
	s := newTestServer(t, Config{})
	t1 := s.login(t).AccessToken

	s.rig.Clock.Advance(time.Hour)
	rec := s.do(t, http.MethodPost, "/api/auth/refresh", t1, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out refreshResponse
	decodeBody(t, rec, &out)
	if out.AccessToken == "" || out.AccessToken == t1 || out.TokenType != "bearer" {
		t.Fatalf("unexpected refresh response %+v", out)
	}

	expectError(t, s.do(t, http.MethodGet, "/api/auth/me", t1, nil), http.StatusUnauthorized, CodeAuthentication)
	if rec := s.do(t, http.MethodGet, "/api/auth/me", out.AccessToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("new token rejected: %d", rec.Code)
	}
	expectError(t, s.do(t, http.MethodPost, "/api/auth/refresh", t1, nil), http.StatusUnauthorized, CodeAuthentication)
}

func TestRefresh_CountsRejectedAttempts(t *testing.T) {
	s := newTestServer(t, Config{})

	for i := 0; i < 10; i++ {
		expectError(t, s.do(t, http.MethodPost, "/api/auth/refresh", "not-a-token", nil), http.StatusUnauthorized, CodeAuthentication)
	}

	rec := s.do(t, http.MethodPost, "/api/auth/refresh", "not-a-token", nil)
	out := expectError(t, rec, http.StatusTooManyRequests, CodeRateLimited)
	if rec.Header().Get("Retry-After") != "60" || out.RetryAfter != 60 {
		t.Fatalf("Retry-After=%q retry_after=%d", rec.Header().Get("Retry-After"), out.RetryAfter)
	}

	// A valid token from the same client is limited too, and keeps working.
	tok := s.login(t).AccessToken
	expectError(t, s.do(t, http.MethodPost, "/api/auth/refresh", tok, nil), http.StatusTooManyRequests, CodeRateLimited)
	if rec := s.do(t, http.MethodGet, "/api/auth/me", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("limited refresh revoked the token: %d", rec.Code)
	}

	s.rig.Clock.Advance(time.Minute)
	if rec := s.do(t, http.MethodPost, "/api/auth/refresh", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("window did not reset: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogout_IsIdempotent(t *testing.T) {
	s := newTestServer(t, Config{})
	tok := s.login(t).AccessToken

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/logout", tok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("logout #%d status=%d body=%s", i+1, rec.Code, rec.Body.String())
		}
		var out okResponse
		decodeBody(t, rec, &out)
		if !out.OK {
			t.Fatalf("ok=false")
		}
	}

	expectError(t, s.do(t, http.MethodGet, "/api/auth/me", tok, nil), http.StatusUnauthorized, CodeAuthentication)
	expectError(t, s.do(t, http.MethodPost, "/api/auth/logout", "", nil), http.StatusUnauthorized, CodeAuthentication)
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	s := newTestServer(t, Config{})
	a := s.login(t).AccessToken
	b := s.login(t).AccessToken

	rec := s.do(t, http.MethodPost, "/api/auth/logout-all", a, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out logoutAllResponse
	decodeBody(t, rec, &out)
	if !out.OK || out.RevokedCount != 2 {
		t.Fatalf("unexpected response %+v", out)
	}

	for _, tok := range []string{a, b} {
		expectError(t, s.do(t, http.MethodGet, "/api/auth/me", tok, nil), http.StatusUnauthorized, CodeAuthentication)
	}
}

func TestCleanupSessions(t *testing.T) {
	t.Run("removes expired", func(t *testing.T) {
		s := newTestServer(t, Config{})
		s.login(t)
		s.rig.Clock.Advance(8 * 24 * time.Hour)
		tok := s.login(t).AccessToken

		rec := s.do(t, http.MethodPost, "/api/auth/cleanup-sessions", tok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var out cleanupResponse
		decodeBody(t, rec, &out)
		if out.RemovedCount != 1 {
			t.Fatalf("removed_count=%d", out.RemovedCount)
		}
		if s.rig.Sessions.Len() != 1 {
			t.Fatalf("sessions left=%d", s.rig.Sessions.Len())
		}
	})

	t.Run("admin allowlist", func(t *testing.T) {
		s := newTestServer(t, Config{AdminSubjects: []string{"someone-else"}})
		tok := s.login(t).AccessToken

		expectError(t, s.do(t, http.MethodPost, "/api/auth/cleanup-sessions", tok, nil), http.StatusForbidden, CodeForbidden)
	})
}

type brokenLiveness struct {
	session.Store
}

func (brokenLiveness) IsLive(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestWrap_StorageFailureIs503(t *testing.T) {
	s := newTestServer(t, Config{}, gatetest.WithSessions(func(st session.Store) session.Store {
		return brokenLiveness{Store: st}
	}))
	tok := s.login(t).AccessToken

	out := expectError(t, s.do(t, http.MethodGet, "/api/auth/me", tok, nil), http.StatusServiceUnavailable, CodeStorage)
	if strings.Contains(out.Error.Message, "connection refused") {
		t.Fatalf("cause leaked to client: %q", out.Error.Message)
	}
}

func TestProtect_CountsRequestsPerClient(t *testing.T) {
	rig := gatetest.New(t)
	limiter := ratelimit.New(rig.Clock, map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassUpload: {Limit: 2, Window: time.Minute, Mode: ratelimit.CountRequests},
	})
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), rig.Gate, limiter, Config{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	tok := rig.Login(t, "192.0.2.1").Token

	protected := h.Protect(ratelimit.ClassUpload, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := gate.PrincipalFrom(r.Context()); !ok {
			t.Errorf("principal missing")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("192.0.2.1:4000"); rec.Code != http.StatusNoContent {
			t.Fatalf("call %d status=%d", i+1, rec.Code)
		}
	}
	rec := call("192.0.2.1:4001")
	expectError(t, rec, http.StatusTooManyRequests, CodeRateLimited)
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After=%q", rec.Header().Get("Retry-After"))
	}

	if rec := call("198.51.100.7:4000"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client limited: %d", rec.Code)
	}

	rig.Clock.Advance(time.Minute)
	if rec := call("192.0.2.1:4000"); rec.Code != http.StatusNoContent {
		t.Fatalf("window did not reset: %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remote: "203.0.113.9:5555", want: "203.0.113.9"},
		{name: "xff ignored without trust", remote: "203.0.113.9:5555", xff: "198.51.100.1", want: "203.0.113.9"},
		{name: "xff first valid", remote: "10.0.0.1:80", xff: "junk, 198.51.100.1, 10.0.0.2", trustProxy: true, want: "198.51.100.1"},
		{name: "real ip fallback", remote: "10.0.0.1:80", realIP: "198.51.100.2", trustProxy: true, want: "198.51.100.2"},
		{name: "unparseable", remote: "nonsense", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			got := clientIP(req, tc.trustProxy)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("clientIP=%v want nil", got)
				}
				return
			}
			if got == nil || got.String() != tc.want {
				t.Fatalf("clientIP=%v want %s", got, tc.want)
			}
		})
	}
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, ev AuditEvent) {
	a.actions = append(a.actions, ev.Action)
}

func TestAuditTrail(t *testing.T) {
	rig := gatetest.New(t)
	audit := &recordingAudit{}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), rig.Gate, rig.Limiter, Config{MaxBodyBytes: 1 << 20}, WithAuditSink(audit))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	s := &testServer{rig: rig, h: h, mux: http.NewServeMux()}
	h.Register(s.mux)

	s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: gatetest.Username, Password: "nope"})
	tok := s.login(t).AccessToken
	s.do(t, http.MethodPost, "/api/auth/logout", tok, nil)

	want := []string{"auth.login.failed", "auth.login.success", "auth.logout"}
	if strings.Join(audit.actions, ",") != strings.Join(want, ",") {
		t.Fatalf("actions=%v want %v", audit.actions, want)
	}
}
