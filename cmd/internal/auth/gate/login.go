package gate

import (
	"context"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/authmetrics"
	"gatehouse/cmd/internal/auth/ratelimit"
)

// LoginInput is one login attempt. Client identifies the caller for rate limiting.
type LoginInput struct {
	Username string
	Password string
	Client   string
}

// Issued is a freshly minted bearer token and its session.
type Issued struct {
	Token     string
	TokenType string
	SessionID string
	ExpiresIn int64
	ExpiresAt time.Time
	User      identity.User
}

// Login verifies credentials and opens a session.
//
// The rate limiter is consulted before any credential work, so a locked-out
// client never reaches the credential store or the password hasher. Unknown
// users and wrong passwords fail identically and both count as failures.
func (g *Gate) Login(ctx context.Context, in LoginInput) (Issued, error) {
	const op = "gate.Login"

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return Issued{}, validationErr(op, "username and password are required")
	}
	if len(username) > identity.MaxUsernameLen {
		return Issued{}, validationErr(op, "username too long")
	}

	key := ratelimit.Key{Client: in.Client, Class: ratelimit.ClassLogin}
	if d := g.limiter.CheckAdmit(key); !d.Allowed {
		g.metrics.Login(authmetrics.LoginRateLimited)
		g.log.Warn("auth.login.locked", "client", in.Client, "retry_after", d.RetryAfter.String())
		return Issued{}, g.rateLimited(op, ratelimit.ClassLogin, d)
	}

	var u identity.User
	err := g.read(ctx, func(ctx context.Context) error {
		var err error
		u, err = g.users.GetUserByUsername(ctx, username)
		return err
	})
	switch {
	case err == nil:
	case identity.IsNotFound(err):
		_, _ = g.passwords.Verify(in.Password, g.dummyHash)
		return Issued{}, g.loginFailed(op, key, "unknown_user")
	default:
		g.limiter.Release(key)
		g.metrics.Login(authmetrics.LoginError)
		g.metrics.StorageError("login")
		g.log.Error("auth.login.lookup.fail", "err", err)
		return Issued{}, storageErr(op, err)
	}

	ok, err := g.passwords.Verify(in.Password, u.PasswordHash)
	if err != nil {
		g.log.Error("auth.login.verify.fail", "err", err, "user_id", u.ID)
	}
	if !ok {
		return Issued{}, g.loginFailed(op, key, "bad_password")
	}

	g.limiter.RecordSuccess(key)

	out, err := g.open(ctx, op, u.ID)
	if err != nil {
		g.metrics.Login(authmetrics.LoginError)
		return Issued{}, err
	}
	out.User = u

	g.metrics.Login(authmetrics.LoginSuccess)
	g.metrics.SessionIssued("login")
	g.log.Info("auth.login.ok", "user_id", u.ID, "session_id", out.SessionID)
	return out, nil
}

func (g *Gate) loginFailed(op string, key ratelimit.Key, reason string) error {
	d := g.limiter.RecordFailure(key)
	g.metrics.Login(authmetrics.LoginInvalid)
	g.log.Warn("auth.login.fail", "client", key.Client, "reason", reason, "locked", !d.Allowed)
	return authErr(op, MsgInvalidCredentials, nil)
}

// open issues a token for userID and persists its session.
func (g *Gate) open(ctx context.Context, op, userID string) (Issued, error) {
	tok, err := g.codec.Issue(userID, g.cfg.TokenTTL)
	if err != nil {
		g.log.Error("auth.token.issue.fail", "err", err)
		return Issued{}, internalErr(op, err)
	}

	var sid string
	err = g.write(ctx, func(ctx context.Context) error {
		var err error
		sid, err = g.sessions.Create(ctx, userID, tok.Raw, g.cfg.TokenTTL)
		return err
	})
	if err != nil {
		g.metrics.StorageError("session_create")
		g.log.Error("auth.session.create.fail", "err", err, "user_id", userID)
		return Issued{}, storageErr(op, err)
	}

	return g.issued(tok.Raw, sid, tok.ExpiresAt), nil
}

func (g *Gate) issued(raw, sid string, exp time.Time) Issued {
	return Issued{
		Token:     raw,
		TokenType: "bearer",
		SessionID: sid,
		ExpiresIn: int64(g.cfg.TokenTTL / time.Second),
		ExpiresAt: exp,
	}
}
