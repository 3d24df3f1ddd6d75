package gate

import (
	"context"
	"errors"
	"strings"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
)

var errSessionGone = errors.New("session not live")

// Rejection reasons reported by Authenticate (for logs and metrics only).
const (
	ReasonMalformed = "malformed"
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonRevoked   = "revoked"
)

// Authenticate composes the two independent validity checks of a bearer
// token: cryptographic validity, then a live session.
func (g *Gate) Authenticate(ctx context.Context, raw string) (Principal, error) {
	const op = "gate.Authenticate"

	claims, err := g.codec.Validate(raw)
	if err != nil {
		return Principal{}, authErr(op, MsgInvalidToken, err)
	}

	var live bool
	err = g.read(ctx, func(ctx context.Context) error {
		var err error
		live, err = g.sessions.IsLive(ctx, raw)
		return err
	})
	if err != nil {
		g.metrics.StorageError("session_lookup")
		return Principal{}, storageErr(op, err)
	}
	if !live {
		return Principal{}, authErr(op, MsgInvalidToken, errSessionGone)
	}

	return Principal{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
		Token:     raw,
	}, nil
}

// RejectionReason classifies an Authenticate failure.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, session.ErrTokenSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, session.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, errSessionGone):
		return ReasonRevoked
	default:
		return ReasonMalformed
	}
}

// Refresh issues a new token for p and revokes p's session in the same
// transaction. The old token stops working immediately. The refresh rate
// class is counted by the transport before the token is authenticated, so
// rejected attempts count too.
func (g *Gate) Refresh(ctx context.Context, p Principal) (Issued, error) {
	const op = "gate.Refresh"

	if p.UserID == "" || p.Token == "" {
		return Issued{}, authErr(op, MsgInvalidToken, nil)
	}

	tok, err := g.codec.Issue(p.UserID, g.cfg.TokenTTL)
	if err != nil {
		g.log.Error("auth.token.issue.fail", "err", err)
		return Issued{}, internalErr(op, err)
	}

	var sid string
	err = g.write(ctx, func(ctx context.Context) error {
		var err error
		sid, err = g.sessions.Rotate(ctx, p.Token, p.UserID, tok.Raw, g.cfg.TokenTTL)
		return err
	})
	if errors.Is(err, session.ErrSessionNotFound) {
		g.log.Warn("auth.refresh.session_gone", "user_id", p.UserID)
		return Issued{}, authErr(op, MsgInvalidToken, err)
	}
	if err != nil {
		g.metrics.StorageError("session_rotate")
		g.log.Error("auth.refresh.fail", "err", err, "user_id", p.UserID)
		return Issued{}, storageErr(op, err)
	}

	g.metrics.SessionIssued("refresh")
	g.metrics.SessionsRevoked("refresh", 1)
	g.log.Info("auth.refresh.ok", "user_id", p.UserID, "session_id", sid)
	return g.issued(tok.Raw, sid, tok.ExpiresAt), nil
}

// Logout revokes the session of raw. It succeeds even when the token has
// already expired or been revoked.
func (g *Gate) Logout(ctx context.Context, raw string) error {
	const op = "gate.Logout"

	if strings.TrimSpace(raw) == "" {
		return authErr(op, MsgInvalidToken, nil)
	}

	var removed bool
	err := g.write(ctx, func(ctx context.Context) error {
		var err error
		removed, err = g.sessions.Revoke(ctx, raw)
		return err
	})
	if err != nil {
		g.metrics.StorageError("session_revoke")
		g.log.Error("auth.logout.fail", "err", err)
		return storageErr(op, err)
	}

	if removed {
		g.metrics.SessionsRevoked("logout", 1)
	}
	return nil
}

// LogoutAll revokes every session of userID and returns how many were removed.
func (g *Gate) LogoutAll(ctx context.Context, userID string) (int64, error) {
	const op = "gate.LogoutAll"

	if userID == "" {
		return 0, authErr(op, MsgInvalidToken, nil)
	}

	var n int64
	err := g.write(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.sessions.RevokeAll(ctx, userID)
		return err
	})
	if err != nil {
		g.metrics.StorageError("session_revoke_all")
		g.log.Error("auth.logout_all.fail", "err", err, "user_id", userID)
		return 0, storageErr(op, err)
	}

	g.metrics.SessionsRevoked("logout_all", n)
	g.log.Info("auth.logout_all.ok", "user_id", userID, "revoked", n)
	return n, nil
}

// Me loads the user behind userID.
func (g *Gate) Me(ctx context.Context, userID string) (identity.User, error) {
	const op = "gate.Me"

	var u identity.User
	err := g.read(ctx, func(ctx context.Context) error {
		var err error
		u, err = g.users.GetUserByID(ctx, userID)
		return err
	})
	switch {
	case err == nil:
		return u, nil
	case identity.IsNotFound(err):
		return identity.User{}, authErr(op, MsgInvalidToken, err)
	default:
		g.metrics.StorageError("user_lookup")
		g.log.Error("auth.me.fail", "err", err, "user_id", userID)
		return identity.User{}, storageErr(op, err)
	}
}

// CleanupSessions sweeps expired sessions now.
func (g *Gate) CleanupSessions(ctx context.Context) (int64, error) {
	const op = "gate.CleanupSessions"

	now := g.clock.Now()
	var n int64
	err := g.write(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.sessions.SweepExpired(ctx, now)
		return err
	})
	if err != nil {
		g.metrics.StorageError("session_sweep")
		g.log.Error("auth.cleanup_sessions.fail", "err", err)
		return 0, storageErr(op, err)
	}

	g.log.Info("auth.cleanup_sessions.ok", "removed", n)
	return n, nil
}
