package gate

import (
	"context"
	"log/slog"
	"time"
)

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time

	// Token is the raw bearer token. Never log it.
	Token string
}

// LogValue keeps the raw token out of logs.
func (p Principal) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", p.UserID),
		slog.String("token_id", p.TokenID),
		slog.Time("expires_at", p.ExpiresAt),
	)
}

type principalKey struct{}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by the request interceptor.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
