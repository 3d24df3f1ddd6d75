package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatehouse/cmd/security/token"

	"github.com/jonboulle/clockwork"
)

// Session mirrors one sessions row.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store persists sessions keyed by the hash of their token.
//
// Every method is atomic per call. Implementations never store raw tokens.
type Store interface {
	// Create records a session for token with expires_at = now + ttl.
	Create(ctx context.Context, userID, token string, ttl time.Duration) (sessionID string, err error)

	// IsLive reports whether a session for token exists with expires_at > now.
	IsLive(ctx context.Context, token string) (bool, error)

	// Rotate atomically replaces the live session of oldToken (owned by userID)
	// with a new session for newToken. ErrSessionNotFound if the old session is
	// gone, expired or owned by someone else.
	Rotate(ctx context.Context, oldToken, userID, newToken string, ttl time.Duration) (sessionID string, err error)

	// Revoke deletes the session for token and reports whether one existed.
	// Idempotent: revoking an unknown token is not an error.
	Revoke(ctx context.Context, token string) (bool, error)

	// RevokeAll deletes every session of userID and returns how many were removed.
	RevokeAll(ctx context.Context, userID string) (int64, error)

	// SweepExpired deletes every session with expires_at <= now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type storeOptions struct {
	clock      clockwork.Clock
	hasher     token.Hasher
	maxPerUser int
	schema     string
}

// Option configures a Store implementation.
type Option func(*storeOptions) error

// WithClock sets the time source used for created_at / expires_at and liveness.
func WithClock(c clockwork.Clock) Option {
	return func(o *storeOptions) error {
		if c != nil {
			o.clock = c
		}
		return nil
	}
}

// WithTokenHasher sets how tokens are reduced before storage.
func WithTokenHasher(h token.Hasher) Option {
	return func(o *storeOptions) error {
		o.hasher = h
		return nil
	}
}

// WithMaxSessionsPerUser caps live sessions per user (0 = unbounded).
func WithMaxSessionsPerUser(n int) Option {
	return func(o *storeOptions) error {
		if n < 0 {
			return ErrConfig
		}
		o.maxPerUser = n
		return nil
	}
}

func buildOptions(opts []Option) (storeOptions, error) {
	o := storeOptions{
		clock:  clockwork.NewRealClock(),
		schema: defaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return storeOptions{}, err
		}
	}
	return o, nil
}

var errDuplicateToken = errors.New("session: token already has a session")

func validateCreate(userID, tok string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("session: empty user id")
	}
	if strings.TrimSpace(tok) == "" {
		return errors.New("session: empty token")
	}
	return nil
}
