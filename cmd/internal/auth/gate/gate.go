package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/authmetrics"
	"gatehouse/cmd/internal/auth/ratelimit"
	"gatehouse/cmd/internal/auth/session"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
)

// PasswordHasher hashes and verifies passwords. password.Config satisfies it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encodedHash string) (bool, error)
}

// Config tunes the gate.
type Config struct {
	// TokenTTL is the lifetime of issued tokens and their sessions.
	TokenTTL time.Duration

	// StorageTimeout bounds every storage call.
	StorageTimeout time.Duration

	// ReadRetryBackoff is the pause before the single retry of a failed
	// storage read. Zero disables the retry.
	ReadRetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TokenTTL:         7 * 24 * time.Hour,
		StorageTimeout:   3 * time.Second,
		ReadRetryBackoff: 50 * time.Millisecond,
	}
}

// Deps are the gate's collaborators. Clock, Metrics and Log are optional.
type Deps struct {
	Clock     clockwork.Clock
	Users     identity.Store
	Passwords PasswordHasher
	Codec     session.TokenCodec
	Sessions  session.Store
	Limiter   *ratelimit.Limiter
	Metrics   *authmetrics.Metrics
	Log       *slog.Logger
}

// Gate is safe for concurrent use.
type Gate struct {
	cfg Config

	clock     clockwork.Clock
	users     identity.Store
	passwords PasswordHasher
	codec     session.TokenCodec
	sessions  session.Store
	limiter   *ratelimit.Limiter
	metrics   *authmetrics.Metrics
	log       *slog.Logger

	dummyHash string
}

const dummyPassword = "gatehouse-dummy-password-for-timing-only"

// New validates deps and precomputes the dummy hash used to equalize timing
// between unknown users and wrong passwords.
func New(cfg Config, d Deps) (*Gate, error) {
	if d.Users == nil || d.Passwords == nil || d.Codec == nil || d.Sessions == nil || d.Limiter == nil {
		return nil, errors.New("gate: missing dependency")
	}
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = def.StorageTimeout
	}
	if cfg.ReadRetryBackoff < 0 {
		cfg.ReadRetryBackoff = 0
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	dummy, err := d.Passwords.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	return &Gate{
		cfg:       cfg,
		clock:     d.Clock,
		users:     d.Users,
		passwords: d.Passwords,
		codec:     d.Codec,
		sessions:  d.Sessions,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		log:       d.Log,
		dummyHash: dummy,
	}, nil
}

// TokenTTL returns the configured token lifetime.
func (g *Gate) TokenTTL() time.Duration { return g.cfg.TokenTTL }

// write runs a storage write under the storage timeout. Writes are never retried.
func (g *Gate) write(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, g.cfg.StorageTimeout)
	defer cancel()
	return fn(sctx)
}

// read runs a storage read under the storage timeout, retrying once after
// ReadRetryBackoff on failures other than "not found".
func (g *Gate) read(ctx context.Context, fn func(ctx context.Context) error) error {
	once := func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, g.cfg.StorageTimeout)
		defer cancel()
		return fn(sctx)
	}
	if g.cfg.ReadRetryBackoff <= 0 {
		return once(ctx)
	}

	b := retry.WithMaxRetries(1, retry.NewConstant(g.cfg.ReadRetryBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := once(ctx)
		if err == nil || identity.IsNotFound(err) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (g *Gate) rateLimited(op string, class ratelimit.Class, d ratelimit.Decision) error {
	g.metrics.RateLimited(string(class))
	return &RateLimitError{Op: op, Class: string(class), RetryAfter: d.RetryAfter}
}
