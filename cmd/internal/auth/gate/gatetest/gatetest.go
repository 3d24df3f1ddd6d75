// Package gatetest builds a fully in-memory Gate on a fake clock for tests.
package gatetest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/authmetrics"
	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/ratelimit"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// Epoch is the fake clock's start time.
var Epoch = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

// Secret signs test tokens.
var Secret = strings.Repeat("s", session.MinSecretKeyBytes)

// Default seeded credentials.
const (
	Username = "admin"
	Password = "correct horse battery"
)

// CountingHasher wraps a cheap bcrypt config and counts Verify calls.
type CountingHasher struct {
	password.Config
	verifies atomic.Int64
}

func (h *CountingHasher) Verify(plaintext, encodedHash string) (bool, error) {
	h.verifies.Add(1)
	return h.Config.Verify(plaintext, encodedHash)
}

// Verifies returns the number of Verify calls so far.
func (h *CountingHasher) Verifies() int64 { return h.verifies.Load() }

// CountingUsers wraps an identity store and counts lookups.
type CountingUsers struct {
	identity.Store
	lookups atomic.Int64
}

func (u *CountingUsers) GetUserByUsername(ctx context.Context, username string) (identity.User, error) {
	u.lookups.Add(1)
	return u.Store.GetUserByUsername(ctx, username)
}

// Lookups returns the number of username lookups so far.
func (u *CountingUsers) Lookups() int64 { return u.lookups.Load() }

// Rig is a gate plus handles on its collaborators.
type Rig struct {
	Gate     *gate.Gate
	Clock    *clockwork.FakeClock
	Users    *CountingUsers
	Hasher   *CountingHasher
	Codec    *session.JWTCodec
	Sessions *session.MemoryStore
	Limiter  *ratelimit.Limiter
	Admin    identity.User
}

// Option adjusts the rig before the gate is built.
type Option func(cfg *gate.Config, d *gate.Deps)

// WithSessions swaps the session store seen by the gate.
func WithSessions(wrap func(session.Store) session.Store) Option {
	return func(_ *gate.Config, d *gate.Deps) { d.Sessions = wrap(d.Sessions) }
}

// WithUsers swaps the credential store seen by the gate.
func WithUsers(wrap func(identity.Store) identity.Store) Option {
	return func(_ *gate.Config, d *gate.Deps) { d.Users = wrap(d.Users) }
}

// WithMetrics hands the gate a metrics sink.
func WithMetrics(m *authmetrics.Metrics) Option {
	return func(_ *gate.Config, d *gate.Deps) { d.Metrics = m }
}

// WithConfig edits the gate config.
func WithConfig(fn func(*gate.Config)) Option {
	return func(cfg *gate.Config, _ *gate.Deps) { fn(cfg) }
}

// New builds a rig seeded with one user (Username / Password).
func New(t testing.TB, opts ...Option) *Rig {
	t.Helper()

	fc := clockwork.NewFakeClockAt(Epoch)

	pw := password.DefaultConfig()
	pw.BcryptCost = bcrypt.MinCost
	hasher := &CountingHasher{Config: pw}

	mem := identity.NewMemoryStore()
	hash, err := pw.Hash(Password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	admin, err := mem.CreateUser(context.Background(), identity.CreateUserInput{
		Username:     Username,
		PasswordHash: hash,
		Now:          Epoch,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	users := &CountingUsers{Store: mem}

	scfg := session.DefaultConfig()
	scfg.SecretKey = []byte(Secret)
	codec, err := session.NewJWTCodec(scfg, fc)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	sessions, err := session.NewMemoryStore(session.WithClock(fc))
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	limiter := ratelimit.New(fc, ratelimit.DefaultPolicies())

	cfg := gate.DefaultConfig()
	cfg.ReadRetryBackoff = time.Millisecond
	cfg.StorageTimeout = time.Second
	deps := gate.Deps{
		Clock:     fc,
		Users:     users,
		Passwords: hasher,
		Codec:     codec,
		Sessions:  sessions,
		Limiter:   limiter,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg, &deps)
		}
	}

	g, err := gate.New(cfg, deps)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	return &Rig{
		Gate:     g,
		Clock:    fc,
		Users:    users,
		Hasher:   hasher,
		Codec:    codec,
		Sessions: sessions,
		Limiter:  limiter,
		Admin:    admin,
	}
}

// Login logs the seeded user in from client or fails the test.
func (r *Rig) Login(t testing.TB, client string) gate.Issued {
	t.Helper()
	out, err := r.Gate.Login(context.Background(), gate.LoginInput{
		Username: Username,
		Password: Password,
		Client:   client,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return out
}
