package app

import (
	"context"
	"errors"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned by management commands that need Postgres.
var ErrNoDatabase = errors.New("GATEHOUSE_DATABASE_URL is not set")

func withPool(ctx context.Context, cfg Config, fn func(*pgxpool.Pool) error) error {
	if cfg.DatabaseURL == "" {
		return ErrNoDatabase
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

// MigrateCommand applies pending migrations.
func MigrateCommand(ctx context.Context, cfg Config, log Logger) error {
	return withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
		return Migrate(ctx, pool, cfg, log)
	})
}

// AddUserCommand provisions an account. The password must satisfy the
// configured policy.
func AddUserCommand(ctx context.Context, cfg Config, log Logger, username, plaintext string) (identity.User, error) {
	pw, err := password.FromEnv()
	if err != nil {
		return identity.User{}, err
	}
	if err := pw.Validate(plaintext); err != nil {
		return identity.User{}, err
	}
	hash, err := pw.Hash(plaintext)
	if err != nil {
		return identity.User{}, err
	}

	var u identity.User
	err = withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
		users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return err
		}
		u, err = users.CreateUser(ctx, identity.CreateUserInput{
			Username:     username,
			PasswordHash: hash,
			Now:          time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return identity.User{}, err
	}

	log.Info("auth.useradd.ok", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// CleanupSessionsCommand deletes expired sessions once and reports how many went.
func CleanupSessionsCommand(ctx context.Context, cfg Config, log Logger) (int64, error) {
	var n int64
	err := withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
		store, err := session.NewPostgresStore(pool, session.WithSchema(cfg.DBSchema))
		if err != nil {
			return err
		}
		reaper := session.NewReaper(store, time.Hour, nonZeroDuration(cfg.StorageTimeout, 30*time.Second),
			session.WithReaperLogger(log))
		n, err = reaper.SweepOnce(ctx, time.Now().UTC())
		return err
	})
	return n, err
}
