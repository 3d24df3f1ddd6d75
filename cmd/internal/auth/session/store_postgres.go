package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = identity.DefaultSchema

// WithSchema sets the Postgres schema holding the sessions table.
func WithSchema(schema string) Option {
	return func(o *storeOptions) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !identity.PgIdentIsValid(schema) {
			return fmt.Errorf("%w: invalid schema identifier", ErrConfig)
		}
		o.schema = schema
		return nil
	}
}

// PostgresStore implements Store over PostgreSQL.
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts storeOptions

	sessions string
	users    string
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		pool:     pool,
		opts:     o,
		sessions: identity.PgIdent(o.schema, "sessions"),
		users:    identity.PgIdent(o.schema, "users"),
	}, nil
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, userID, tok string, ttl time.Duration) (string, error) {
	if err := validateCreate(userID, tok, ttl); err != nil {
		return "", err
	}
	now := s.opts.clock.Now().UTC()
	h := s.opts.hasher.Hex(tok)

	if s.opts.maxPerUser <= 0 {
		return s.insert(ctx, s.pool, now, userID, h, ttl)
	}

	var id string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.lockUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		if id, err = s.insert(ctx, tx, now, userID, h, ttl); err != nil {
			return err
		}
		return s.evictOverflow(ctx, tx, userID)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// IsLive reports whether token has an unexpired session.
func (s *PostgresStore) IsLive(ctx context.Context, tok string) (bool, error) {
	if strings.TrimSpace(tok) == "" {
		return false, nil
	}

	var live bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+s.sessions+`
		    WHERE token_hash = $1 AND expires_at > $2
		 )`,
		s.opts.hasher.Hex(tok), s.opts.clock.Now().UTC(),
	).Scan(&live)
	if err != nil {
		return false, err
	}
	return live, nil
}

// Rotate deletes the old session and inserts the new one in one transaction.
func (s *PostgresStore) Rotate(ctx context.Context, oldTok, userID, newTok string, ttl time.Duration) (string, error) {
	if err := validateCreate(userID, newTok, ttl); err != nil {
		return "", err
	}
	now := s.opts.clock.Now().UTC()
	oldHash := s.opts.hasher.Hex(oldTok)
	newHash := s.opts.hasher.Hex(newTok)

	var id string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if s.opts.maxPerUser > 0 {
			if err := s.lockUser(ctx, tx, userID); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+s.sessions+`
			  WHERE token_hash = $1 AND user_id = $2 AND expires_at > $3`,
			oldHash, userID, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSessionNotFound
		}

		if id, err = s.insert(ctx, tx, now, userID, newHash, ttl); err != nil {
			return err
		}
		if s.opts.maxPerUser > 0 {
			return s.evictOverflow(ctx, tx, userID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Revoke deletes the session for token (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, tok string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessions+` WHERE token_hash = $1`,
		s.opts.hasher.Hex(tok),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAll deletes every session of userID.
func (s *PostgresStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessions+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SweepExpired deletes every session with expires_at <= now.
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessions+` WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insert(ctx context.Context, db execer, now time.Time, userID, h string, ttl time.Duration) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	_, err = db.Exec(ctx,
		`INSERT INTO `+s.sessions+` (id, user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, userID, h, now.Add(ttl), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", errDuplicateToken
		}
		return "", err
	}
	return id, nil
}

// lockUser serializes concurrent capped creates for one user.
func (s *PostgresStore) lockUser(ctx context.Context, tx pgx.Tx, userID string) error {
	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM `+s.users+` WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session: unknown user %q", userID)
	}
	return err
}

func (s *PostgresStore) evictOverflow(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM `+s.sessions+`
		  WHERE id IN (
		    SELECT id FROM `+s.sessions+`
		     WHERE user_id = $1
		     ORDER BY created_at DESC, id DESC
		     OFFSET $2
		  )`,
		userID, s.opts.maxPerUser,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
