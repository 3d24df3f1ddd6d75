// Package migrations owns the gatehouse Postgres schema.
//
// SQL files are embedded and applied with goose. Table names in the SQL are
// unqualified; the target schema is selected through search_path on a
// dedicated connection so the same files serve production and per-test schemas.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

// Up creates schema if needed and applies every pending migration to it.
// It returns the schema version after the run.
func Up(ctx context.Context, pool *pgxpool.Pool, schema string, log *slog.Logger) (int64, error) {
	p, err := newProvider(ctx, pool, schema)
	if err != nil {
		return 0, err
	}
	defer func() { _ = p.Close() }()

	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrations: up: %w", err)
	}
	if log != nil {
		for _, r := range results {
			if r == nil || r.Source == nil {
				continue
			}
			log.Info("db.migrate.applied", "schema", schema, "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
		}
	}

	return p.GetDBVersion(ctx)
}

// Version reports the currently applied schema version (0 when none).
func Version(ctx context.Context, pool *pgxpool.Pool, schema string) (int64, error) {
	p, err := newProvider(ctx, pool, schema)
	if err != nil {
		return 0, err
	}
	defer func() { _ = p.Close() }()

	return p.GetDBVersion(ctx)
}

func newProvider(ctx context.Context, pool *pgxpool.Pool, schema string) (*goose.Provider, error) {
	if pool == nil {
		return nil, fmt.Errorf("migrations: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return nil, fmt.Errorf("migrations: empty schema")
	}

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}

	db := openScoped(pool, schema)

	sub, err := fs.Sub(files, "sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: provider: %w", err)
	}
	return p, nil
}

// openScoped opens a database/sql handle whose connections resolve
// unqualified names in schema only.
func openScoped(pool *pgxpool.Pool, schema string) *sql.DB {
	cc := pool.Config().ConnConfig.Copy()
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	cc.RuntimeParams["search_path"] = schema
	return stdlib.OpenDB(*cc)
}
