package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse/cmd/internal/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbConnectTimeout = 3 * time.Second

// NewDBPool opens the session/identity pool and waits for one successful ping.
// Errors never echo the connection string. Schema changes are left to Migrate.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}

	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		// pgconn's parse error can quote the DSN, password included.
		return nil, errors.New("db: GATEHOUSE_DATABASE_URL is not a valid connection string")
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = serviceName
	}
	return pcfg, nil
}

// PingDB round-trips to the server within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db: ping: %w", err)
	}
	return nil
}

// Migrate applies pending migrations to cfg.DBSchema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, log Logger) error {
	v, err := migrations.Up(ctx, pool, cfg.DBSchema, log)
	if err != nil {
		return fmt.Errorf("db: migrate %s: %w", cfg.DBSchema, err)
	}
	log.Info("db.migrate.done", "schema", cfg.DBSchema, "version", v)
	return nil
}
