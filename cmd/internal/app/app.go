// Package app wires the gatehouse server runtime: config, logging, storage,
// the auth gate, its HTTP surface and the session reaper.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"gatehouse/cmd/identity"
	authapi "gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/authmetrics"
	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/ratelimit"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// App is the gatehouse runtime: it owns the HTTP server and the session reaper.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	metrics  *authmetrics.Metrics

	auth   *authapi.Handler
	reaper *session.Reaper
}

// Deps overrides pieces New would otherwise build. Zero values use defaults.
type Deps struct {
	Clock  clockwork.Clock
	Hasher token.Hasher
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger, d Deps) (*App, error) {
	if log == nil {
		log = NewLogger(os.Stdout, cfg.LogLevel, cfg.Env)
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authCfg := authapi.LoadConfigFromEnv()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := authmetrics.New(reg)

	st, pool, dbEnabled, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = st.Close(ctx)
		return nil, err
	}

	storeOpts := []session.Option{
		session.WithClock(d.Clock),
		session.WithTokenHasher(d.Hasher),
		session.WithMaxSessionsPerUser(sessCfg.MaxSessionsPerUser),
	}

	var (
		users    identity.Store
		sessions session.Store
		audit    authapi.AuditSink = authapi.NopAudit{}
	)
	if dbEnabled {
		pgUsers, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return fail(err)
		}
		pgSessions, err := session.NewPostgresStore(pool, append(storeOpts, session.WithSchema(cfg.DBSchema))...)
		if err != nil {
			return fail(err)
		}
		pgAudit, err := authapi.NewPostgresAudit(pool, cfg.DBSchema, log)
		if err != nil {
			return fail(err)
		}
		users, sessions, audit = pgUsers, pgSessions, pgAudit
	} else {
		memUsers := identity.NewMemoryStore()
		if err := seedDevAdmin(ctx, cfg, pwCfg, memUsers, d.Clock.Now(), log); err != nil {
			return fail(err)
		}
		memSessions, err := session.NewMemoryStore(storeOpts...)
		if err != nil {
			return fail(err)
		}
		users, sessions = memUsers, memSessions
	}

	codec, err := session.NewJWTCodec(sessCfg, d.Clock)
	if err != nil {
		return fail(err)
	}
	limiter := ratelimit.New(d.Clock, authCfg.Policies(), authCfg.LimiterOptions()...)

	gcfg := gate.DefaultConfig()
	gcfg.TokenTTL = sessCfg.AccessTokenTTL
	gcfg.StorageTimeout = cfg.StorageTimeout
	g, err := gate.New(gcfg, gate.Deps{
		Clock:     d.Clock,
		Users:     users,
		Passwords: pwCfg,
		Codec:     codec,
		Sessions:  sessions,
		Limiter:   limiter,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return fail(err)
	}

	auth, err := authapi.NewHandler(log, g, limiter, authCfg,
		authapi.WithAuditSink(audit),
		authapi.WithMetrics(metrics),
	)
	if err != nil {
		return fail(err)
	}

	reaper := session.NewReaper(sessions, sessCfg.ReaperInterval, sessCfg.SweepTimeout,
		session.WithReaperClock(d.Clock),
		session.WithReaperLogger(log),
		session.WithSweepObserver(metrics.Sweep),
		session.WithAfterSweep(func(now time.Time) {
			if n := limiter.Prune(now); n > 0 {
				log.Debug("ratelimit.prune", "removed", n)
			}
		}),
	)

	log.Info("auth.config",
		"algorithm", codec.Algorithm(),
		"token_ttl", sessCfg.AccessTokenTTL.String(),
		"max_sessions_per_user", sessCfg.MaxSessionsPerUser,
		"token_hash_hmac", d.Hasher.HMAC(),
		"password_algorithm", string(pwCfg.Algorithm),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		registry:  reg,
		metrics:   metrics,
		auth:      auth,
		reaper:    reaper,
	}, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.registry)

	var h http.Handler = mux
	h = WithRecover(h, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, a.metrics)
	return h
}

// Run starts the HTTP server and the session reaper and blocks until context
// cancellation or a fatal error from either.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.reaper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := a.store.Close(closeCtx); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}

	a.log.Info("server.stopped")
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev mode.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	if cfg.DBAutoMigrate {
		if err := Migrate(ctx, pool, cfg, log); err != nil {
			pool.Close()
			return nil, nil, false, err
		}
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return dbStore{pool: pool}, pool, true, nil
}

// seedDevAdmin creates the configured dev account in the in-memory user store.
func seedDevAdmin(ctx context.Context, cfg Config, pw password.Config, users *identity.MemoryStore, now time.Time, log Logger) error {
	if cfg.DevAdminUsername == "" || cfg.DevAdminPassword == "" {
		log.Warn("auth.dev_admin.unset", "hint", "set GATEHOUSE_DEV_ADMIN_USERNAME and GATEHOUSE_DEV_ADMIN_PASSWORD to log in without a database")
		return nil
	}
	hash, err := pw.Hash(cfg.DevAdminPassword)
	if err != nil {
		return err
	}
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Username:     cfg.DevAdminUsername,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		return err
	}
	log.Info("auth.dev_admin.seeded", "user_id", u.ID, "username", u.Username)
	return nil
}
