package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gatehouse/cmd/identity"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string
	Env      string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// StorageTimeout bounds every credential and session store call.
	StorageTimeout time.Duration

	// Security policy:
	// If true, GATEHOUSE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	SentryDSN string

	// Seed account for in-memory mode only. Ignored when a database is configured.
	DevAdminUsername string
	DevAdminPassword string
}

// LoadConfig loads Config from GATEHOUSE_* environment variables with
// defaults. The returned Config is always usable; a non-nil error wraps
// ErrInvalidEnv and names every variable that was set to an unusable value.
func LoadConfig() (Config, error) {
	env := newEnvReader()
	cfg := Config{
		HTTPAddr: env.String("HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: env.String("LOG_LEVEL", "info"),
		Env:      env.String("ENV", "development"),

		ReadHeaderTimeout: env.Duration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.Duration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      env.Duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       env.Duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   env.Duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: env.Int("HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   env.String("DATABASE_URL", ""),
		DBSchema:      env.String("DB_SCHEMA", identity.DefaultSchema),
		DBMaxConns:    env.Int32("DB_MAX_CONNS", 10),
		DBMinConns:    env.Int32("DB_MIN_CONNS", 0),
		DBAutoMigrate: env.Bool("DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: env.Bool("READINESS_REQUIRE_DB", false),

		StorageTimeout: env.Duration("STORAGE_TIMEOUT", 3*time.Second),

		RequireTokenHMAC: env.Bool("REQUIRE_TOKEN_HMAC", false),

		// Sentry's own variable name.
		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		DevAdminUsername: env.String("DEV_ADMIN_USERNAME", ""),
		DevAdminPassword: env.String("DEV_ADMIN_PASSWORD", ""),
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		env.reject(EnvPrefix+"DB_MIN_CONNS", strconv.Itoa(int(cfg.DBMinConns)), "exceeds DB_MAX_CONNS")
		cfg.DBMinConns = 0
	}
	return cfg, env.Err()
}
