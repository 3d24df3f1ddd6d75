package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSecretKeyBytes is the shortest accepted signing secret.
const MinSecretKeyBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// SecretKey signs and verifies tokens. Never logged.
	SecretKey []byte

	// Algorithm is the JWT signing algorithm identifier (HS256, HS384, HS512).
	Algorithm string

	// Issuer is the value set in the "iss" claim.
	Issuer string

	// AccessTokenTTL is the lifetime of issued tokens and of their sessions.
	AccessTokenTTL time.Duration

	// MaxSessionsPerUser caps live sessions per user; the oldest are evicted
	// on overflow. Zero means unbounded.
	MaxSessionsPerUser int

	// ReaperInterval is how often expired sessions are swept.
	ReaperInterval time.Duration

	// SweepTimeout bounds a single sweep.
	SweepTimeout time.Duration
}

// DefaultConfig returns defaults for everything except SecretKey.
func DefaultConfig() Config {
	return Config{
		Algorithm:      "HS256",
		Issuer:         "gatehouse",
		AccessTokenTTL: 7 * 24 * time.Hour,
		ReaperInterval: 5 * time.Minute,
		SweepTimeout:   30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - GATEHOUSE_SECRET_KEY (at least MinSecretKeyBytes bytes)
//
// Optional:
//   - GATEHOUSE_ALGORITHM (HS256 | HS384 | HS512)
//   - GATEHOUSE_ACCESS_TOKEN_EXPIRE_MINUTES (positive integer, default 10080)
//   - GATEHOUSE_TOKEN_ISSUER
//   - GATEHOUSE_MAX_SESSIONS_PER_USER (>= 0)
//   - GATEHOUSE_REAPER_INTERVAL, GATEHOUSE_REAPER_SWEEP_TIMEOUT (Go durations)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	secret := strings.TrimSpace(os.Getenv("GATEHOUSE_SECRET_KEY"))
	if len(secret) < MinSecretKeyBytes {
		return Config{}, ErrConfig
	}
	cfg.SecretKey = []byte(secret)

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_ALGORITHM")); v != "" {
		alg := strings.ToUpper(v)
		if !supportedAlgorithm(alg) {
			return Config{}, ErrConfig
		}
		cfg.Algorithm = alg
	}

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_ACCESS_TOKEN_EXPIRE_MINUTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = time.Duration(n) * time.Minute
	}

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_MAX_SESSIONS_PER_USER")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxSessionsPerUser = n
	}

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_REAPER_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ReaperInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_REAPER_SWEEP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepTimeout = d
	}

	return cfg, nil
}

func supportedAlgorithm(alg string) bool {
	switch alg {
	case "HS256", "HS384", "HS512":
		return true
	default:
		return false
	}
}
