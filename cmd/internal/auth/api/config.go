package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gatehouse/cmd/internal/auth/ratelimit"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// AdminSubjects restricts cleanup-sessions to these subject ids.
	// Empty means any authenticated principal.
	AdminSubjects []string

	Rates map[ratelimit.Class]ratelimit.Policy

	// SaturatedRetry is the Retry-After hint when every remaining login slot
	// of a client is held by attempts still in flight.
	SaturatedRetry time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:    envBool("GATEHOUSE_TRUST_PROXY", false),
		MaxBodyBytes:  envInt64("GATEHOUSE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		AdminSubjects: envList("GATEHOUSE_ADMIN_SUBJECTS"),
		Rates:         ratelimit.DefaultPolicies(),

		SaturatedRetry: envDuration("GATEHOUSE_RATE_SATURATED_RETRY", ratelimit.DefaultSaturatedRetry),
	}

	for class, p := range cfg.Rates {
		prefix := "GATEHOUSE_RATE_" + strings.ToUpper(string(class)) + "_"
		p.Limit = envInt(prefix+"MAX", p.Limit)
		p.Window = envDuration(prefix+"WINDOW", p.Window)
		if p.Mode == ratelimit.CountFailures {
			p.Lockout = envDuration(prefix+"LOCKOUT", p.Lockout)
		}
		cfg.Rates[class] = p
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

// LimiterOptions returns the limiter tuning carried by c.
func (c Config) LimiterOptions() []ratelimit.Option {
	return []ratelimit.Option{ratelimit.WithSaturatedRetry(c.SaturatedRetry)}
}

// Policies returns a copy of the configured rate-limit policies, falling back
// to the defaults for classes the config leaves out.
func (c Config) Policies() map[ratelimit.Class]ratelimit.Policy {
	out := ratelimit.DefaultPolicies()
	for class, p := range c.Rates {
		out[class] = p
	}
	return out
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
