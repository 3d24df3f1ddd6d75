package authapi

import (
	"testing"
	"time"

	"gatehouse/cmd/internal/auth/ratelimit"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.TrustProxy {
		t.Fatalf("TrustProxy must default to false")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes=%d", cfg.MaxBodyBytes)
	}
	if len(cfg.AdminSubjects) != 0 {
		t.Fatalf("AdminSubjects=%v", cfg.AdminSubjects)
	}

	login := cfg.Rates[ratelimit.ClassLogin]
	if login.Limit != 5 || login.Window != 15*time.Minute || login.Lockout != 30*time.Minute {
		t.Fatalf("login policy=%+v", login)
	}
	if cfg.SaturatedRetry != ratelimit.DefaultSaturatedRetry {
		t.Fatalf("SaturatedRetry=%v", cfg.SaturatedRetry)
	}
}

func TestLoadConfigFromEnv_SaturatedRetryReachesLimiter(t *testing.T) {
	t.Setenv("GATEHOUSE_RATE_SATURATED_RETRY", "7s")

	cfg := LoadConfigFromEnv()
	if cfg.SaturatedRetry != 7*time.Second {
		t.Fatalf("SaturatedRetry=%v", cfg.SaturatedRetry)
	}

	l := ratelimit.New(nil, map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassLogin: {Limit: 1, Window: time.Minute, Lockout: time.Hour, Mode: ratelimit.CountFailures},
	}, cfg.LimiterOptions()...)
	k := ratelimit.Key{Client: "198.51.100.4", Class: ratelimit.ClassLogin}
	if d := l.CheckAdmit(k); !d.Allowed {
		t.Fatalf("first attempt denied: %+v", d)
	}
	if d := l.CheckAdmit(k); d.Allowed || d.RetryAfter != 7*time.Second {
		t.Fatalf("expected saturation deny with 7s hint, got %+v", d)
	}
	l.Release(k)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("GATEHOUSE_TRUST_PROXY", "true")
	t.Setenv("GATEHOUSE_MAX_BODY_BYTES", "4096")
	t.Setenv("GATEHOUSE_ADMIN_SUBJECTS", " 01A , ,01B")
	t.Setenv("GATEHOUSE_RATE_LOGIN_MAX", "3")
	t.Setenv("GATEHOUSE_RATE_LOGIN_WINDOW", "10m")
	t.Setenv("GATEHOUSE_RATE_LOGIN_LOCKOUT", "1h")
	t.Setenv("GATEHOUSE_RATE_API_MAX", "7")
	t.Setenv("GATEHOUSE_RATE_API_LOCKOUT", "1h")

	cfg := LoadConfigFromEnv()

	if !cfg.TrustProxy || cfg.MaxBodyBytes != 4096 {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if len(cfg.AdminSubjects) != 2 || cfg.AdminSubjects[0] != "01A" || cfg.AdminSubjects[1] != "01B" {
		t.Fatalf("AdminSubjects=%v", cfg.AdminSubjects)
	}

	login := cfg.Rates[ratelimit.ClassLogin]
	if login.Limit != 3 || login.Window != 10*time.Minute || login.Lockout != time.Hour {
		t.Fatalf("login policy=%+v", login)
	}
	api := cfg.Rates[ratelimit.ClassAPI]
	if api.Limit != 7 || api.Lockout != 0 {
		t.Fatalf("request-counted classes never lock out, got %+v", api)
	}
}

func TestLoadConfigFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("GATEHOUSE_MAX_BODY_BYTES", "-1")
	t.Setenv("GATEHOUSE_RATE_REFRESH_MAX", "lots")
	t.Setenv("GATEHOUSE_RATE_REFRESH_WINDOW", "0s")

	cfg := LoadConfigFromEnv()

	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes=%d", cfg.MaxBodyBytes)
	}
	refresh := cfg.Rates[ratelimit.ClassRefresh]
	if refresh.Limit != 10 || refresh.Window != time.Minute {
		t.Fatalf("refresh policy=%+v", refresh)
	}
}

func TestConfigPolicies_FillsMissingClasses(t *testing.T) {
	cfg := Config{Rates: map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassUpload: {Limit: 1, Window: time.Second, Mode: ratelimit.CountRequests},
	}}

	ps := cfg.Policies()
	if ps[ratelimit.ClassUpload].Limit != 1 {
		t.Fatalf("override lost: %+v", ps[ratelimit.ClassUpload])
	}
	if ps[ratelimit.ClassLogin].Limit != 5 {
		t.Fatalf("default missing: %+v", ps[ratelimit.ClassLogin])
	}

	ps[ratelimit.ClassUpload] = ratelimit.Policy{}
	if cfg.Rates[ratelimit.ClassUpload].Limit != 1 {
		t.Fatalf("Policies must return a copy")
	}
}
