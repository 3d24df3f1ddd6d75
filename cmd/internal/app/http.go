package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	authapi "gatehouse/cmd/internal/auth/api"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readyPingTimeout = 2 * time.Second

// readiness decides whether the instance should receive auth traffic.
// Liveness (/healthz) never touches dependencies.
type readiness struct {
	requireDB bool
	pool      *pgxpool.Pool
	log       Logger
}

// check returns "" when ready, otherwise a short reason safe to expose.
func (rd readiness) check(ctx context.Context) string {
	if rd.pool == nil {
		if rd.requireDB {
			return "database not configured"
		}
		return ""
	}
	if err := PingDB(ctx, rd.pool, readyPingTimeout); err != nil {
		rd.log.Info("readyz.db.not_ready", "err", err)
		return "database unreachable"
	}
	return ""
}

func (rd readiness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	status, body := http.StatusOK, map[string]string{"status": "ready"}
	if reason := rd.check(r.Context()); reason != "" {
		status, body = http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": reason}
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	auth *authapi.Handler,
	gatherer prometheus.Gatherer,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	rd := readiness{requireDB: cfg.ReadinessRequireDB, log: log}
	if dbEnabled {
		rd.pool = dbPool
	}
	mux.Handle("GET /readyz", rd)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if auth != nil {
		auth.Register(mux)
	}
}
