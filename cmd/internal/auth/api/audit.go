package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"gatehouse/cmd/identity"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// AuditSink records audit events. Implementations must not block the request
// on failure; errors are logged, not returned.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// NopAudit discards events. Used when no database is configured.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEvent) {}

// PostgresAudit appends events to the audit_log table.
type PostgresAudit struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAudit writes to <schema>.audit_log. An empty schema means the default.
func NewPostgresAudit(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAudit, error) {
	if schema == "" {
		schema = identity.DefaultSchema
	}
	if !identity.PgIdentIsValid(schema) {
		return nil, &identity.Error{Op: "authapi.NewPostgresAudit", Kind: identity.ErrInvalidInput, Field: "schema", Detail: schema}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAudit{pool: pool, table: identity.PgIdent(schema, "audit_log"), log: log}, nil
}

func (a *PostgresAudit) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}

	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, trimOrNil(ev.UserID), action, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) audit(r *http.Request, action, userID string, meta map[string]any) {
	h.auditSink.Record(r.Context(), AuditEvent{
		Action:    action,
		UserID:    userID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
		Meta:      meta,
	})
}
