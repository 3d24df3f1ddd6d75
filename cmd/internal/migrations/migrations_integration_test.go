package migrations_test

import (
	"context"
	"testing"
	"time"

	"gatehouse/cmd/internal/migrations"
	"gatehouse/cmd/internal/pgtest"
)

func TestUp_IsIdempotent(t *testing.T) {
	pool := pgtest.OpenPool(t)
	schema := pgtest.MigratedSchema(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	v1, err := migrations.Version(ctx, pool, schema)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v1 < 3 {
		t.Fatalf("expected version >= 3, got %d", v1)
	}

	v2, err := migrations.Up(ctx, pool, schema, nil)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if v2 != v1 {
		t.Fatalf("second Up changed version: %d -> %d", v1, v2)
	}
}
