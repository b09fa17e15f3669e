// Package pgtest opens throwaway PostgreSQL schemas for integration tests.
//
// Tests are enabled when CARADS_DATABASE_URL is set; otherwise they skip, which
// keeps "go test ./..." fast and deterministic without a database.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"carads/cmd/internal/ids"
	"carads/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable that enables integration tests.
const EnvDatabaseURL = "CARADS_DATABASE_URL"

// OpenPool connects to the test database or skips the test. The pool is closed on cleanup.
func OpenPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// Schema returns a fresh schema name that is dropped on cleanup. The schema itself
// is created by the store's Migrate.
func Schema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "carads_it_" + strings.ToLower(ids.MustULID(time.Now())[10:])

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgsql.SchemaIdent(schema)+` CASCADE`)
	})
	return schema
}
