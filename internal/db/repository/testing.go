package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/saltfish/backtestlab/internal/config"
	"github.com/saltfish/backtestlab/internal/db"
)

// setupTestDB connects to TEST_DATABASE_URL (or DATABASE_URL) and skips the
// test when neither is set.
func setupTestDB(t *testing.T) *db.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL or DATABASE_URL not set, skipping integration test")
	}

	cfg := &config.DatabaseConfig{MaxConnections: 4, ConnMaxLifetime: "1h"}
	pool, err := db.NewPoolFromURL(context.Background(), dbURL, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create test database pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// truncateTables empties the given tables so each test starts clean.
func truncateTables(t *testing.T, pool *db.Pool, tables ...string) {
	t.Helper()

	ctx := context.Background()
	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := pool.Exec(ctx, query); err != nil {
			t.Logf("warning: failed to truncate table %s: %v", table, err)
		}
	}
}
