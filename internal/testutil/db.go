package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/udisondev/projectlux/internal/db"
)

// DSNEnv points database tests at an existing PostgreSQL instead of a container.
const DSNEnv = "LUX_TEST_DSN"

// SetupTestDB returns a migrated pool for database tests.
//
// With LUX_TEST_DSN set the pool connects there. Otherwise a PostgreSQL 16
// testcontainer is started; when Docker is unavailable the test is skipped.
// Cleanup is automatic at the end of the test.
func SetupTestDB(tb testing.TB) *pgxpool.Pool {
	tb.Helper()
	ctx := context.Background()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		dsn = startContainer(tb, ctx)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		tb.Fatalf("connecting to test db: %v", err)
	}
	tb.Cleanup(pool.Close)

	if err := db.RunMigrationsPool(ctx, pool); err != nil {
		tb.Fatalf("running migrations: %v", err)
	}

	if _, err := pool.Exec(ctx, "TRUNCATE actors CASCADE"); err != nil {
		tb.Fatalf("truncating actors: %v", err)
	}
	return pool
}

func startContainer(tb testing.TB, ctx context.Context) string {
	tb.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		tb.Skipf("postgres unavailable (set %s to use an existing one): %v", DSNEnv, err)
	}

	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			tb.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("getting connection string: %v", err)
	}
	return dsn
}
