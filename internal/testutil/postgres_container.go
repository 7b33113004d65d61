package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// PostgresDSN returns the DSN of a shared PostgreSQL container, starting it
// on first use.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	requireDocker(t)

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					// The server restarts once after initdb.
					wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "apiflow",
				"POSTGRES_PASSWORD": "apiflow",
				"POSTGRES_DB":       "apiflow_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background())
			pgErr = err
			return
		}
		pgDSN = fmt.Sprintf("postgres://apiflow:apiflow@%s/apiflow_test?sslmode=disable", endpoint)
	})

	if pgErr != nil {
		t.Fatalf("start postgres: %v", pgErr)
	}
	return pgDSN
}

// PostgresDB opens the shared container's database with the pgx driver and
// drops apiflow's tables so each test starts empty.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", PostgresDSN(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`DROP TABLE IF EXISTS workflow_results, run_events, run_tasks`); err != nil {
		t.Fatalf("reset postgres: %v", err)
	}
	return db
}
