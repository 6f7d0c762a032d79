//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/export"
	"github.com/xraph/export/store"
	pgstore "github.com/xraph/export/store/postgres"
	"github.com/xraph/export/store/storetest"
)

// startPostgres creates a Postgres container and returns a pool connected
// to it.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("export_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestStore_Conformance(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	s := pgstore.NewFromPool(pool, pgstore.WithLogger(slog.Default()))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		_, err := pool.Exec(ctx, `TRUNCATE export_jobs, export_audit_log, export_schedules, game_sessions`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	s := pgstore.NewFromPool(pool)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var applied int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM export_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 4 {
		t.Errorf("applied migrations = %d, want 4", applied)
	}
}

func TestStore_EstimateRate(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	s := pgstore.NewFromPool(pool, pgstore.WithEstimateRate(100))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO game_sessions (tenant_id, session_id, started_at)
		SELECT 'tenant-1', 's-' || g, NOW() FROM generate_series(1, 250) AS g`)
	if err != nil {
		t.Fatalf("seed sessions: %v", err)
	}

	filters := export.Filters{
		RangeStart: time.Now().Add(-time.Hour),
		RangeEnd:   time.Now().Add(time.Hour),
		Format:     export.FormatCSV,
		Delivery:   export.Delivery{Type: export.DeliveryImmediate},
	}
	est, err := s.EstimateSessionCount(ctx, "tenant-1", &filters)
	if err != nil {
		t.Fatalf("EstimateSessionCount: %v", err)
	}
	if est.Count != 250 {
		t.Errorf("count = %d, want 250", est.Count)
	}
	if est.EstimatedDuration != 2500*time.Millisecond {
		t.Errorf("duration = %v, want 2.5s", est.EstimatedDuration)
	}
}
