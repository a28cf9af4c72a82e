//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresContainer struct {
	Container *tcpostgres.PostgresContainer
	DSN       string
}

// NewPostgresContainer starts an empty Postgres database. The test is skipped
// when no container provider is reachable.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ods"),
		tcpostgres.WithUsername("ods"),
		tcpostgres.WithPassword("ods"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return &PostgresContainer{Container: container, DSN: dsn}
}

// Pool opens a pool on the container. A non-nil tracer sees every query.
func (p *PostgresContainer) Pool(t *testing.T, tracer pgx.QueryTracer) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(p.DSN)
	if err != nil {
		t.Fatalf("failed to parse dsn: %v", err)
	}
	if tracer != nil {
		cfg.ConnConfig.Tracer = tracer
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
