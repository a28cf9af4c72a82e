package persistence

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies every pending schema migration and returns the versions applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *logrus.Entry) ([]int64, error) {
	sub, err := fs.Sub(schemaFS, "schema")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded schema")
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply migrations")
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
		if log != nil {
			log.WithFields(logrus.Fields{
				"version":  r.Source.Version,
				"duration": r.Duration,
			}).Info("migration applied")
		}
	}
	return applied, nil
}
