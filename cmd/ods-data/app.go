package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
	"github.com/iota-uz/ods/modules/ods/services"
	"github.com/iota-uz/ods/pkg/configuration"
	"github.com/iota-uz/ods/pkg/metrics"
)

// app holds the connections one command invocation needs.
type app struct {
	conf      *configuration.Configuration
	log       *logrus.Entry
	pool      *pgxpool.Pool
	redis     *redis.Client
	postcodes *postcode.PGDirectory
	repo      *persistence.OrgRepository
	svc       *services.OrgService
	stop      func()
}

func openApp(ctx context.Context, opts *rootOptions, command string) (*app, error) {
	conf := configuration.Use()
	log := logrus.NewEntry(conf.Logger()).WithField("command", command)

	a := &app{conf: conf, log: log, stop: func() {}}

	addr := strings.TrimSpace(opts.metricsAddr)
	if addr == "" {
		addr = conf.Prometheus.Addr
	}
	if addr != "" {
		stop, err := metrics.Serve(ctx, addr, conf.Prometheus.Path, log)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("metrics listener: %w", err))
		}
		a.stop = stop
	}

	pool, err := openPool(ctx, conf.Database)
	if err != nil {
		a.Close()
		return nil, withCode(exitDB, err)
	}
	a.pool = pool

	rc, err := postcode.NewRedisClient(ctx, conf.Redis)
	if err != nil {
		a.Close()
		return nil, withCode(exitDB, err)
	}
	a.redis = rc

	a.postcodes = postcode.NewPGDirectory(pool)
	var dir postcode.Directory = a.postcodes
	if rc != nil {
		dir = postcode.NewCachedDirectory(rc, a.postcodes, conf.Redis.KeyPrefix, conf.Redis.TTL, log)
	}

	a.repo = persistence.NewOrgRepository(pool, persistence.Options{
		Postcodes:           dir,
		MaintainSearchIndex: conf.Ingest.MaintainSearchIndex,
		Logger:              log,
	})
	a.svc = services.NewOrgService(a.repo, dir, log)
	return a, nil
}

func openPool(ctx context.Context, db configuration.DatabaseOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(db.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = db.MaxConns
	cfg.MinConns = db.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.stop()
}
