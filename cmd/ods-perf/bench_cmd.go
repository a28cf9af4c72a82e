package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
	"github.com/iota-uz/ods/modules/ods/services"
	"github.com/iota-uz/ods/pkg/configuration"
)

type modeReport struct {
	Mode  string  `json:"mode"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

type perfReport struct {
	Scenario   string       `json:"scenario"`
	Sample     int          `json:"sample"`
	Modes      []modeReport `json:"modes"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	GitRev     string       `json:"git_rev"`
	DBVersion  string       `json:"db_version"`
}

// scenario resolves the same sample of codes one key at a time and in a
// single batched call.
type scenario struct {
	name   string
	short  string
	single func(ctx context.Context, svc *services.OrgService, code string) error
	batch  func(ctx context.Context, svc *services.OrgService, codes []string) error
}

var scenarios = []scenario{
	{
		name:  "fetch",
		short: "Fetch full records",
		single: func(ctx context.Context, svc *services.OrgService, code string) error {
			_, err := svc.Fetch(ctx, code)
			return err
		},
		batch: func(ctx context.Context, svc *services.OrgService, codes []string) error {
			_, err := svc.FetchMany(ctx, codes)
			return err
		},
	},
	{
		name:  "active-successors",
		short: "Resolve active successors",
		single: func(ctx context.Context, svc *services.OrgService, code string) error {
			_, err := svc.ActiveSuccessors(ctx, code)
			return err
		},
		batch: func(ctx context.Context, svc *services.OrgService, codes []string) error {
			_, err := svc.ActiveSuccessorsBatch(ctx, codes)
			return err
		},
	},
	{
		name:  "all-children",
		short: "Resolve transitive children",
		single: func(ctx context.Context, svc *services.OrgService, code string) error {
			_, err := svc.AllChildOrgs(ctx, code, nil)
			return err
		},
		batch: func(ctx context.Context, svc *services.OrgService, codes []string) error {
			_, err := svc.AllChildOrgsBatch(ctx, codes, nil)
			return err
		},
	},
}

type benchOptions struct {
	iterations int
	warmup     int
	sample     int
	seed       string
	modes      string
	outputPath string
}

func (o benchOptions) validate() ([]string, error) {
	if o.iterations <= 0 {
		return nil, errors.New("iterations must be positive")
	}
	if o.warmup < 0 {
		return nil, errors.New("warmup must be non-negative")
	}
	if o.sample <= 0 {
		return nil, errors.New("sample must be positive")
	}
	modes, err := parseModes(o.modes)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(o.outputPath); err != nil {
		return nil, err
	}
	return modes, nil
}

func newBenchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run benchmarks and emit JSON reports",
	}
	cmd.PersistentFlags().IntVar(&opts.iterations, "iterations", 200, "iterations to measure per mode")
	cmd.PersistentFlags().IntVar(&opts.warmup, "warmup", 20, "warmup iterations (not measured)")
	cmd.PersistentFlags().IntVar(&opts.sample, "sample", 100, "codes resolved per iteration")
	cmd.PersistentFlags().StringVar(&opts.seed, "seed", "42", "sampling seed; the same seed picks the same codes")
	cmd.PersistentFlags().StringVar(&opts.modes, "modes", "single,batch", "modes to run (single|batch)")
	cmd.PersistentFlags().StringVar(&opts.outputPath, "output", "./tmp/ods-perf/report.json", "output report path")

	for _, sc := range scenarios {
		cmd.AddCommand(&cobra.Command{
			Use:   sc.name,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBench(cmd.Context(), sc, opts)
			},
		})
	}
	return cmd
}

func runBench(ctx context.Context, sc scenario, opts benchOptions) error {
	modes, err := opts.validate()
	if err != nil {
		return err
	}

	conf := configuration.Use()
	log := logrus.NewEntry(conf.Logger()).WithField("scenario", sc.name)

	pool, err := openBenchPool(ctx, conf.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := persistence.NewOrgRepository(pool, persistence.Options{Logger: log})
	svc := services.NewOrgService(repo, postcode.NewPGDirectory(pool), log)

	codes, err := sampleCodes(ctx, pool, opts.sample, opts.seed)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return errors.New("no organisations loaded; run ods-data import first")
	}

	startedAt := time.Now().UTC()
	report := perfReport{Scenario: sc.name, Sample: len(codes), StartedAt: startedAt.Format(time.RFC3339Nano)}
	for _, mode := range modes {
		run := modeRunner(sc, mode, svc, codes)
		for i := 0; i < opts.warmup; i++ {
			if err := run(ctx); err != nil {
				return fmt.Errorf("%s warmup: %w", mode, err)
			}
		}
		samples, err := measure(ctx, run, opts.iterations)
		if err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
		p50, p95, p99 := percentiles(samples)
		report.Modes = append(report.Modes, modeReport{Mode: mode, P50Ms: p50, P95Ms: p95, P99Ms: p99, Count: len(samples)})
		log.WithFields(logrus.Fields{"mode": mode, "p50_ms": p50, "p95_ms": p95}).Info("mode done")
	}
	report.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	report.GitRev = detectGitRevision()
	report.DBVersion, _ = detectDBVersion(ctx, pool)

	f, err := os.Create(opts.outputPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func modeRunner(sc scenario, mode string, svc *services.OrgService, codes []string) func(context.Context) error {
	if mode == "batch" {
		return func(ctx context.Context) error { return sc.batch(ctx, svc, codes) }
	}
	return func(ctx context.Context) error {
		for _, c := range codes {
			if err := sc.single(ctx, svc, c); err != nil {
				return err
			}
		}
		return nil
	}
}

func measure(ctx context.Context, run func(context.Context) error, iterations int) ([]float64, error) {
	out := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		start := time.Now()
		err := run(ctx)
		dur := time.Since(start)
		if err != nil {
			return nil, err
		}
		out = append(out, float64(dur.Microseconds())/1000.0)
	}
	return out, nil
}

func openBenchPool(ctx context.Context, db configuration.DatabaseOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(db.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = db.MaxConns
	return pgxpool.NewWithConfig(ctx, cfg)
}

// sampleCodes orders by a seeded hash so repeated runs see the same codes.
func sampleCodes(ctx context.Context, pool *pgxpool.Pool, n int, seed string) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT code FROM organisation ORDER BY md5(code || $1), code LIMIT $2`, seed, n)
	if err != nil {
		return nil, fmt.Errorf("sample codes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func detectDBVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var version string
	if err := pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}

func parseModes(raw string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, m := range strings.Split(raw, ",") {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		switch m {
		case "single", "batch":
		default:
			return nil, fmt.Errorf("unsupported mode %q (expected single|batch)", m)
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one mode is required")
	}
	return out, nil
}
