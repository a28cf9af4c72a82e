package configuration

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "ODS_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "modules", "ods")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("ODS_TEST_ENV_LOAD")
	t.Cleanup(func() { _ = os.Unsetenv("ODS_TEST_ENV_LOAD") })

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("ODS_TEST_ENV_LOAD"))
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INGEST_BATCH_SIZE", "250")
	t.Setenv("INGEST_WORKERS", "3")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_NAME", "ods_test")

	cfg, err := Load([]string{".env"})
	require.NoError(t, err)

	require.Equal(t, 250, cfg.Ingest.BatchSize)
	require.Equal(t, 3, cfg.Ingest.EffectiveWorkers())
	require.Equal(t, 1024, cfg.Ingest.ChannelBuffer)
	require.Equal(t, logrus.DebugLevel, cfg.LogrusLogLevel())
	require.Contains(t, cfg.Database.Opts, "dbname=ods_test")
	require.NotNil(t, cfg.Logger())
	require.False(t, cfg.Redis.Enabled())
}

func TestLoad_DatabaseURLWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/ods")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db:5432/ods", cfg.Database.Opts)
}

func TestLoad_RejectsInvalidBatchSize(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INGEST_BATCH_SIZE", "0")

	_, err := Load(nil)
	require.ErrorContains(t, err, "INGEST_BATCH_SIZE")
}

func TestLoad_ReportsFieldsByEnvName(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_MAX_CONNS", "2")
	t.Setenv("DB_MIN_CONNS", "5")
	t.Setenv("REDIS_URL", "not a url")

	_, err := Load(nil)
	require.ErrorContains(t, err, "DB_MIN_CONNS")
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestIngestOptions_Validate(t *testing.T) {
	require.NoError(t, (&IngestOptions{BatchSize: 1}).Validate())
	require.ErrorContains(t, (&IngestOptions{BatchSize: 10001}).Validate(), "INGEST_BATCH_SIZE")
	require.ErrorContains(t, (&IngestOptions{BatchSize: 1, Workers: -1}).Validate(), "INGEST_WORKERS")
}

func TestIngestOptions_EffectiveWorkersDefaultsToParallelism(t *testing.T) {
	o := IngestOptions{}
	require.Equal(t, runtime.GOMAXPROCS(0), o.EffectiveWorkers())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
