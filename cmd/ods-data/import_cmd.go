package main

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/services"
)

type importOptions struct {
	input           string
	releaseID       string
	releaseDate     string
	force           bool
	reindex         bool
	continueOnError bool
	batchSize       int
	workers         int
}

type importSummary struct {
	RunID       string                `json:"run_id,omitempty"`
	Release     string                `json:"release_id,omitempty"`
	Skipped     bool                  `json:"skipped"`
	Manifest    organisation.Manifest `json:"manifest"`
	Fragments   int64                 `json:"fragments"`
	Stubs       int64                 `json:"reference_stubs"`
	Written     int64                 `json:"written"`
	Batches     int64                 `json:"batches"`
	Failed      int64                 `json:"failed"`
	Partial     bool                  `json:"partial"`
	Indexed     int64                 `json:"indexed"`
	DurationSec float64               `json:"duration_seconds"`
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an organisation release (XML or a zip holding one)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "Release file: .xml or .zip (required)")
	cmd.Flags().StringVar(&opts.releaseID, "release-id", "", "Release identifier; a release already loaded is skipped")
	cmd.Flags().StringVar(&opts.releaseDate, "release-date", "", "Release date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Load even when --release-id was loaded before")
	cmd.Flags().BoolVar(&opts.reindex, "reindex", true, "Rebuild the search index after loading")
	cmd.Flags().BoolVar(&opts.continueOnError, "continue-on-error", false, "Skip batches that fail to write instead of aborting")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Records per write transaction (default: INGEST_BATCH_SIZE)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Normalizer workers (default: INGEST_WORKERS)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runImport(ctx context.Context, out io.Writer, root *rootOptions, opts importOptions) error {
	release, err := parseRelease(opts.releaseID, opts.releaseDate)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if opts.batchSize < 0 || opts.workers < 0 {
		return withCode(exitUsage, errors.New("--batch-size and --workers must not be negative"))
	}

	src, name, err := openSource(opts.input)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer func() { _ = src.Close() }()

	a, err := openApp(ctx, root, "import")
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.log.WithFields(logrus.Fields{"input": opts.input, "release_id": release.ID})

	if !opts.force {
		loaded, err := a.svc.ReleaseLoaded(ctx, release.ID)
		if err != nil {
			return withCode(exitDB, fmt.Errorf("check release: %w", err))
		}
		if loaded {
			log.Info("release already loaded; skipping")
			return writeJSONLine(out, importSummary{Release: release.ID, Skipped: true})
		}
	}

	batchSize := opts.batchSize
	if batchSize == 0 {
		batchSize = a.conf.Ingest.BatchSize
	}
	workers := opts.workers
	if workers == 0 {
		workers = a.conf.Ingest.EffectiveWorkers()
	}

	pipelineOpts := []services.PipelineOption{
		services.WithBatchSize(batchSize),
		services.WithWorkers(workers),
		services.WithChannelBuffer(a.conf.Ingest.ChannelBuffer),
		services.WithRelease(release),
		services.WithSourceName(name),
	}
	if opts.continueOnError {
		pipelineOpts = append(pipelineOpts, services.WithBatchErrorHandler(skipFailedBatch(log)))
	}

	res, err := a.svc.Load(ctx, src, pipelineOpts...)
	if err != nil {
		return classify(fmt.Errorf("import %s: %w", opts.input, err))
	}

	summary := importSummary{
		RunID:       res.RunID.String(),
		Release:     release.ID,
		Manifest:    res.Manifest,
		Fragments:   res.Fragments,
		Stubs:       res.Skipped,
		Written:     res.Written,
		Batches:     res.Batches,
		Failed:      res.Failed,
		Partial:     res.Partial(),
		DurationSec: res.Duration.Seconds(),
	}
	if opts.reindex && !a.conf.Ingest.MaintainSearchIndex {
		n, err := a.svc.Reindex(ctx)
		if err != nil {
			return withCode(exitDBWrite, fmt.Errorf("reindex: %w", err))
		}
		summary.Indexed = n
	}
	if err := writeJSONLine(out, summary); err != nil {
		return err
	}
	if summary.Partial {
		return withCode(exitDBWrite, fmt.Errorf("import %s: %d records in skipped batches; release %q not recorded", opts.input, res.Failed, release.ID))
	}
	return nil
}

func skipFailedBatch(log *logrus.Entry) services.BatchErrorHandler {
	return func(batch []organisation.Organisation, err error) error {
		if !errors.Is(err, organisation.ErrIntegrity) {
			return err
		}
		first, last := "", ""
		if len(batch) > 0 {
			first, last = batch[0].Code, batch[len(batch)-1].Code
		}
		log.WithError(err).WithFields(logrus.Fields{
			"size":  len(batch),
			"first": first,
			"last":  last,
		}).Warn("skipping batch")
		return nil
	}
}

func parseRelease(id, date string) (organisation.Release, error) {
	rel := organisation.Release{ID: strings.TrimSpace(id)}
	date = strings.TrimSpace(date)
	if date == "" {
		return rel, nil
	}
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return rel, fmt.Errorf("invalid --release-date: %w", err)
	}
	rel.Date = &t
	return rel, nil
}

type zipEntryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntryReader) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// openSource opens path, or the first XML entry (by name) when path is a zip
// archive. The returned name is recorded in the manifest.
func openSource(path string) (io.ReadCloser, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, "", errors.New("--input is required")
	}
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		return f, filepath.Base(path), nil
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", fmt.Errorf("open zip %s: %w", path, err)
	}
	var entries []*zip.File
	for _, f := range archive.File {
		if !f.FileInfo().IsDir() && strings.EqualFold(filepath.Ext(f.Name), ".xml") {
			entries = append(entries, f)
		}
	}
	if len(entries) == 0 {
		_ = archive.Close()
		return nil, "", fmt.Errorf("zip %s holds no .xml entry", path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	rc, err := entries[0].Open()
	if err != nil {
		_ = archive.Close()
		return nil, "", fmt.Errorf("open %s in %s: %w", entries[0].Name, path, err)
	}
	return &zipEntryReader{ReadCloser: rc, archive: archive}, entries[0].Name, nil
}
