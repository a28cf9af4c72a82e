package services

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/source"
)

const (
	DefaultBatchSize     = 500
	DefaultChannelBuffer = 1024
)

// BatchWriter persists one batch atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, orgs []organisation.Organisation) error
}

// MetadataWriter records what a load consumed once every batch is written.
type MetadataWriter interface {
	UpsertCodeSystems(ctx context.Context, codes []organisation.Code) error
	UpsertManifest(ctx context.Context, m organisation.Manifest) error
	UpsertRelease(ctx context.Context, rel organisation.Release) error
}

// BatchErrorHandler decides what a failed batch means for the load. Returning
// nil skips the batch, returning an error aborts every stage.
type BatchErrorHandler func(batch []organisation.Organisation, err error) error

func AbortOnBatchError(_ []organisation.Organisation, err error) error { return err }

type LoadResult struct {
	RunID     uuid.UUID
	Manifest  organisation.Manifest
	Fragments int64
	Skipped   int64
	Written   int64
	Batches   int64
	Failed    int64
	Duration  time.Duration
}

// Partial reports whether skipped batches left records unwritten. A partial
// load does not record its manifest or release.
func (r LoadResult) Partial() bool {
	return r.Failed > 0
}

type Pipeline struct {
	writer        BatchWriter
	metadata      MetadataWriter
	release       organisation.Release
	sourceName    string
	workers       int
	batchSize     int
	channelBuffer int
	onBatchError  BatchErrorHandler
	log           *logrus.Entry
}

type PipelineOption func(*Pipeline)

func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithChannelBuffer(n int) PipelineOption {
	return func(p *Pipeline) {
		if n >= 0 {
			p.channelBuffer = n
		}
	}
}

func WithBatchErrorHandler(h BatchErrorHandler) PipelineOption {
	return func(p *Pipeline) {
		if h != nil {
			p.onBatchError = h
		}
	}
}

func WithMetadata(m MetadataWriter) PipelineOption {
	return func(p *Pipeline) { p.metadata = m }
}

func WithRelease(rel organisation.Release) PipelineOption {
	return func(p *Pipeline) { p.release = rel }
}

// WithSourceName records the file the document was read from in the manifest.
func WithSourceName(name string) PipelineOption {
	return func(p *Pipeline) { p.sourceName = name }
}

func WithPipelineLogger(log *logrus.Entry) PipelineOption {
	return func(p *Pipeline) { p.log = componentLogger(log, "ods.ingest") }
}

func NewPipeline(writer BatchWriter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		writer:        writer,
		workers:       runtime.GOMAXPROCS(0),
		batchSize:     DefaultBatchSize,
		channelBuffer: DefaultChannelBuffer,
		onBatchError:  AbortOnBatchError,
		log:           componentLogger(nil, "ods.ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load validates the document header and then runs the pipeline over it.
// A rejected header means nothing is written.
func (p *Pipeline) Load(ctx context.Context, r io.Reader) (LoadResult, error) {
	reader, err := source.NewReader(r)
	if err != nil {
		return LoadResult{}, err
	}
	return p.Run(ctx, reader)
}

// Run streams every organisation in reader through the normalizer workers,
// groups them into batches and hands each batch to the writer. The first
// fatal error cancels every stage.
func (p *Pipeline) Run(ctx context.Context, reader *source.Reader) (LoadResult, error) {
	start := time.Now()
	if p.sourceName != "" {
		reader.SetFileName(p.sourceName)
	}
	res := LoadResult{RunID: uuid.New(), Manifest: reader.Manifest()}
	log := loggerFor(ctx, p.log).WithFields(logrus.Fields{
		"run_id":   res.RunID.String(),
		"manifest": res.Manifest.ContentDescription,
	})
	log.WithFields(logrus.Fields{
		"workers":    p.workers,
		"batch_size": p.batchSize,
	}).Info("ingest started")

	var fragments, skipped, written, batchCount, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	fragCh := make(chan source.Fragment, p.channelBuffer)
	g.Go(func() error {
		return reader.Stream(gctx, fragCh)
	})

	recordCh := make(chan organisation.Organisation)
	workers, wctx := errgroup.WithContext(gctx)
	for i := 0; i < p.workers; i++ {
		workers.Go(func() error {
			for frag := range fragCh {
				fragments.Add(1)
				org, ok, err := source.ParseFragment(frag)
				if err != nil {
					return fmt.Errorf("fragment %d: %w", frag.Seq, err)
				}
				if !ok {
					skipped.Add(1)
					continue
				}
				select {
				case recordCh <- org:
				case <-wctx.Done():
					return wctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		// On failure recordCh stays open so the batcher never flushes a
		// partial batch; it leaves through the cancelled context instead.
		if err := workers.Wait(); err != nil {
			return err
		}
		close(recordCh)
		return nil
	})

	batchCh := make(chan []organisation.Organisation, 1)
	g.Go(func() error {
		return batchOrganisations(gctx, recordCh, batchCh, p.batchSize)
	})

	g.Go(func() error {
		for batch := range batchCh {
			if err := gctx.Err(); err != nil {
				return err
			}
			began := time.Now()
			err := p.writer.WriteBatch(gctx, batch)
			recordBatch(err == nil, time.Since(began).Seconds())
			batchCount.Add(1)
			if err == nil {
				written.Add(int64(len(batch)))
				continue
			}
			failed.Add(int64(len(batch)))
			log.WithError(err).WithField("size", len(batch)).Warn("batch write failed")
			if herr := p.onBatchError(batch, err); herr != nil {
				return herr
			}
		}
		return nil
	})

	err := g.Wait()
	res.Fragments = fragments.Load()
	res.Skipped = skipped.Load()
	res.Written = written.Load()
	res.Batches = batchCount.Load()
	res.Failed = failed.Load()
	recordIngest("skipped", int(res.Skipped))
	recordIngest("written", int(res.Written))
	recordIngest("failed", int(res.Failed))

	if err == nil {
		err = p.writeMetadata(ctx, reader, res.Partial())
	}
	res.Duration = time.Since(start)

	entry := log.WithFields(logrus.Fields{
		"fragments": res.Fragments,
		"skipped":   res.Skipped,
		"written":   res.Written,
		"batches":   res.Batches,
		"failed":    res.Failed,
		"duration":  res.Duration.String(),
	})
	if err != nil {
		entry.WithError(err).Error("ingest aborted")
		return res, err
	}
	entry.Info("ingest finished")
	return res, nil
}

// writeMetadata always stores code systems since written records refer to
// them. Manifest and release mark a release as loaded, so a partial load
// leaves them out and the next import of the release runs again.
func (p *Pipeline) writeMetadata(ctx context.Context, reader *source.Reader, partial bool) error {
	if p.metadata == nil {
		return nil
	}
	if err := p.metadata.UpsertCodeSystems(ctx, reader.CodeSystems()); err != nil {
		return fmt.Errorf("ingest: code systems: %w", err)
	}
	if partial {
		loggerFor(ctx, p.log).WithField("release_id", p.release.ID).
			Warn("batches were skipped; release not recorded as loaded")
		return nil
	}
	if err := p.metadata.UpsertManifest(ctx, reader.Manifest()); err != nil {
		return fmt.Errorf("ingest: manifest: %w", err)
	}
	if p.release.ID != "" {
		if err := p.metadata.UpsertRelease(ctx, p.release); err != nil {
			return fmt.Errorf("ingest: release: %w", err)
		}
	}
	return nil
}

// batchOrganisations groups records into slices of size and closes out when
// in is drained or ctx ends. A send blocks while the writer is busy, which in
// turn blocks the workers.
func batchOrganisations(ctx context.Context, in <-chan organisation.Organisation, out chan<- []organisation.Organisation, size int) error {
	defer close(out)
	if size <= 0 {
		size = DefaultBatchSize
	}

	send := func(batch []organisation.Organisation) error {
		select {
		case out <- batch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	batch := make([]organisation.Organisation, 0, size)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case org, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					return send(batch)
				}
				return nil
			}
			batch = append(batch, org)
			if len(batch) == size {
				if err := send(batch); err != nil {
					return err
				}
				batch = make([]organisation.Organisation, 0, size)
			}
		}
	}
}
