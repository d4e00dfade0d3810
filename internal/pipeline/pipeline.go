package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/geodata-pusher/internal/batch"
	"github.com/saviobatista/geodata-pusher/internal/parser"
	"github.com/saviobatista/geodata-pusher/internal/scanner"
	"github.com/saviobatista/geodata-pusher/internal/stats"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// ErrSinkUpload wraps every failed bulk upload; it is fatal for the blob
var ErrSinkUpload = errors.New("sink upload failed")

// Sink accepts a batch of documents as a unit
type Sink interface {
	Upload(ctx context.Context, records []types.FlightRecord) error
}

// BlobStore enumerates and opens blobs
type BlobStore interface {
	List(ctx context.Context, prefix string) ([]types.BlobInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// EventPublisher interface for testability
type EventPublisher interface {
	PublishBatchEvent(event *types.BatchEvent) error
}

// StatusCache interface for testability
type StatusCache interface {
	SetBlobRun(ctx context.Context, run *types.BlobRun) error
}

// History interface for testability
type History interface {
	StoreBlobRun(run *types.BlobRun) error
}

// Phase is the per-blob processing state
type Phase string

const (
	PhaseScanning  Phase = "scanning"
	PhaseUploading Phase = "uploading"
	PhaseFlushing  Phase = "flushing"
	PhaseDone      Phase = "done"
)

// Config holds the pipeline settings
type Config struct {
	BatchSize int
	// ContinueOnError keeps processing the remaining blobs after a blob fails
	ContinueOnError bool
}

// Option configures optional collaborators
type Option func(*Pipeline)

// WithStats shares a statistics instance with the caller
func WithStats(s *stats.Stats) Option {
	return func(p *Pipeline) { p.stats = s }
}

// WithEvents publishes a BatchEvent after every upload
func WithEvents(pub EventPublisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

// WithStatusCache records blob status transitions
func WithStatusCache(c StatusCache) Option {
	return func(p *Pipeline) { p.status = c }
}

// WithHistory stores a BlobRun row for every finished blob
func WithHistory(h History) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithRunID overrides the generated run identifier
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// WithPhaseHook is called on every phase transition
func WithPhaseHook(fn func(blob string, phase Phase)) Option {
	return func(p *Pipeline) { p.onPhase = fn }
}

// Pipeline moves records from blob streams to a sink, one blob at a time
type Pipeline struct {
	cfg     Config
	sink    Sink
	runID   string
	stats   *stats.Stats
	events  EventPublisher
	status  StatusCache
	history History
	onPhase func(blob string, phase Phase)
}

// New creates a new pipeline
func New(cfg Config, sink Sink, opts ...Option) (*Pipeline, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	p := &Pipeline{
		cfg:   cfg,
		sink:  sink,
		runID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.stats == nil {
		p.stats = stats.New()
	}
	return p, nil
}

// RunID returns the identifier shared by every blob of this pipeline
func (p *Pipeline) RunID() string {
	return p.runID
}

// Stats returns the pipeline statistics
func (p *Pipeline) Stats() *stats.Stats {
	return p.stats
}

func (p *Pipeline) phase(blob string, ph Phase) {
	if p.onPhase != nil {
		p.onPhase(blob, ph)
	}
}

// ProcessBlob scans, normalizes, batches and uploads one blob stream.
// Malformed fragments are dropped; a failed upload aborts the blob.
func (p *Pipeline) ProcessBlob(ctx context.Context, name string, r io.Reader) (*types.BlobRun, error) {
	start := time.Now()
	run := &types.BlobRun{
		RunID:     p.runID,
		Blob:      name,
		Status:    types.BlobProcessing,
		StartedAt: start.UTC(),
	}
	p.recordStatus(ctx, run)
	p.stats.IncrementTotalBlobs()

	acc, err := batch.New(p.cfg.BatchSize)
	if err != nil {
		return p.finish(ctx, run, start, err)
	}
	sc := scanner.New(r)

	p.phase(name, PhaseScanning)
	for {
		frag, ok := sc.Next()
		if !ok {
			break
		}

		rec, err := parser.ParseFragment(frag.Text)
		if err != nil {
			run.Malformed++
			p.stats.IncrementMalformedFragments()
			rec = nil
		} else {
			run.Records++
			p.stats.IncrementNormalizedRecords()
		}

		if records, ready := acc.Push(rec); ready {
			p.phase(name, PhaseUploading)
			if err := p.upload(ctx, run, records, false); err != nil {
				p.collectScan(run, sc, acc)
				return p.finish(ctx, run, start, err)
			}
			p.phase(name, PhaseScanning)
		}
	}
	p.collectScan(run, sc, acc)
	if err := sc.Err(); err != nil {
		return p.finish(ctx, run, start, err)
	}

	p.phase(name, PhaseFlushing)
	if records, ok := acc.Flush(); ok {
		if err := p.upload(ctx, run, records, true); err != nil {
			return p.finish(ctx, run, start, err)
		}
	}
	log.Println("Done!")

	return p.finish(ctx, run, start, nil)
}

func (p *Pipeline) collectScan(run *types.BlobRun, sc *scanner.Scanner, acc *batch.Accumulator) {
	st := sc.Stats()
	run.Lines = st.Lines
	run.Fragments = acc.Fragments()
	p.stats.AddLines(st.Lines, st.Fragments, st.Discarded)
}

func (p *Pipeline) upload(ctx context.Context, run *types.BlobRun, records []types.FlightRecord, final bool) error {
	// a cancelled run stops between batches
	if err := ctx.Err(); err != nil {
		return err
	}

	n := run.Batches + 1
	if err := p.sink.Upload(ctx, records); err != nil {
		p.stats.IncrementFailedUploads()
		return fmt.Errorf("%w: batch #%d (%d records): %w", ErrSinkUpload, n, len(records), err)
	}

	run.Batches = n
	run.Uploaded += uint64(len(records))
	p.stats.AddBatch(len(records))

	if final {
		log.Printf("Final batch sent! - #%d", n)
	} else {
		log.Printf("Batch sent! - #%d", n)
	}

	p.publish(&types.BatchEvent{
		RunID:     p.runID,
		Blob:      run.Blob,
		Batch:     n,
		Size:      len(records),
		Final:     final,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (p *Pipeline) publish(event *types.BatchEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishBatchEvent(event); err != nil {
		log.Printf("Warning: Failed to publish batch event: %v", err)
	}
}

// finish closes the blob lifecycle exactly once, successful or not
func (p *Pipeline) finish(ctx context.Context, run *types.BlobRun, start time.Time, procErr error) (*types.BlobRun, error) {
	elapsed := time.Since(start)
	run.FinishedAt = time.Now().UTC()
	run.Elapsed = elapsed
	run.Status = types.BlobDone
	if procErr != nil {
		run.Status = types.BlobFailed
		run.Error = procErr.Error()
		p.stats.IncrementFailedBlobs()
	}
	p.stats.AddProcessingTime(elapsed)

	log.Printf("--- %.2f seconds ---", elapsed.Seconds())

	// the outcome is recorded even when the run was cancelled
	p.recordStatus(context.WithoutCancel(ctx), run)
	if p.history != nil {
		if err := p.history.StoreBlobRun(run); err != nil {
			log.Printf("Warning: Failed to store blob run: %v", err)
		}
	}
	// published last so subscribers find the final status already cached
	p.publish(&types.BatchEvent{
		RunID:     p.runID,
		Blob:      run.Blob,
		Batch:     run.Batches,
		Status:    run.Status,
		Uploaded:  run.Uploaded,
		Timestamp: run.FinishedAt,
	})
	p.phase(run.Blob, PhaseDone)

	if procErr != nil {
		return run, fmt.Errorf("failed to process blob %s: %w", run.Blob, procErr)
	}
	return run, nil
}

func (p *Pipeline) recordStatus(ctx context.Context, run *types.BlobRun) {
	if p.status == nil {
		return
	}
	if err := p.status.SetBlobRun(ctx, run); err != nil {
		log.Printf("Warning: Failed to cache blob status: %v", err)
	}
}

// Run processes every blob under prefix sequentially, in enumeration order.
// Without ContinueOnError the first failed blob aborts the run.
func (p *Pipeline) Run(ctx context.Context, store BlobStore, prefix string) ([]*types.BlobRun, error) {
	blobs, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs under %q: %w", prefix, err)
	}

	var (
		runs []*types.BlobRun
		errs []error
	)
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		log.Printf("----- Processing ------: %s", blob.Name)
		run, err := p.processStored(ctx, store, blob.Name)
		if run != nil {
			runs = append(runs, run)
		}
		if err == nil {
			continue
		}
		if !p.cfg.ContinueOnError {
			return runs, err
		}
		log.Printf("Error processing blob %s: %v", blob.Name, err)
		errs = append(errs, err)
	}

	return runs, errors.Join(errs...)
}

func (p *Pipeline) processStored(ctx context.Context, store BlobStore, name string) (*types.BlobRun, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		p.stats.IncrementFailedBlobs()
		return nil, fmt.Errorf("failed to open blob %s: %w", name, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			log.Printf("Warning: error closing blob %s: %v", name, cerr)
		}
	}()

	return p.ProcessBlob(ctx, name, rc)
}
