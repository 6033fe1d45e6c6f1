package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/internal/telemetry"
	"github.com/dshills/projectrag/pkg/types"
)

// DefaultBatchTimeout bounds one sub-batch (provider call and writes) once
// it has started, including after the run is cancelled.
const DefaultBatchTimeout = 2 * embedder.DefaultCallTimeout

// TextExtractor produces the text embedded for a source row
type TextExtractor func(types.SourceText) string

// Embedder is the part of the embedding batcher the orchestrator needs
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedder.BatchResult, error)
	IsAvailable() bool
	BatchSize() int
}

// Stats counts one kind's rows in a run. Rows neither synced nor failed were
// not reached before cancellation.
type Stats struct {
	Total  int
	Synced int
	Failed int
}

// SyncRun describes one SyncAll call
type SyncRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Projects   Stats
	Tasks      Stats
	Documents  Stats
	Cancelled  bool
	Errors     []string
}

// StatsFor returns the counters for kind
func (r *SyncRun) StatsFor(kind types.EntityKind) *Stats {
	switch kind {
	case types.KindProject:
		return &r.Projects
	case types.KindTask:
		return &r.Tasks
	case types.KindDocument:
		return &r.Documents
	}
	return nil
}

// Failed returns the failed count across all kinds
func (r *SyncRun) Failed() int {
	return r.Projects.Failed + r.Tasks.Failed + r.Documents.Failed
}

// Synced returns the synced count across all kinds
func (r *SyncRun) Synced() int {
	return r.Projects.Synced + r.Tasks.Synced + r.Documents.Synced
}

// Config contains configuration for the orchestrator
type Config struct {
	BatchSize    int           // Rows per sub-batch (default: the embedder's batch size)
	BatchTimeout time.Duration // Per sub-batch bound (default: DefaultBatchTimeout)
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLock replaces the default in-process lock, for example with one shared
// between orchestrators.
func WithLock(lock TryLocker) Option {
	return func(o *Orchestrator) { o.lock = lock }
}

// WithExtractor overrides the text extractor for one kind
func WithExtractor(kind types.EntityKind, fn TextExtractor) Option {
	return func(o *Orchestrator) { o.extractors[kind] = fn }
}

// Orchestrator brings every project, task and document summary embedding up
// to date. At most one run is in flight per lock.
type Orchestrator struct {
	storage  storage.Storage
	embedder Embedder
	metrics  *telemetry.Metrics
	lock     TryLocker

	extractors   map[types.EntityKind]TextExtractor
	batchSize    int
	batchTimeout time.Duration
}

// New creates an Orchestrator. metrics may be nil.
func New(store storage.Storage, emb Embedder, metrics *telemetry.Metrics, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		storage:      store,
		embedder:     emb,
		metrics:      metrics,
		lock:         &IndexLock{},
		extractors:   make(map[types.EntityKind]TextExtractor, len(types.AllKinds)),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
	}
	for _, kind := range types.AllKinds {
		o.extractors[kind] = types.SourceText.Summary
	}
	if o.batchSize <= 0 {
		o.batchSize = emb.BatchSize()
	}
	if o.batchTimeout <= 0 {
		o.batchTimeout = DefaultBatchTimeout
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SyncAll embeds every row whose summary embedding is missing.
//
// A second call while a run is in flight returns ErrAlreadyRunning at once.
// If the provider is unavailable nothing is attempted and
// ErrProviderUnavailable is returned. Kinds are synced concurrently and
// independently; a failed row only counts as failed and stays missing for
// the next run.
//
// On cancellation the sub-batches already started finish and are written,
// no new sub-batch starts, and the run is returned marked Cancelled together
// with the context error. Errors that stop a kind (a dimension mismatch, a
// storage failure) are joined into the returned error; the partial run is
// still returned.
func (o *Orchestrator) SyncAll(ctx context.Context) (run *SyncRun, err error) {
	if !o.lock.TryAcquire() {
		return nil, types.ErrAlreadyRunning
	}
	defer o.lock.Release()

	if !o.embedder.IsAvailable() {
		return nil, types.ErrProviderUnavailable
	}

	run = &SyncRun{ID: uuid.New(), StartedAt: time.Now().UTC()}

	ctx, span := telemetry.StartSpan(ctx, "backfill.SyncAll", attribute.String("run_id", run.ID.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	logger.Info("sync started", "run_id", run.ID)

	kindErrs := make([]error, len(types.AllKinds))
	var g errgroup.Group
	for i, kind := range types.AllKinds {
		stats := run.StatsFor(kind)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic syncing %s: %v", kind, r)
				}
				kindErrs[i] = err
			}()
			return o.syncKind(ctx, kind, stats)
		})
	}
	_ = g.Wait()

	run.FinishedAt = time.Now().UTC()
	run.Cancelled = ctx.Err() != nil
	for _, kerr := range kindErrs {
		if kerr != nil {
			run.Errors = append(run.Errors, kerr.Error())
		}
	}

	err = errors.Join(kindErrs...)
	if run.Cancelled {
		err = errors.Join(err, ctx.Err())
	}

	o.record(ctx, run, err)
	return run, err
}

// syncKind processes one kind's missing rows in sub-batches
func (o *Orchestrator) syncKind(ctx context.Context, kind types.EntityKind, stats *Stats) error {
	if ctx.Err() != nil {
		return nil
	}
	ids, err := o.storage.FindMissingEmbeddings(ctx, kind)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	stats.Total = len(ids)

	for start := 0; start < len(ids); start += o.batchSize {
		if ctx.Err() != nil {
			logger.Warn("sync cancelled", "kind", kind, "remaining", len(ids)-start)
			return nil
		}
		end := min(start+o.batchSize, len(ids))

		// A started sub-batch runs to completion regardless of ctx
		batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.batchTimeout)
		err := o.syncBatch(batchCtx, kind, ids[start:end], stats)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// syncBatch embeds and stores one sub-batch. Only errors that should stop
// the kind are returned; per-row failures are counted.
func (o *Orchestrator) syncBatch(ctx context.Context, kind types.EntityKind, ids []int64, stats *Stats) error {
	sources, err := o.storage.LoadSourceTexts(ctx, kind, ids)
	if err != nil {
		return err
	}
	// Rows deleted since the scan
	stats.Failed += len(ids) - len(sources)

	extract := o.extractors[kind]
	texts := make([]string, 0, len(sources))
	targets := make([]int64, 0, len(sources))
	for _, src := range sources {
		text := extract(src)
		if text == "" {
			logger.Debug("empty summary text", "kind", kind, "id", src.ID)
			stats.Failed++
			continue
		}
		texts = append(texts, text)
		targets = append(targets, src.ID)
	}
	if len(texts) == 0 {
		return nil
	}

	result, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		stats.Failed += len(texts)
		return err
	}
	if result.FailedBatches > 0 {
		o.metrics.RecordFailedBatches(ctx, "backfill", result.FailedBatches)
	}

	for i, vec := range result.Vectors {
		if vec == nil {
			if errors.Is(result.Errs[i], types.ErrDimensionMismatch) {
				// Every later row would fail the same way
				stats.Failed += len(result.Vectors) - i
				return fmt.Errorf("embed %s %d: %w", kind, targets[i], result.Errs[i])
			}
			logger.Debug("no embedding for row", "kind", kind, "id", targets[i], "error", result.Errs[i])
			stats.Failed++
			continue
		}
		err := o.storage.UpsertEmbedding(ctx, kind, targets[i], vec)
		switch {
		case err == nil:
			stats.Synced++
		case errors.Is(err, types.ErrNotFound):
			stats.Failed++
		default:
			// Dimension mismatches and storage errors stop the kind
			stats.Failed += len(result.Vectors) - i
			return err
		}
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, run *SyncRun, err error) {
	outcome := "ok"
	switch {
	case run.Cancelled:
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}

	for _, kind := range types.AllKinds {
		s := run.StatsFor(kind)
		o.metrics.RecordSyncEntities(ctx, string(kind), s.Synced, s.Failed)
	}
	o.metrics.RecordSyncRun(ctx, outcome, run.FinishedAt.Sub(run.StartedAt).Seconds())

	logger.Info("sync finished",
		"run_id", run.ID,
		"outcome", outcome,
		"projects", run.Projects,
		"tasks", run.Tasks,
		"documents", run.Documents,
		"duration", run.FinishedAt.Sub(run.StartedAt))
	if err != nil {
		logger.Error("sync errors", "run_id", run.ID, "error", err)
	}
}
