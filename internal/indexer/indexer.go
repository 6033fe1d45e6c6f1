package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/projectrag/internal/chunker"
	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/internal/telemetry"
	"github.com/dshills/projectrag/pkg/types"
)

// finalizeTimeout bounds the terminal state write once a document has been
// claimed, so a cancelled caller never leaves it PROCESSING.
const finalizeTimeout = 10 * time.Second

// Embedder is the part of the embedding batcher the indexer needs
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedder.BatchResult, error)
	IsAvailable() bool
}

// Indexer coordinates the document pipeline: chunk -> embed -> store -> state
type Indexer struct {
	storage  storage.Storage
	chunker  *chunker.Chunker
	embedder Embedder
	metrics  *telemetry.Metrics

	// Worker pool configuration
	workers int

	onChange func()
}

// Config contains configuration for the indexer
type Config struct {
	Workers int // Documents indexed concurrently by IndexPending (default: runtime.NumCPU())

	// OnChange is called after every committed index state change, so
	// readers holding derived data (the retrieval cache) can drop it.
	OnChange func()
}

// Result describes one IndexDocument call
type Result struct {
	DocumentID int64
	Status     types.IndexStatus
	Chunks     int
	Embedded   int
	Error      string
	Duration   time.Duration
}

// Statistics contains statistics about an IndexPending run
type Statistics struct {
	Documents     int
	Indexed       int
	Failed        int
	Skipped       int
	ChunksCreated int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Indexer instance. metrics may be nil.
func New(store storage.Storage, chk *chunker.Chunker, emb Embedder, metrics *telemetry.Metrics, cfg Config) *Indexer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{
		storage:  store,
		chunker:  chk,
		embedder: emb,
		metrics:  metrics,
		workers:  workers,
		onChange: cfg.OnChange,
	}
}

func (idx *Indexer) notify() {
	if idx.onChange != nil {
		idx.onChange()
	}
}

// CanTransition reports whether a document may move from one status to another
func CanTransition(from, to types.IndexStatus) bool {
	return from.CanTransitionTo(to)
}

// IndexDocument indexes one PENDING document.
//
// The document is claimed (PENDING -> PROCESSING) and its chunks replaced in
// one transaction, the chunks are embedded, and the vectors and terminal state
// are written in a second transaction. The document ends INDEXED only if every
// chunk received a vector; otherwise it ends FAILED with the partial count.
//
// If the provider is unavailable before the claim, the document is left
// PENDING and ErrProviderUnavailable is returned. A provider whose vectors do
// not match the store's dimension fails the document and the returned error
// wraps ErrDimensionMismatch. Any other error after the claim marks the
// document FAILED before it is returned.
func (idx *Indexer) IndexDocument(ctx context.Context, documentID int64) (*Result, error) {
	start := time.Now()

	if !idx.embedder.IsAvailable() {
		return nil, fmt.Errorf("%w: document %d left pending", types.ErrProviderUnavailable, documentID)
	}

	chunks, err := idx.claim(ctx, documentID)
	if err != nil {
		return nil, err
	}
	idx.notify()

	result := &Result{DocumentID: documentID, Chunks: len(chunks)}
	vectors, embedErr := idx.embedChunks(ctx, chunks)

	// The claim is ours; the terminal write must happen even if ctx is done
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	state, err := idx.finalize(finalCtx, documentID, chunks, vectors, embedErr)
	if err != nil {
		idx.markFailed(finalCtx, documentID, err)
		return nil, err
	}
	idx.notify()

	result.Status = state.Status
	result.Embedded = countVectors(vectors)
	if state.ErrorMessage != nil {
		result.Error = *state.ErrorMessage
	}
	result.Duration = time.Since(start)

	idx.metrics.RecordDocumentIndexed(ctx, string(result.Status), result.Duration.Seconds())
	logger.Info("document indexed",
		"document_id", documentID,
		"status", result.Status,
		"chunks", result.Chunks,
		"embedded", result.Embedded,
		"duration", result.Duration)

	if errors.Is(embedErr, types.ErrDimensionMismatch) {
		return result, fmt.Errorf("document %d: %w", documentID, embedErr)
	}
	return result, nil
}

// markFailed moves a claimed document out of PROCESSING after finalize
// could not write its terminal state. Best effort: a failure here is left to
// RecoverInterrupted.
func (idx *Indexer) markFailed(ctx context.Context, documentID int64, cause error) {
	err := idx.storage.TransitionIndexState(ctx, types.StatusProcessing, types.Failed(documentID, cause.Error()))
	if err != nil {
		logger.Error("failed to mark document failed",
			"document_id", documentID, "cause", cause, "error", err)
		return
	}
	idx.notify()
}

// claim moves the document to PROCESSING and replaces its chunks
func (idx *Indexer) claim(ctx context.Context, documentID int64) ([]types.Chunk, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.TransitionIndexState(ctx, types.StatusPending, types.Processing(documentID)); err != nil {
		return nil, err
	}

	doc, err := tx.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	chunks := chunker.Collect(idx.chunker.Chunks(documentID, doc.Content))
	saved, err := tx.ReplaceChunks(ctx, documentID, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

// embedChunks returns one vector slot per chunk. A non-nil error means no
// vector may be stored: either no chunk could be attempted or the provider
// returned vectors of the wrong dimension.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	batch, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return make([][]float32, len(chunks)), err
	}

	if batch.FailedBatches > 0 {
		idx.metrics.RecordFailedBatches(ctx, "indexer", batch.FailedBatches)
	}
	for i, err := range batch.Errs {
		if err == nil {
			continue
		}
		if errors.Is(err, types.ErrDimensionMismatch) {
			logger.Error("provider dimension does not match the store",
				"document_id", chunks[i].DocumentID, "error", err)
			return make([][]float32, len(chunks)), err
		}
		logger.Debug("chunk embedding failed",
			"document_id", chunks[i].DocumentID, "ordinal", chunks[i].Ordinal, "error", err)
	}
	return batch.Vectors, nil
}

// finalize stores the vectors that were produced and records the terminal state
func (idx *Indexer) finalize(ctx context.Context, documentID int64, chunks []types.Chunk, vectors [][]float32, embedErr error) (*types.IndexState, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state types.IndexState
	embedded := 0
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if err := tx.UpsertChunkEmbedding(ctx, chunks[i].ID, vec); err != nil {
			return nil, fmt.Errorf("store vector for chunk %d: %w", chunks[i].Ordinal, err)
		}
		embedded++
	}

	switch {
	case embedErr != nil:
		state = types.Failed(documentID, embedErr.Error())
	case embedded < len(chunks):
		state = types.Failed(documentID, fmt.Sprintf("embedded %d of %d chunks", embedded, len(chunks)))
	default:
		state = types.Indexed(documentID, len(chunks), time.Now().UTC())
	}

	if err := tx.TransitionIndexState(ctx, types.StatusProcessing, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &state, nil
}

// Resubmit returns an INDEXED or FAILED document to PENDING, clearing its
// error, and indexes it again.
func (idx *Indexer) Resubmit(ctx context.Context, documentID int64) (*Result, error) {
	state, err := idx.storage.GetIndexState(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(state.Status, types.StatusPending) {
		return nil, fmt.Errorf("%w: document %d is %s", types.ErrInvalidTransition, documentID, state.Status)
	}
	if err := idx.storage.TransitionIndexState(ctx, state.Status, types.Pending(documentID)); err != nil {
		return nil, err
	}
	idx.notify()
	return idx.IndexDocument(ctx, documentID)
}

// IndexPending indexes every PENDING document with a bounded worker pool.
// A document that cannot be indexed is counted and the rest continue.
// Provider unavailability, a provider dimension mismatch or cancellation
// stops new documents from starting; those left untouched are counted as
// skipped and stay PENDING.
func (idx *Indexer) IndexPending(ctx context.Context) (*Statistics, error) {
	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	ids, err := idx.storage.ListDocumentsByStatus(ctx, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}
	stats.Documents = len(ids)
	if len(ids) == 0 {
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	// Track progress with atomic counters
	var indexed, failed, chunks atomic.Int32
	var unavailable atomic.Bool
	var mismatch atomic.Pointer[error]
	var mu sync.Mutex // Protect stats.ErrorMessages

	var g errgroup.Group
	g.SetLimit(idx.workers)

	for _, id := range ids {
		// No new document starts once the provider is down or ctx is done
		if unavailable.Load() || mismatch.Load() != nil || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Queued behind the pool limit before the stop was seen
			if unavailable.Load() || mismatch.Load() != nil || ctx.Err() != nil {
				return nil
			}
			res, err := idx.IndexDocument(ctx, id)
			switch {
			case errors.Is(err, types.ErrProviderUnavailable):
				unavailable.Store(true)
				return nil
			case errors.Is(err, types.ErrDimensionMismatch):
				mismatch.CompareAndSwap(nil, &err)
				failed.Add(1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
				mu.Unlock()
				return nil
			case errors.Is(err, types.ErrInvalidTransition):
				// Claimed elsewhere or edited since listing
				return nil
			case err != nil:
				failed.Add(1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("document %d: %v", id, err))
				mu.Unlock()
				return nil
			}

			chunks.Add(int32(res.Chunks))
			if res.Status == types.StatusIndexed {
				indexed.Add(1)
				return nil
			}
			failed.Add(1)
			mu.Lock()
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("document %d: %s", id, res.Error))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Indexed = int(indexed.Load())
	stats.Failed = int(failed.Load())
	stats.Skipped = stats.Documents - stats.Indexed - stats.Failed
	stats.ChunksCreated = int(chunks.Load())
	stats.Duration = time.Since(startTime)

	if errp := mismatch.Load(); errp != nil {
		return stats, *errp
	}
	if unavailable.Load() {
		return stats, types.ErrProviderUnavailable
	}
	return stats, ctx.Err()
}

// RecoverInterrupted fails documents left PROCESSING by a previous run so
// they can be resubmitted. It returns the recovered ids.
func (idx *Indexer) RecoverInterrupted(ctx context.Context) ([]int64, error) {
	ids, err := idx.storage.ListDocumentsByStatus(ctx, types.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing documents: %w", err)
	}

	recovered := make([]int64, 0, len(ids))
	for _, id := range ids {
		err := idx.storage.TransitionIndexState(ctx, types.StatusProcessing, types.Failed(id, "indexing interrupted"))
		if errors.Is(err, types.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered = append(recovered, id)
	}
	if len(recovered) > 0 {
		logger.Warn("recovered interrupted documents", "count", len(recovered))
		idx.notify()
	}
	return recovered, nil
}

func countVectors(vectors [][]float32) int {
	n := 0
	for _, v := range vectors {
		if v != nil {
			n++
		}
	}
	return n
}
