package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/pkg/types"
)

// DefaultCallTimeout bounds a single provider request
const DefaultCallTimeout = 30 * time.Second

// BatcherConfig configures sub-batching
type BatcherConfig struct {
	BatchSize   int           // Texts per provider request (default: 20, max: 100)
	CallTimeout time.Duration // Per-request timeout (default: 30s)
}

// BatchResult holds one slot per input text, in input order.
// Vectors[i] is nil exactly when Errs[i] is non-nil.
type BatchResult struct {
	Vectors       [][]float32
	Errs          []error
	FailedBatches int
}

// Succeeded counts slots that received a vector
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, v := range r.Vectors {
		if v != nil {
			n++
		}
	}
	return n
}

// Batcher splits texts into provider-sized sub-batches and isolates the
// failure of any one sub-batch from the others.
type Batcher struct {
	provider    Provider
	cache       *Cache
	batchSize   int
	callTimeout time.Duration

	failedBatches atomic.Int64
}

// NewBatcher creates a Batcher. cache may be nil.
func NewBatcher(provider Provider, cache *Cache, cfg BatcherConfig) *Batcher {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Batcher{
		provider:    provider,
		cache:       cache,
		batchSize:   size,
		callTimeout: timeout,
	}
}

// BatchSize returns the number of texts sent per provider request
func (b *Batcher) BatchSize() int { return b.batchSize }

// Dimension returns the provider dimension
func (b *Batcher) Dimension() int { return b.provider.Dimension() }

// IsAvailable reports provider availability
func (b *Batcher) IsAvailable() bool { return b.provider.IsAvailable() }

// ProviderName returns the underlying provider name
func (b *Batcher) ProviderName() string { return b.provider.Name() }

// FailedBatches returns the number of failed sub-batches since creation
func (b *Batcher) FailedBatches() int64 { return b.failedBatches.Load() }

// EmbedBatch embeds texts, one provider request per sub-batch.
//
// Availability is checked once before anything is sent; if the provider is
// unavailable the call returns ErrProviderUnavailable and no slot is filled.
// Any later failure is confined to the slots of its sub-batch.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{
		Vectors: make([][]float32, len(texts)),
		Errs:    make([]error, len(texts)),
	}
	if len(texts) == 0 {
		return result, nil
	}

	if !b.provider.IsAvailable() {
		return nil, fmt.Errorf("%w: %s", types.ErrProviderUnavailable, b.provider.Name())
	}

	// Serve what we can from cache; queue the rest
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Errs[i] = fmt.Errorf("%w: empty text", types.ErrNoVector)
			continue
		}
		if b.cache != nil {
			if vec, ok := b.cache.Get(cacheKey(b.provider.Name(), text)); ok {
				result.Vectors[i] = vec
				continue
			}
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += b.batchSize {
		end := min(start+b.batchSize, len(pending))
		slots := pending[start:end]

		// Never sent, so not a provider failure
		if err := ctx.Err(); err != nil {
			for _, idx := range slots {
				result.Errs[idx] = err
			}
			continue
		}

		b.embedSubBatch(ctx, texts, slots, result)
	}

	return result, nil
}

// embedSubBatch makes one provider request for the given slots
func (b *Batcher) embedSubBatch(ctx context.Context, texts []string, slots []int, result *BatchResult) {
	batch := make([]string, len(slots))
	for j, idx := range slots {
		batch[j] = texts[idx]
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	vectors, err := b.provider.Embed(callCtx, batch)
	cancel()

	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
	}
	if err != nil {
		logger.Warn("embedding sub-batch failed",
			"provider", b.provider.Name(), "size", len(batch), "error", err)
		b.failSlots(result, slots, err)
		return
	}

	dim := b.provider.Dimension()
	for j, idx := range slots {
		vec := vectors[j]
		switch {
		case vec == nil:
			result.Errs[idx] = types.ErrNoVector
		case len(vec) != dim:
			result.Errs[idx] = fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vec), dim)
		default:
			result.Vectors[idx] = vec
			if b.cache != nil {
				b.cache.Set(cacheKey(b.provider.Name(), batch[j]), vec)
			}
		}
	}
}

func (b *Batcher) failSlots(result *BatchResult, slots []int, cause error) {
	b.failedBatches.Add(1)
	result.FailedBatches++
	err := fmt.Errorf("%w: %w", types.ErrProviderBatchFailure, cause)
	for _, idx := range slots {
		result.Errs[idx] = err
	}
}
