package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/internal/telemetry"
	"github.com/dshills/projectrag/pkg/types"
)

// DefaultMaxK caps k when Config.MaxK is unset
const DefaultMaxK = 50

// Embedder is the part of the embedding batcher retrieval needs
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedder.BatchResult, error)
}

// Config contains configuration for the searcher
type Config struct {
	MaxK      int           // Upper bound on k; larger requests are clamped
	CacheSize int           // Query cache entries (default: 1000)
	CacheTTL  time.Duration // Zero disables the query cache
}

// cacheEntry holds the ranked chunks of one query. Index state is never
// cached.
type cacheEntry struct {
	results   []types.RetrievalResult
	expiresAt time.Time
}

// Searcher answers project-scoped nearest-neighbor queries
type Searcher struct {
	storage  storage.Storage
	embedder Embedder
	metrics  *telemetry.Metrics
	maxK     int

	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL time.Duration
	cacheMu  sync.RWMutex
	cacheGen atomic.Uint64 // bumped by InvalidateCache
}

// NewSearcher creates a new Searcher instance. metrics may be nil.
func NewSearcher(store storage.Storage, emb Embedder, metrics *telemetry.Metrics, cfg Config) *Searcher {
	maxK := cfg.MaxK
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1000
	}

	cache, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  store,
		embedder: emb,
		metrics:  metrics,
		maxK:     maxK,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
	}
}

// MaxK returns the clamp applied to k
func (s *Searcher) MaxK() int { return s.maxK }

// Retrieve returns up to k chunks of the project's documents most similar to
// query, best first. k above MaxK is clamped; k <= 0 is ErrInvalidInput.
//
// Embedding failures are split in two: ErrProviderUnavailable when the
// provider could not be reached or the call failed or timed out (retry
// later), and ErrNoVector when the provider answered without a vector.
func (s *Searcher) Retrieve(ctx context.Context, projectID int64, query string, k int) (ret *types.Retrieval, err error) {
	startTime := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "searcher.Retrieve",
		attribute.Int64("project_id", projectID), attribute.Int("k", k))
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.RecordRetrieval(ctx, retrievalOutcome(err), time.Since(startTime).Seconds())
	}()

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidInput, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if k > s.maxK {
		k = s.maxK
	}

	key := computeQueryHash(projectID, query, k)
	results, hit := s.checkCache(key)
	if !hit {
		results, err = s.search(ctx, key, projectID, query, k)
		if err != nil {
			return nil, err
		}
	}

	// Read on every call; a cached ranking must not hide a reopened document
	incomplete, err := s.storage.IncompleteDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete documents: %w", err)
	}

	return &types.Retrieval{Results: results, IncompleteDocuments: incomplete}, nil
}

// search embeds the query, ranks the project's chunks and caches the ranking
func (s *Searcher) search(ctx context.Context, key [32]byte, projectID int64, query string, k int) ([]types.RetrievalResult, error) {
	gen := s.cacheGen.Load()

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.storage.NearestNeighbors(ctx, projectID, vector, k)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor search failed: %w", err)
	}
	for _, r := range results {
		if r.ProjectID != projectID {
			logger.Error("retrieval crossed project scope",
				"project_id", projectID, "chunk_id", r.Chunk.ID, "chunk_project_id", r.ProjectID)
			return nil, fmt.Errorf("%w: chunk %d belongs to project %d, not %d",
				types.ErrCrossScopeLeak, r.Chunk.ID, r.ProjectID, projectID)
		}
	}

	s.storeInCache(key, gen, results)
	return results, nil
}

// embedQuery embeds the query as a one-element batch
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	batch, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		if errors.Is(err, types.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrProviderUnavailable, err)
	}

	if slotErr := batch.Errs[0]; slotErr != nil {
		switch {
		case errors.Is(slotErr, context.Canceled), errors.Is(slotErr, context.DeadlineExceeded):
			// The caller gave up before the call was sent
			return nil, slotErr
		case errors.Is(slotErr, types.ErrProviderBatchFailure):
			return nil, fmt.Errorf("%w: %w", types.ErrProviderUnavailable, slotErr)
		case errors.Is(slotErr, types.ErrNoVector), errors.Is(slotErr, types.ErrDimensionMismatch):
			return nil, slotErr
		default:
			return nil, fmt.Errorf("%w: %w", types.ErrNoVector, slotErr)
		}
	}
	return batch.Vectors[0], nil
}

func retrievalOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, types.ErrNoVector):
		return "no_vector"
	case errors.Is(err, types.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, types.ErrCrossScopeLeak):
		return "scope_leak"
	default:
		return "error"
	}
}

// checkCache looks up a cached ranking, dropping it if expired
func (s *Searcher) checkCache(key [32]byte) ([]types.RetrievalResult, bool) {
	if s.cacheTTL <= 0 {
		return nil, false
	}

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	s.cacheMu.RUnlock()
	if !found {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil, false
	}
	return copyResults(entry.results), true
}

// storeInCache saves a copy of the ranking unless the cache was invalidated
// since gen was read
func (s *Searcher) storeInCache(key [32]byte, gen uint64, results []types.RetrievalResult) {
	if s.cacheTTL <= 0 {
		return
	}
	entry := &cacheEntry{
		results:   copyResults(results),
		expiresAt: time.Now().Add(s.cacheTTL),
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen.Load() != gen {
		return
	}
	s.cache.Add(key, entry)
}

// InvalidateCache drops every cached query. The indexer calls it on every
// index state change.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cacheGen.Add(1)
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached queries
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

func copyResults(src []types.RetrievalResult) []types.RetrievalResult {
	if src == nil {
		return nil
	}
	dst := make([]types.RetrievalResult, len(src))
	copy(dst, src)
	return dst
}

// computeQueryHash keys the cache on project, k and query text
func computeQueryHash(projectID int64, query string, k int) [32]byte {
	h := sha256.New()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(projectID))
	binary.LittleEndian.PutUint64(buf[8:], uint64(k))
	h.Write(buf[:])
	h.Write([]byte(query))

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
