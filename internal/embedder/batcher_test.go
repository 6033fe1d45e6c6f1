package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectrag/pkg/types"
)

// mockProvider returns a vector derived from each text's length. Calls
// whose first text contains failMarker fail as a whole.
type mockProvider struct {
	mu         sync.Mutex
	dim        int
	available  bool
	failMarker string
	noVector   string
	wrongDim   string
	delay      time.Duration
	calls      [][]string
}

func newMockProvider(dim int) *mockProvider {
	return &mockProvider{dim: dim, available: true}
}

func (m *mockProvider) IsAvailable() bool { return m.available }
func (m *mockProvider) Dimension() int    { return m.dim }
func (m *mockProvider) Name() string      { return "mock" }
func (m *mockProvider) Close() error      { return nil }

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failMarker != "" {
		for _, t := range texts {
			if strings.Contains(t, m.failMarker) {
				return nil, errors.New("upstream 503")
			}
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case m.noVector != "" && t == m.noVector:
			out[i] = nil
		case m.wrongDim != "" && t == m.wrongDim:
			out[i] = make([]float32, m.dim+1)
		default:
			v := make([]float32, m.dim)
			v[0] = float32(len(t))
			out[i] = v
		}
	}
	return out, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestNewBatcher_ClampsBatchSize(t *testing.T) {
	p := newMockProvider(4)

	assert.Equal(t, DefaultBatchSize, NewBatcher(p, nil, BatcherConfig{}).BatchSize())
	assert.Equal(t, MaxBatchSize, NewBatcher(p, nil, BatcherConfig{BatchSize: 1000}).BatchSize())
	assert.Equal(t, 7, NewBatcher(p, nil, BatcherConfig{BatchSize: 7}).BatchSize())
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	p := newMockProvider(4)
	b := NewBatcher(p, nil, BatcherConfig{BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	result, err := b.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, result.Vectors, len(texts))
	for i, text := range texts {
		require.NoError(t, result.Errs[i])
		assert.Equal(t, float32(len(text)), result.Vectors[i][0], "slot %d", i)
	}
	assert.Equal(t, 3, p.callCount(), "5 texts at batch size 2 need 3 calls")
	assert.Equal(t, 0, result.FailedBatches)
	assert.Equal(t, 5, result.Succeeded())
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	p := newMockProvider(4)
	result, err := NewBatcher(p, nil, BatcherConfig{}).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Vectors)
	assert.Equal(t, 0, p.callCount())
}

func TestEmbedBatch_SubBatchFailureIsIsolated(t *testing.T) {
	p := newMockProvider(4)
	p.failMarker = "poison"
	b := NewBatcher(p, nil, BatcherConfig{BatchSize: 2})

	texts := []string{"ok-1", "ok-2", "poison", "ok-4", "ok-5"}
	result, err := b.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	// Second sub-batch (slots 2 and 3) fails as a unit
	for _, i := range []int{0, 1, 4} {
		assert.NoError(t, result.Errs[i], "slot %d", i)
		assert.NotNil(t, result.Vectors[i], "slot %d", i)
	}
	for _, i := range []int{2, 3} {
		assert.ErrorIs(t, result.Errs[i], types.ErrProviderBatchFailure, "slot %d", i)
		assert.Nil(t, result.Vectors[i], "slot %d", i)
	}

	assert.Equal(t, 1, result.FailedBatches)
	assert.Equal(t, int64(1), b.FailedBatches())
	assert.Equal(t, 3, p.callCount())
}

func TestEmbedBatch_FailedBatchCounterAccumulates(t *testing.T) {
	p := newMockProvider(4)
	p.failMarker = "x"
	b := NewBatcher(p, nil, BatcherConfig{BatchSize: 1})

	_, err := b.EmbedBatch(context.Background(), []string{"x1", "x2"})
	require.NoError(t, err)
	_, err = b.EmbedBatch(context.Background(), []string{"x3"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), b.FailedBatches())
}

func TestEmbedBatch_ProviderUnavailable(t *testing.T) {
	p := newMockProvider(4)
	p.available = false
	b := NewBatcher(p, nil, BatcherConfig{})

	result, err := b.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
	assert.Nil(t, result)
	assert.Equal(t, 0, p.callCount(), "no request may be sent when unavailable")
}

func TestEmbedBatch_NoVectorAndBlankText(t *testing.T) {
	p := newMockProvider(4)
	p.noVector = "silence"
	b := NewBatcher(p, nil, BatcherConfig{})

	result, err := b.EmbedBatch(context.Background(), []string{"hello", "silence", "   "})
	require.NoError(t, err)

	assert.NotNil(t, result.Vectors[0])
	assert.ErrorIs(t, result.Errs[1], types.ErrNoVector)
	assert.ErrorIs(t, result.Errs[2], types.ErrNoVector)
	assert.NotErrorIs(t, result.Errs[1], types.ErrProviderBatchFailure)
	assert.Equal(t, 0, result.FailedBatches)

	require.Len(t, p.calls, 1)
	assert.Equal(t, []string{"hello", "silence"}, p.calls[0], "blank text is never sent")
}

func TestEmbedBatch_DimensionMismatchSlot(t *testing.T) {
	p := newMockProvider(4)
	p.wrongDim = "odd"
	b := NewBatcher(p, nil, BatcherConfig{})

	result, err := b.EmbedBatch(context.Background(), []string{"even", "odd"})
	require.NoError(t, err)

	assert.NoError(t, result.Errs[0])
	assert.ErrorIs(t, result.Errs[1], types.ErrDimensionMismatch)
	assert.Nil(t, result.Vectors[1])
}

func TestEmbedBatch_CacheHitsSkipProvider(t *testing.T) {
	p := newMockProvider(4)
	cache := NewCache(100)
	b := NewBatcher(p, cache, BatcherConfig{})

	_, err := b.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())

	result, err := b.EmbedBatch(context.Background(), []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded())

	require.Equal(t, 2, p.callCount())
	assert.Equal(t, []string{"gamma"}, p.calls[1], "only cache misses are sent")
}

func TestEmbedBatch_TimeoutIsBatchFailure(t *testing.T) {
	p := newMockProvider(4)
	p.delay = time.Second
	b := NewBatcher(p, nil, BatcherConfig{CallTimeout: 20 * time.Millisecond})

	result, err := b.EmbedBatch(context.Background(), []string{"slow"})
	require.NoError(t, err)

	assert.ErrorIs(t, result.Errs[0], types.ErrProviderBatchFailure)
	assert.ErrorIs(t, result.Errs[0], context.DeadlineExceeded)
	assert.Equal(t, 1, result.FailedBatches)
}

func TestEmbedBatch_CancelledContextSkipsCalls(t *testing.T) {
	p := newMockProvider(4)
	b := NewBatcher(p, nil, BatcherConfig{BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := b.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.callCount())
	for _, slotErr := range result.Errs {
		assert.ErrorIs(t, slotErr, context.Canceled)
		assert.NotErrorIs(t, slotErr, types.ErrProviderBatchFailure)
	}
	assert.Equal(t, 0, result.FailedBatches)
	assert.Equal(t, int64(0), b.FailedBatches(), "unsent sub-batches are not provider failures")
}
