package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/pkg/types"
)

const testDim = 4

// mockProvider maps known query texts to fixed vectors
type mockProvider struct {
	mu        sync.Mutex
	available bool
	vectors   map[string][]float32
	callErr   error
	onEmbed   func()
	calls     int
}

func (m *mockProvider) IsAvailable() bool { return m.available }
func (m *mockProvider) Dimension() int    { return testDim }
func (m *mockProvider) Name() string      { return "mock" }
func (m *mockProvider) Close() error      { return nil }

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.onEmbed != nil {
		m.onEmbed()
	}
	if m.callErr != nil {
		return nil, m.callErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectors[text]
	}
	return out, nil
}

type fixture struct {
	store    *storage.SQLiteStorage
	provider *mockProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		store: store,
		provider: &mockProvider{
			available: true,
			vectors: map[string][]float32{
				"launch window": {1, 0, 0, 0},
				"budget":        {0, 1, 0, 0},
			},
		},
	}
}

func (f *fixture) searcher(cfg Config) *Searcher {
	batcher := embedder.NewBatcher(f.provider, nil, embedder.BatcherConfig{})
	return NewSearcher(f.store, batcher, nil, cfg)
}

// addIndexedDocument stores a document with one embedded chunk per vector
// and marks it INDEXED
func (f *fixture) addIndexedDocument(t *testing.T, projectID int64, vectors ...[]float32) int64 {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{ProjectID: projectID, Title: "Plan", Content: "content"}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	chunks := make([]types.Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = types.Chunk{Ordinal: i, Text: "chunk", Start: i * 5, End: i*5 + 5}
	}
	saved, err := f.store.ReplaceChunks(ctx, doc.ID, chunks)
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, f.store.UpsertChunkEmbedding(ctx, saved[i].ID, v))
	}

	require.NoError(t, f.store.TransitionIndexState(ctx, types.StatusPending, types.Processing(doc.ID)))
	require.NoError(t, f.store.TransitionIndexState(ctx, types.StatusProcessing,
		types.Indexed(doc.ID, len(vectors), time.Now())))
	return doc.ID
}

func (f *fixture) addProject(t *testing.T, title string) int64 {
	t.Helper()
	p := &storage.Project{Title: title}
	require.NoError(t, f.store.CreateProject(context.Background(), p))
	return p.ID
}

func TestRetrieve_RanksWithinProject(t *testing.T) {
	f := newFixture(t)
	projectID := f.addProject(t, "Apollo")
	docID := f.addIndexedDocument(t, projectID,
		[]float32{0, 1, 0, 0},
		[]float32{1, 0, 0, 0},
		[]float32{0.8, 0.2, 0, 0},
	)

	s := f.searcher(Config{MaxK: 10})
	ret, err := s.Retrieve(context.Background(), projectID, "launch window", 2)
	require.NoError(t, err)
	require.Len(t, ret.Results, 2)
	assert.Equal(t, 1, ret.Results[0].Chunk.Ordinal)
	assert.Equal(t, 2, ret.Results[1].Chunk.Ordinal)
	assert.Equal(t, docID, ret.Results[0].Chunk.DocumentID)
	assert.Equal(t, "Plan", ret.Results[0].DocumentTitle)
	assert.Empty(t, ret.IncompleteDocuments)
}

func TestRetrieve_NoCrossProjectLeakage(t *testing.T) {
	f := newFixture(t)
	projectA := f.addProject(t, "A")
	projectB := f.addProject(t, "B")
	docA := f.addIndexedDocument(t, projectA, []float32{0.5, 0.5, 0, 0})
	f.addIndexedDocument(t, projectB, []float32{1, 0, 0, 0}, []float32{0.9, 0.1, 0, 0})

	s := f.searcher(Config{})
	ret, err := s.Retrieve(context.Background(), projectA, "launch window", 10)
	require.NoError(t, err)
	require.Len(t, ret.Results, 1)
	assert.Equal(t, docA, ret.Results[0].Chunk.DocumentID)
	assert.Equal(t, projectA, ret.Results[0].ProjectID)
}

func TestRetrieve_KGreaterThanChunkCount(t *testing.T) {
	f := newFixture(t)
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0})

	s := f.searcher(Config{})
	ret, err := s.Retrieve(context.Background(), projectID, "budget", 20)
	require.NoError(t, err)
	assert.Len(t, ret.Results, 2)
}

func TestRetrieve_ClampsToMaxK(t *testing.T) {
	f := newFixture(t)
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}, []float32{0, 0, 1, 0})

	s := f.searcher(Config{MaxK: 2})
	ret, err := s.Retrieve(context.Background(), projectID, "budget", 3)
	require.NoError(t, err)
	assert.Len(t, ret.Results, 2)
	assert.Equal(t, 2, s.MaxK())
}

func TestRetrieve_InvalidInput(t *testing.T) {
	f := newFixture(t)
	s := f.searcher(Config{})

	_, err := s.Retrieve(context.Background(), 1, "budget", 0)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = s.Retrieve(context.Background(), 1, "  ", 5)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	assert.Zero(t, f.provider.calls)
}

func TestRetrieve_EmbeddingFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *mockProvider)
		query   string
		wantErr error
		notErr  error
	}{
		{
			name:    "provider unavailable",
			setup:   func(p *mockProvider) { p.available = false },
			query:   "budget",
			wantErr: types.ErrProviderUnavailable,
			notErr:  types.ErrNoVector,
		},
		{
			name:    "provider call failed",
			setup:   func(p *mockProvider) { p.callErr = errors.New("connection reset") },
			query:   "budget",
			wantErr: types.ErrProviderUnavailable,
			notErr:  types.ErrNoVector,
		},
		{
			name:    "no vector for text",
			setup:   func(p *mockProvider) {},
			query:   "unknown query",
			wantErr: types.ErrNoVector,
			notErr:  types.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			projectID := f.addProject(t, "Apollo")
			tt.setup(f.provider)

			_, err := f.searcher(Config{}).Retrieve(context.Background(), projectID, tt.query, 5)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, tt.notErr)
		})
	}
}

func TestRetrieve_ReportsIncompleteDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0})

	pending := &storage.Document{ProjectID: projectID, Title: "Draft", Content: "not yet indexed"}
	require.NoError(t, f.store.CreateDocument(ctx, pending))

	ret, err := f.searcher(Config{}).Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Len(t, ret.Results, 1)
	assert.Equal(t, []int64{pending.ID}, ret.IncompleteDocuments)
}

// leakyStorage returns neighbors from whatever project they belong to
type leakyStorage struct {
	storage.Storage
	foreignProject int64
}

func (l *leakyStorage) NearestNeighbors(ctx context.Context, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	return l.Storage.NearestNeighbors(ctx, l.foreignProject, vector, k)
}

func TestRetrieve_DetectsCrossScopeLeak(t *testing.T) {
	f := newFixture(t)
	projectA := f.addProject(t, "A")
	projectB := f.addProject(t, "B")
	f.addIndexedDocument(t, projectB, []float32{1, 0, 0, 0})

	batcher := embedder.NewBatcher(f.provider, nil, embedder.BatcherConfig{})
	s := NewSearcher(&leakyStorage{Storage: f.store, foreignProject: projectB}, batcher, nil, Config{})

	_, err := s.Retrieve(context.Background(), projectA, "launch window", 5)
	assert.ErrorIs(t, err, types.ErrCrossScopeLeak)
}

func TestRetrieve_QueryCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0})

	s := f.searcher(Config{CacheTTL: time.Minute})

	first, err := s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	second, err := s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, f.provider.calls, "second query served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.CacheLen())

	// Cached copies are independent of the caller's
	second.Results[0].Score = -1
	third, err := s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, third.Results[0].Score)

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
	_, err = s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, f.provider.calls)
}

func TestRetrieve_CachedRankingReportsReopenedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.addProject(t, "Apollo")
	docID := f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0})

	s := f.searcher(Config{CacheTTL: time.Minute})
	ret, err := s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Empty(t, ret.IncompleteDocuments)

	reopened, err := f.store.UpdateDocumentContent(ctx, docID, "rewritten plan")
	require.NoError(t, err)
	require.True(t, reopened)

	ret, err = s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls, "ranking still cached")
	assert.Equal(t, []int64{docID}, ret.IncompleteDocuments)
}

func TestRetrieve_InvalidationDuringSearchIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0})

	s := f.searcher(Config{CacheTTL: time.Minute})
	f.provider.onEmbed = s.InvalidateCache

	_, err := s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Zero(t, s.CacheLen(), "ranking computed before the invalidation is dropped")

	f.provider.onEmbed = nil
	_, err = s.Retrieve(ctx, projectID, "launch window", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CacheLen())
}

func TestRetrieve_CancelledQuery(t *testing.T) {
	f := newFixture(t)
	projectID := f.addProject(t, "Apollo")
	s := f.searcher(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Retrieve(ctx, projectID, "launch window", 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrNoVector)
	assert.NotErrorIs(t, err, types.ErrProviderUnavailable)
	assert.Zero(t, f.provider.calls)
}

func TestRetrieve_CacheDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.addProject(t, "Apollo")
	f.addIndexedDocument(t, projectID, []float32{1, 0, 0, 0})

	s := f.searcher(Config{})
	for range 2 {
		_, err := s.Retrieve(ctx, projectID, "budget", 5)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.provider.calls)
	assert.Zero(t, s.CacheLen())
}

func TestComputeQueryHash(t *testing.T) {
	base := computeQueryHash(1, "budget", 5)
	assert.Equal(t, base, computeQueryHash(1, "budget", 5))
	assert.NotEqual(t, base, computeQueryHash(2, "budget", 5))
	assert.NotEqual(t, base, computeQueryHash(1, "budget", 6))
	assert.NotEqual(t, base, computeQueryHash(1, "Budget", 5))
}
