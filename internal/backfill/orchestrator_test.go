package backfill

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/pkg/types"
)

const testDim = 4

// mockProvider embeds every text as a fixed vector. Texts containing
// failMarker get no vector; onEmbed runs before each call returns.
type mockProvider struct {
	mu         sync.Mutex
	dim        int
	available  bool
	failMarker string
	vecLen     int // overrides dim for returned vectors when set
	onEmbed    func()
	calls      int
	texts      []string
}

func newMockProvider() *mockProvider {
	return &mockProvider{dim: testDim, available: true}
}

func (m *mockProvider) IsAvailable() bool { return m.available }
func (m *mockProvider) Dimension() int    { return m.dim }
func (m *mockProvider) Name() string      { return "mock" }
func (m *mockProvider) Close() error      { return nil }

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts = append(m.texts, texts...)
	hook := m.onEmbed
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if m.failMarker != "" && strings.Contains(text, m.failMarker) {
			continue
		}
		n := m.dim
		if m.vecLen > 0 {
			n = m.vecLen
		}
		vec := make([]float32, n)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newOrchestrator(store storage.Storage, p *mockProvider, batchSize int, opts ...Option) *Orchestrator {
	batcher := embedder.NewBatcher(p, nil, embedder.BatcherConfig{BatchSize: batchSize})
	return New(store, batcher, nil, Config{}, opts...)
}

// seed creates a project with n tasks and one document
func seed(t *testing.T, store storage.Storage, title string, n int) *storage.Project {
	t.Helper()
	ctx := context.Background()

	project := &storage.Project{Title: title, Description: "project " + title}
	require.NoError(t, store.CreateProject(ctx, project))
	for i := range n {
		task := &storage.Task{ProjectID: project.ID, Title: title + " task", Description: strings.Repeat("x", i+1)}
		require.NoError(t, store.CreateTask(ctx, task))
	}
	doc := &storage.Document{ProjectID: project.ID, Title: title + " spec", Content: "body"}
	require.NoError(t, store.CreateDocument(ctx, doc))
	return project
}

func missing(t *testing.T, store storage.Storage, kind types.EntityKind) []int64 {
	t.Helper()
	ids, err := store.FindMissingEmbeddings(context.Background(), kind)
	require.NoError(t, err)
	return ids
}

func TestSyncAll_EmbedsEveryKind(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 3)
	seed(t, store, "Gemini", 2)

	run, err := newOrchestrator(store, p, 2).SyncAll(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.False(t, run.Cancelled)
	assert.Empty(t, run.Errors)
	assert.Equal(t, Stats{Total: 2, Synced: 2}, run.Projects)
	assert.Equal(t, Stats{Total: 5, Synced: 5}, run.Tasks)
	assert.Equal(t, Stats{Total: 2, Synced: 2}, run.Documents)
	assert.Equal(t, 9, run.Synced())
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	for _, kind := range types.AllKinds {
		assert.Empty(t, missing(t, store, kind), kind)
	}
}

func TestSyncAll_Idempotent(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 2)
	o := newOrchestrator(store, p, 20)

	_, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	calls := p.callCount()

	run, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Projects.Total)
	assert.Zero(t, run.Tasks.Total)
	assert.Zero(t, run.Documents.Total)
	assert.Equal(t, calls, p.callCount(), "second run makes no provider calls")
}

func TestSyncAll_OnlyMissingRows(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := newMockProvider()
	embedded := seed(t, store, "Apollo", 0)
	seed(t, store, "Gemini", 0)
	require.NoError(t, store.UpsertEmbedding(ctx, types.KindProject, embedded.ID, []float32{0, 1, 0, 0}))

	run, err := newOrchestrator(store, p, 20).SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Synced: 1}, run.Projects)

	for _, text := range p.texts {
		assert.NotContains(t, text, "project Apollo")
	}
}

func TestSyncAll_MetadataEditTriggersResync(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := newMockProvider()
	project := seed(t, store, "Apollo", 0)
	o := newOrchestrator(store, p, 20)

	_, err := o.SyncAll(ctx)
	require.NoError(t, err)

	project.Description = "renamed scope"
	require.NoError(t, store.UpdateProject(ctx, project))
	assert.Equal(t, []int64{project.ID}, missing(t, store, types.KindProject))

	run, err := o.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Projects.Synced)
	assert.Contains(t, p.texts[len(p.texts)-1], "renamed scope")
}

func TestSyncAll_FailedRowsStayMissing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := newMockProvider()
	p.failMarker = "Broken"
	seed(t, store, "Apollo", 0)
	broken := seed(t, store, "Broken", 0)

	run, err := newOrchestrator(store, p, 20).SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Synced: 1, Failed: 1}, run.Projects)
	assert.Equal(t, []int64{broken.ID}, missing(t, store, types.KindProject))
}

func TestSyncAll_EmptyTextCountsAsFailed(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 2)

	o := newOrchestrator(store, p, 20, WithExtractor(types.KindTask, func(types.SourceText) string { return "" }))
	run, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Failed: 2}, run.Tasks)
	assert.Equal(t, Stats{Total: 1, Synced: 1}, run.Projects)
}

func TestSyncAll_CustomExtractor(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 0)

	o := newOrchestrator(store, p, 20, WithExtractor(types.KindDocument, func(s types.SourceText) string {
		return s.Title + "\n\n" + s.RawText
	}))
	_, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, p.texts, "Apollo spec\n\nbody")
}

func TestSyncAll_ProviderUnavailable(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	p.available = false
	seed(t, store, "Apollo", 1)
	lock := &IndexLock{}
	o := newOrchestrator(store, p, 20, WithLock(lock))

	run, err := o.SyncAll(context.Background())
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
	assert.Nil(t, run)
	assert.Zero(t, p.callCount())
	assert.False(t, lock.Held(), "lock released")
}

func TestSyncAll_AlreadyRunning(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p.onEmbed = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	lock := &IndexLock{}
	o := newOrchestrator(store, p, 20, WithLock(lock))

	type outcome struct {
		run *SyncRun
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		run, err := o.SyncAll(context.Background())
		done <- outcome{run, err}
	}()

	<-entered
	refused, err := o.SyncAll(context.Background())
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.Nil(t, refused)

	close(release)
	first := <-done
	require.NoError(t, first.err)
	require.NotNil(t, first.run)
	assert.Equal(t, Stats{Total: 1, Synced: 1}, first.run.Projects)
	assert.Equal(t, Stats{Total: 1, Synced: 1}, first.run.Tasks)
	assert.Equal(t, Stats{Total: 1, Synced: 1}, first.run.Documents)
	assert.Empty(t, first.run.Errors)
	assert.False(t, lock.Held())

	// A later run is free to start
	_, err = o.SyncAll(context.Background())
	assert.NoError(t, err)
}

func TestSyncAll_SharedLock(t *testing.T) {
	store := setupStore(t)
	lock := &IndexLock{}
	require.True(t, lock.TryAcquire())

	o := newOrchestrator(store, newMockProvider(), 20, WithLock(lock))
	_, err := o.SyncAll(context.Background())
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.True(t, lock.Held(), "a refused run does not release someone else's lock")
}

func TestSyncAll_CancellationFinishesInFlightBatch(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newMockProvider()
	for _, title := range []string{"A", "B", "C"} {
		require.NoError(t, store.CreateProject(ctx, &storage.Project{Title: title}))
	}
	// Cancel while the first sub-batch is with the provider
	p.onEmbed = cancel

	lock := &IndexLock{}
	run, err := newOrchestrator(store, p, 1, WithLock(lock)).SyncAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)

	assert.True(t, run.Cancelled)
	assert.Equal(t, 3, run.Projects.Total)
	assert.Equal(t, 1, run.Projects.Synced, "in-flight sub-batch was written")
	assert.Equal(t, 1, p.callCount(), "no sub-batch started after cancellation")
	assert.Len(t, missing(t, store, types.KindProject), 2)
	assert.False(t, lock.Held())
}

func TestSyncAll_DimensionMismatchStopsKind(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	p.dim = 3 // provider disagrees with the store
	seed(t, store, "Apollo", 1)

	run, err := newOrchestrator(store, p, 20).SyncAll(context.Background())
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	require.NotNil(t, run)
	assert.Zero(t, run.Synced())
	assert.Len(t, run.Errors, 3)
}

func TestSyncAll_WrongLengthVectorsStopKind(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	p.vecLen = 3 // declares testDim, returns shorter vectors
	seed(t, store, "Apollo", 2)

	run, err := newOrchestrator(store, p, 20).SyncAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	require.NotNil(t, run)
	assert.Zero(t, run.Synced())
	assert.Equal(t, Stats{Total: 1, Failed: 1}, run.Projects)
	assert.Equal(t, Stats{Total: 2, Failed: 2}, run.Tasks)
	assert.Len(t, run.Errors, 3, "every kind reports the mismatch")
	assert.Len(t, missing(t, store, types.KindTask), 2)
}

func TestSyncAll_PanicReleasesLock(t *testing.T) {
	store := setupStore(t)
	seed(t, store, "Apollo", 1)
	lock := &IndexLock{}

	o := newOrchestrator(store, newMockProvider(), 20,
		WithLock(lock),
		WithExtractor(types.KindTask, func(types.SourceText) string { panic("bad extractor") }))

	run, err := o.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad extractor")
	assert.Equal(t, 1, run.Projects.Synced)
	assert.False(t, lock.Held())
}

func TestSyncAll_BatchTimeoutIsBatchFailure(t *testing.T) {
	store := setupStore(t)
	p := newMockProvider()
	seed(t, store, "Apollo", 0)

	slow := &slowProvider{mockProvider: p, delay: 200 * time.Millisecond}
	batcher := embedder.NewBatcher(slow, nil, embedder.BatcherConfig{CallTimeout: 20 * time.Millisecond})
	o := New(store, batcher, nil, Config{})

	run, err := o.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Failed: 1}, run.Projects)
	assert.Equal(t, Stats{Total: 1, Failed: 1}, run.Documents)
	assert.Len(t, missing(t, store, types.KindProject), 1)
}

// slowProvider honours ctx while waiting out delay
type slowProvider struct {
	*mockProvider
	delay time.Duration
}

func (s *slowProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-time.After(s.delay):
		return s.mockProvider.Embed(ctx, texts)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestIndexLock(t *testing.T) {
	var lock IndexLock
	assert.False(t, lock.Held())
	assert.True(t, lock.TryAcquire())
	assert.False(t, lock.TryAcquire())
	assert.True(t, lock.Held())
	lock.Release()
	assert.True(t, lock.TryAcquire())
}
