package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)
	return m, reader
}

// sumFor returns the counter total for name restricted to points carrying attr
func sumFor(t *testing.T, reader *sdkmetric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRecordSyncEntities(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSyncEntities(ctx, "task", 3, 2)
	m.RecordSyncEntities(ctx, "project", 1, 0)

	assert.Equal(t, int64(4), sumFor(t, reader, "projectrag.sync.entities", attribute.String("sync.result", "synced")))
	assert.Equal(t, int64(2), sumFor(t, reader, "projectrag.sync.entities", attribute.String("sync.result", "failed")))
}

func TestRecordSyncRunAndRetrieval(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSyncRun(ctx, "completed", 1.5)
	m.RecordSyncRun(ctx, "already_running", 0)
	m.RecordRetrieval(ctx, "ok", 0.01)
	m.RecordFailedBatches(ctx, "backfill", 2)
	m.RecordFailedBatches(ctx, "backfill", 0)
	m.RecordDocumentIndexed(ctx, "INDEXED", 0.2)

	assert.Equal(t, int64(1), sumFor(t, reader, "projectrag.sync.runs", attribute.String("sync.outcome", "completed")))
	assert.Equal(t, int64(1), sumFor(t, reader, "projectrag.retrieval.requests", attribute.String("retrieval.outcome", "ok")))
	assert.Equal(t, int64(2), sumFor(t, reader, "projectrag.embedding.failed_batches", attribute.String("component", "backfill")))
	assert.Equal(t, int64(1), sumFor(t, reader, "projectrag.index.documents", attribute.String("index.status", "INDEXED")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordSyncRun(ctx, "completed", 1)
		m.RecordSyncEntities(ctx, "task", 1, 1)
		m.RecordFailedBatches(ctx, "x", 1)
		m.RecordDocumentIndexed(ctx, "FAILED", 1)
		m.RecordRetrieval(ctx, "ok", 1)
	})
}

func TestInitMetricsGlobalProvider(t *testing.T) {
	m, err := InitMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m.SyncRuns)
}
