package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all projectrag instruments
const MeterName = "github.com/dshills/projectrag"

// Metrics holds all pipeline metrics. A nil *Metrics records nothing.
type Metrics struct {
	SyncRuns          metric.Int64Counter
	SyncEntities      metric.Int64Counter
	SyncDuration      metric.Float64Histogram
	FailedBatches     metric.Int64Counter
	DocumentsIndexed  metric.Int64Counter
	IndexDuration     metric.Float64Histogram
	RetrievalRequests metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
}

// InitMetrics creates the instruments on the global meter provider
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	syncRuns, err := meter.Int64Counter(
		"projectrag.sync.runs",
		metric.WithDescription("Backfill sync runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	syncEntities, err := meter.Int64Counter(
		"projectrag.sync.entities",
		metric.WithDescription("Entities processed by backfill sync, by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"projectrag.sync.duration",
		metric.WithDescription("Backfill sync run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	failedBatches, err := meter.Int64Counter(
		"projectrag.embedding.failed_batches",
		metric.WithDescription("Embedding sub-batches that failed as a whole"),
	)
	if err != nil {
		return nil, err
	}

	documentsIndexed, err := meter.Int64Counter(
		"projectrag.index.documents",
		metric.WithDescription("Documents that finished indexing, by final status"),
	)
	if err != nil {
		return nil, err
	}

	indexDuration, err := meter.Float64Histogram(
		"projectrag.index.duration",
		metric.WithDescription("Document indexing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retrievalRequests, err := meter.Int64Counter(
		"projectrag.retrieval.requests",
		metric.WithDescription("Retrieval requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"projectrag.retrieval.duration",
		metric.WithDescription("Retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SyncRuns:          syncRuns,
		SyncEntities:      syncEntities,
		SyncDuration:      syncDuration,
		FailedBatches:     failedBatches,
		DocumentsIndexed:  documentsIndexed,
		IndexDuration:     indexDuration,
		RetrievalRequests: retrievalRequests,
		RetrievalDuration: retrievalDuration,
	}, nil
}

// RecordSyncRun records one finished (or rejected) sync run
func (m *Metrics) RecordSyncRun(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sync.outcome", outcome))
	m.SyncRuns.Add(ctx, 1, attrs)
	m.SyncDuration.Record(ctx, seconds, attrs)
}

// RecordSyncEntities records synced and failed counts for one entity kind
func (m *Metrics) RecordSyncEntities(ctx context.Context, kind string, synced, failed int) {
	if m == nil {
		return
	}
	if synced > 0 {
		m.SyncEntities.Add(ctx, int64(synced), metric.WithAttributes(
			attribute.String("entity.kind", kind),
			attribute.String("sync.result", "synced"),
		))
	}
	if failed > 0 {
		m.SyncEntities.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("entity.kind", kind),
			attribute.String("sync.result", "failed"),
		))
	}
}

// RecordFailedBatches records embedding sub-batch failures
func (m *Metrics) RecordFailedBatches(ctx context.Context, component string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FailedBatches.Add(ctx, int64(n), metric.WithAttributes(attribute.String("component", component)))
}

// RecordDocumentIndexed records a document reaching a terminal index status
func (m *Metrics) RecordDocumentIndexed(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("index.status", status))
	m.DocumentsIndexed.Add(ctx, 1, attrs)
	m.IndexDuration.Record(ctx, seconds, attrs)
}

// RecordRetrieval records one retrieval request
func (m *Metrics) RecordRetrieval(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("retrieval.outcome", outcome))
	m.RetrievalRequests.Add(ctx, 1, attrs)
	m.RetrievalDuration.Record(ctx, seconds, attrs)
}
