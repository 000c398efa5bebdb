package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/ledgerline/ledgerline"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Ingestion metrics
	ReceiptsIngestedTotal metric.Int64Counter
	ReceiptsArchivedTotal metric.Int64Counter

	// Dedup cache metrics
	DedupHitsTotal   metric.Int64Counter
	DedupMissesTotal metric.Int64Counter

	// Extraction metrics
	ExtractionsTotal       metric.Int64Counter
	ExtractionErrorsTotal  metric.Int64Counter
	ExtractionDuration     metric.Float64Histogram
	ExtractionsSkippedDedup metric.Int64Counter

	// Destination sync metrics
	DestinationWritesTotal      metric.Int64Counter
	DestinationWriteErrorsTotal metric.Int64Counter
	SyncRunsTotal               metric.Int64Counter

	// Export job metrics
	ExportJobsQueuedTotal    metric.Int64Counter
	ExportJobsCompletedTotal metric.Int64Counter
	ExportJobsFailedTotal    metric.Int64Counter
	ExportRenderDuration     metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ReceiptsIngestedTotal, _ = meter.Int64Counter(
		"ledgerline.receipts.ingested.total",
		metric.WithDescription("Total number of receipts accepted for ingestion"),
		metric.WithUnit("{receipt}"),
	)

	m.ReceiptsArchivedTotal, _ = meter.Int64Counter(
		"ledgerline.receipts.archived.total",
		metric.WithDescription("Total number of receipts archived"),
		metric.WithUnit("{receipt}"),
	)

	m.DedupHitsTotal, _ = meter.Int64Counter(
		"ledgerline.dedup.hits.total",
		metric.WithDescription("Total number of dedup cache hits"),
		metric.WithUnit("{lookup}"),
	)

	m.DedupMissesTotal, _ = meter.Int64Counter(
		"ledgerline.dedup.misses.total",
		metric.WithDescription("Total number of dedup cache misses"),
		metric.WithUnit("{lookup}"),
	)

	m.ExtractionsTotal, _ = meter.Int64Counter(
		"ledgerline.extractions.total",
		metric.WithDescription("Total number of extraction service invocations"),
		metric.WithUnit("{extraction}"),
	)

	m.ExtractionErrorsTotal, _ = meter.Int64Counter(
		"ledgerline.extractions.errors.total",
		metric.WithDescription("Total number of failed extraction service invocations"),
		metric.WithUnit("{error}"),
	)

	m.ExtractionDuration, _ = meter.Float64Histogram(
		"ledgerline.extractions.duration",
		metric.WithDescription("Duration of extraction service invocations"),
		metric.WithUnit("ms"),
	)

	m.ExtractionsSkippedDedup, _ = meter.Int64Counter(
		"ledgerline.extractions.skipped_dedup.total",
		metric.WithDescription("Total number of extractions skipped due to a dedup cache hit"),
		metric.WithUnit("{extraction}"),
	)

	m.DestinationWritesTotal, _ = meter.Int64Counter(
		"ledgerline.destinations.writes.total",
		metric.WithDescription("Total number of rows written to live destinations"),
		metric.WithUnit("{row}"),
	)

	m.DestinationWriteErrorsTotal, _ = meter.Int64Counter(
		"ledgerline.destinations.write_errors.total",
		metric.WithDescription("Total number of per-record destination write failures"),
		metric.WithUnit("{error}"),
	)

	m.SyncRunsTotal, _ = meter.Int64Counter(
		"ledgerline.destinations.sync_runs.total",
		metric.WithDescription("Total number of destination sync runs"),
		metric.WithUnit("{run}"),
	)

	m.ExportJobsQueuedTotal, _ = meter.Int64Counter(
		"ledgerline.export_jobs.queued.total",
		metric.WithDescription("Total number of export jobs queued for background execution"),
		metric.WithUnit("{job}"),
	)

	m.ExportJobsCompletedTotal, _ = meter.Int64Counter(
		"ledgerline.export_jobs.completed.total",
		metric.WithDescription("Total number of export jobs completed"),
		metric.WithUnit("{job}"),
	)

	m.ExportJobsFailedTotal, _ = meter.Int64Counter(
		"ledgerline.export_jobs.failed.total",
		metric.WithDescription("Total number of export jobs failed"),
		metric.WithUnit("{job}"),
	)

	m.ExportRenderDuration, _ = meter.Float64Histogram(
		"ledgerline.exports.render.duration",
		metric.WithDescription("Duration of export artifact rendering"),
		metric.WithUnit("ms"),
	)

	return m
}
