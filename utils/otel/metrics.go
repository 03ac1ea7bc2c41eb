package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names shared by InitMetrics and the histogram views.
const (
	BatchDurationName  = "search_sync_batch_duration_seconds"
	JobDurationName    = "search_sync_job_duration_seconds"
	SearchDurationName = "search_sync_search_duration_seconds"
)

// Bucket boundaries in seconds. Bulk calls run up to the bulk timeout and
// rebuild jobs up to their 30 minute policy timeout, far past the SDK's
// default buckets.
var (
	BatchDurationBuckets  = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	JobDurationBuckets    = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 600, 1200, 1800}
	SearchDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all OTel metric instruments for search-sync. It stays nil
// when OTel is disabled; every recording method is nil-safe.
var Metrics *SearchSyncMetrics

// SearchSyncMetrics contains all metric instruments.
type SearchSyncMetrics struct {
	IndexedTotal   metric.Int64Counter
	SkippedTotal   metric.Int64Counter
	DeletedTotal   metric.Int64Counter
	ErrorsTotal    metric.Int64Counter
	RebuildsTotal  metric.Int64Counter
	RejectedTotal  metric.Int64Counter
	ThrottledTotal metric.Int64Counter
	BatchDuration  metric.Float64Histogram
	JobDuration    metric.Float64Histogram
	SearchDuration metric.Float64Histogram
}

// InitMetrics initializes all metric instruments.
func InitMetrics() error {
	meter := otel.Meter("search-sync")
	m := &SearchSyncMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.IndexedTotal, "search_sync_indexed_total", "Documents written to an index"},
		{&m.SkippedTotal, "search_sync_skipped_total", "Writes skipped because a rebuild already covers them"},
		{&m.DeletedTotal, "search_sync_deleted_total", "Documents deleted from an index"},
		{&m.ErrorsTotal, "search_sync_errors_total", "Failed operations"},
		{&m.RebuildsTotal, "search_sync_rebuilds_total", "Rebuilds by outcome"},
		{&m.RejectedTotal, "search_sync_rejected_total", "Rebuild requests rejected while another is in flight"},
		{&m.ThrottledTotal, "search_sync_throttled_total", "Jobs delayed by rate limit or exception breaker"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	batchDuration, err := meter.Float64Histogram(BatchDurationName,
		metric.WithDescription("Bulk call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(BatchDurationBuckets...),
	)
	if err != nil {
		return err
	}

	jobDuration, err := meter.Float64Histogram(JobDurationName,
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(JobDurationBuckets...),
	)
	if err != nil {
		return err
	}

	searchDuration, err := meter.Float64Histogram(SearchDurationName,
		metric.WithDescription("Search request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(SearchDurationBuckets...),
	)
	if err != nil {
		return err
	}

	m.BatchDuration = batchDuration
	m.JobDuration = jobDuration
	m.SearchDuration = searchDuration
	Metrics = m

	return nil
}

func (m *SearchSyncMetrics) Indexed(ctx context.Context, index string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.IndexedTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("index", index)))
}

func (m *SearchSyncMetrics) Skipped(ctx context.Context, index string) {
	if m == nil {
		return
	}
	m.SkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("index", index)))
}

func (m *SearchSyncMetrics) Deleted(ctx context.Context, index string) {
	if m == nil {
		return
	}
	m.DeletedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("index", index)))
}

func (m *SearchSyncMetrics) Error(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// Rebuild counts a rebuild reaching outcome (started, finalized, aborted, failed).
func (m *SearchSyncMetrics) Rebuild(ctx context.Context, index, outcome string) {
	if m == nil {
		return
	}
	m.RebuildsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("index", index),
		attribute.String("outcome", outcome),
	))
}

func (m *SearchSyncMetrics) Rejected(ctx context.Context, index string) {
	if m == nil {
		return
	}
	m.RejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("index", index)))
}

func (m *SearchSyncMetrics) Throttled(ctx context.Context, queue, reason string) {
	if m == nil {
		return
	}
	m.ThrottledTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("reason", reason),
	))
}

func (m *SearchSyncMetrics) ObserveBatch(ctx context.Context, index string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("index", index)))
}

func (m *SearchSyncMetrics) ObserveJob(ctx context.Context, jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("status", status),
	))
}

func (m *SearchSyncMetrics) ObserveSearch(ctx context.Context, index string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("index", index)))
}
