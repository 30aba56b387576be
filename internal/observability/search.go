package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SearchMetrics records the search pipeline: queries, embeddings, dataset loading, image proxying.
type SearchMetrics interface {
	RecordSearch(ctx context.Context, mode, status string, duration time.Duration)
	RecordEmbedding(ctx context.Context, modality, status string, duration time.Duration)
	RecordDatasetLoad(ctx context.Context, source string, rows int, duration time.Duration)
	RecordImageFetch(ctx context.Context, status string)
}

type searchMetrics struct {
	searches          metric.Int64Counter
	searchDuration    metric.Float64Histogram
	embeddingDuration metric.Float64Histogram
	loadDuration      metric.Float64Histogram
	imageFetches      metric.Int64Counter
	rows              atomic.Int64
	rowsGauge         metric.Int64ObservableGauge
}

// NewSearchMetrics creates SearchMetrics and registers the dataset size gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewSearchMetrics(meter metric.Meter) (SearchMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &searchMetrics{}

	var err error

	m.searches, err = meter.Int64Counter(MetricNameSearches,
		metric.WithDescription("Searches by mode and status (success, noop, error)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create searches counter: %w", err)
	}

	m.searchDuration, err = meter.Float64Histogram(MetricNameSearchDuration,
		metric.WithDescription("End-to-end search duration (embed + k-NN) in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search duration histogram: %w", err)
	}

	m.embeddingDuration, err = meter.Float64Histogram(MetricNameEmbeddingDuration,
		metric.WithDescription("CLIP embedding call duration in seconds (cache misses only)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding duration histogram: %w", err)
	}

	m.loadDuration, err = meter.Float64Histogram(MetricNameDatasetLoadDuration,
		metric.WithDescription("Dataset load duration by source (hub, snapshot) in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dataset load duration histogram: %w", err)
	}

	m.imageFetches, err = meter.Int64Counter(MetricNameImageFetches,
		metric.WithDescription("Image asset fetches from the hub by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create image fetches counter: %w", err)
	}

	m.rowsGauge, err = meter.Int64ObservableGauge(MetricNameDatasetRows,
		metric.WithDescription("Records in the loaded dataset"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.rows.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create dataset rows gauge: %w", err)
	}

	return m, nil
}

func (m *searchMetrics) RecordSearch(ctx context.Context, mode, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrMode, NormalizeMode(mode)),
		attribute.String(AttrStatus, NormalizeStatus(status)),
	)
	m.searches.Add(ctx, 1, attrs)
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *searchMetrics) RecordEmbedding(ctx context.Context, modality, status string, duration time.Duration) {
	m.embeddingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrModality, normalize(modality, allowedModalities, "other")),
		attribute.String(AttrStatus, NormalizeStatus(status)),
	))
}

func (m *searchMetrics) RecordDatasetLoad(ctx context.Context, source string, rows int, duration time.Duration) {
	m.rows.Store(int64(rows))
	m.loadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrSource, normalize(source, allowedSources, "other")),
	))
}

func (m *searchMetrics) RecordImageFetch(ctx context.Context, status string) {
	m.imageFetches.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStatus, NormalizeStatus(status))))
}
