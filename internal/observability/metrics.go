package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/rjadr/historymemes/internal/config"
)

const (
	meterScope       = "github.com/rjadr/historymemes/internal/observability"
	cardinalityLimit = 2000
)

// latencyHistogramBoundaries are second-based buckets. Embedding calls and searches run
// from milliseconds (cache hit) to seconds (CLIP on CPU); dataset loads can take minutes.
var (
	latencyHistogramBoundaries = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	loadHistogramBoundaries    = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}
)

// MeterProvider bundles the SDK provider with the /metrics handler and the service meter.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewMeterProvider creates a MeterProvider backed by a Prometheus registry when
// cfg.OtelMetricsExporter is "prometheus". Otherwise returns (nil, nil).
func NewMeterProvider(cfg *config.Config) (*MeterProvider, error) {
	if cfg == nil || cfg.OtelMetricsExporter != "prometheus" {
		//nolint:nilnil // intentional: metrics disabled, caller checks for nil
		return nil, nil
	}

	res, err := newResource()
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			latencyView(MetricNameRequestDuration),
			latencyView(MetricNameSearchDuration),
			latencyView(MetricNameEmbeddingDuration),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameDatasetLoadDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: loadHistogramBoundaries}},
			),
		),
	)

	return &MeterProvider{
		provider: mp,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

func latencyView(name string) sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: name},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
	)
}

// Provider returns the SDK provider for instrumentation libraries such as otelhttp.
func (p *MeterProvider) Provider() metric.MeterProvider {
	return p.provider
}

// Meter returns the service meter. Safe to call on nil (returns nil: metrics disabled).
func (p *MeterProvider) Meter() metric.Meter {
	if p == nil {
		return nil
	}

	return p.provider.Meter(meterScope)
}

// Handler serves the Prometheus exposition format.
func (p *MeterProvider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and shuts down the provider. Safe to call with nil.
func (p *MeterProvider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}

	return nil
}
