package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric collectors. When metrics are disabled the whole struct is nil;
// components receive the field they need and handle a nil interface.
type Metrics struct {
	Search SearchMetrics
	Cache  CacheMetrics
	API    APIMetrics
}

// NewMetrics creates every collector from meter. Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	search, err := NewSearchMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("search metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{Search: search, Cache: cache, API: api}, nil
}
