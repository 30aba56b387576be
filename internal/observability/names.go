// Package observability provides structured logging, OpenTelemetry metrics
// (Prometheus exporter) and optional tracing for the search service.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameRequestCount        = "historymemes_http_requests_total"
	MetricNameRequestDuration     = "historymemes_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge = "historymemes_request_body_too_large_total"
	MetricNameSearches            = "historymemes_searches_total"
	MetricNameSearchDuration      = "historymemes_search_duration_seconds"
	MetricNameEmbeddingDuration   = "historymemes_embedding_duration_seconds"
	MetricNameDatasetLoadDuration = "historymemes_dataset_load_duration_seconds"
	MetricNameDatasetRows         = "historymemes_dataset_rows"
	MetricNameImageFetches        = "historymemes_image_fetches_total"
	MetricNameCacheHits           = "historymemes_cache_hits_total"
	MetricNameCacheMisses         = "historymemes_cache_misses_total"
)

// Attribute keys.
const (
	AttrMode     = "mode"
	AttrModality = "modality"
	AttrSource   = "source"
	AttrStatus   = "status"
	AttrCache    = "cache"
)

// Cache names used as the cache attribute.
const (
	CacheDataset        = "dataset"
	CacheEmbeddingText  = "embedding_text"
	CacheEmbeddingImage = "embedding_image"
	CacheImage          = "image"
)

// Search statuses.
const (
	StatusSuccess = "success"
	StatusNoop    = "noop"
	StatusError   = "error"
)

var allowedCaches = map[string]bool{
	CacheDataset:        true,
	CacheEmbeddingText:  true,
	CacheEmbeddingImage: true,
	CacheImage:          true,
}

var allowedModes = map[string]bool{
	"text-to-text":   true,
	"text-to-image":  true,
	"image-to-image": true,
	"image-to-text":  true,
}

var allowedStatuses = map[string]bool{
	StatusSuccess: true,
	StatusNoop:    true,
	StatusError:   true,
}

var allowedSources = map[string]bool{
	"hub":      true,
	"snapshot": true,
}

var allowedModalities = map[string]bool{
	"text":  true,
	"image": true,
}

// normalize returns v when allowed, otherwise fallback. Keeps attribute cardinality bounded.
func normalize(v string, allowed map[string]bool, fallback string) string {
	if allowed[v] {
		return v
	}

	return fallback
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return normalize(name, allowedCaches, "other")
}

// NormalizeMode returns mode if it is a search mode slug, otherwise "unset".
func NormalizeMode(mode string) string {
	return normalize(mode, allowedModes, "unset")
}

// NormalizeStatus returns status if known, otherwise "other".
func NormalizeStatus(status string) string {
	return normalize(status, allowedStatuses, "other")
}
