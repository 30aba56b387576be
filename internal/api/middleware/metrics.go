package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/rjadr/historymemes/internal/observability"
)

// numericSegment matches a path segment made of digits (image row indices).
var numericSegment = regexp.MustCompile(`/[0-9]+(/|$)`)

// Metrics records request count and duration. When metrics is nil, recording is skipped.
// Put Metrics outermost so duration is full request time.
func Metrics(metrics observability.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path), rec.status, time.Since(start))
		})
	}
}

// normalizeRoute replaces numeric path segments with {row} to bound cardinality.
func normalizeRoute(path string) string {
	return numericSegment.ReplaceAllString(path, "/{row}$1")
}
