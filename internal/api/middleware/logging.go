package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logging writes one access log line per request. It runs inside otelhttp so the
// request context carries the span, and the trace-aware slog handler adds trace_id.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo

		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics":
			level = slog.LevelDebug
		}

		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
