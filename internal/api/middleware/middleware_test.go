package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjadr/historymemes/internal/observability"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestAuth(t *testing.T) {
	h := Auth("secret")(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer secret", http.StatusOK},
		{"case-insensitive scheme", "bearer secret", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"no key", "Bearer", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("disabled without key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Auth("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/search", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	for _, bad := range []string{"", "has space", strings.Repeat("a", maxRequestIDBytes+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, bad)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Len(t, seen, 36, "generated UUID for %q", bad)
		assert.Equal(t, seen, rec.Header().Get(requestIDHeader))
	}
}

type tooLargeRecorder struct{ n int }

func (r *tooLargeRecorder) RecordRequestBodyTooLarge(context.Context) { r.n++ }

func TestMaxBody(t *testing.T) {
	readAll := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusCreated)
	})

	recorder := &tooLargeRecorder{}
	h := MaxBody(8, recorder)(readAll)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader("small")))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader("definitely too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, recorder.n)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRequireReady(t *testing.T) {
	ready := false
	h := RequireReady(readyFunc(func() bool { return ready }))(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	ready = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type readyFunc func() bool

func (f readyFunc) Ready() bool { return f() }

type requestRecorder struct {
	route  string
	status int
}

func (r *requestRecorder) RecordRequest(_ context.Context, _, route string, status int, _ time.Duration) {
	r.route = route
	r.status = status
}

func (r *requestRecorder) RecordRequestBodyTooLarge(context.Context) {}

func TestMetrics(t *testing.T) {
	m := &requestRecorder{}
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/1234", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/images/{row}", m.route)
	assert.Equal(t, http.StatusNotFound, m.status)

	assert.Equal(t, "/v1/search", normalizeRoute("/v1/search"))
}

func TestLogging_PassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Logging(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
