package handlers

import (
	"log/slog"
	"net/http"
)

// ReadinessChecker reports whether the dataset has been loaded (implemented by service.ReadyDataset).
type ReadinessChecker interface {
	Ready() bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	ready ReadinessChecker
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(ready ReadinessChecker) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

// Ready handles GET /ready: 200 once the dataset is loaded, 503 before.
func (h *HealthHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Ready() {
		writeText(w, http.StatusServiceUnavailable, "loading")

		return
	}

	writeText(w, http.StatusOK, "OK")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}
