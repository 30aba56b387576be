package middleware

import (
	"net/http"

	"github.com/rjadr/historymemes/internal/api/response"
)

// ReadinessChecker reports whether the dataset has finished loading.
type ReadinessChecker interface {
	Ready() bool
}

// RequireReady answers 503 until checker reports ready.
func RequireReady(checker ReadinessChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.Ready() {
				response.RespondServiceUnavailable(w, "Loading dataset. This could take a while...")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
