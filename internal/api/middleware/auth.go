// Package middleware provides the HTTP middleware chain of the API server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rjadr/historymemes/internal/api/response"
)

// Auth requires "Authorization: Bearer <apiKey>" on every request. An empty apiKey disables
// the check so local deployments work without configuration.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.RespondUnauthorized(w, "Missing Authorization header")

				return
			}

			scheme, key, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				response.RespondUnauthorized(w, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(apiKey)) != 1 {
				response.RespondUnauthorized(w, "Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
