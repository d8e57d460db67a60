package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns the CORS middleware for the operator API. With no allowed
// origins the API is same-origin only and requests pass through untouched.
// Ingestion endpoints are server-to-server and are never wrapped.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		// Matches the operator routes: reads, sync/admin actions, ref remaps
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		// Bearer tokens, no cookies
		AllowCredentials: false,
		MaxAge:           600,
	})
}
