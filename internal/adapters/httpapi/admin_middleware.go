package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// NewAdminTokenMiddleware enforces Authorization: Bearer <token> on staff routes.
// An empty token disables the routes: every request gets 404.
func NewAdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			if raw == "" {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
