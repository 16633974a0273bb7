package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
)

const AdminKeyHeader = "X-Api-Key"

// RequireAdminKey guards operator routes. With no key configured every request
// is refused.
func RequireAdminKey(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(AdminKeyHeader)
			if presented == "" {
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing api key", nil)
				return
			}
			if !adminKeyMatches(adminKey, presented) {
				observability.Audit(r, "admin.key_rejected")
				response.Error(w, r, http.StatusForbidden, response.CodeForbidden, "invalid api key", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AdminContextKey, true)))
		})
	}
}

func adminKeyMatches(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
