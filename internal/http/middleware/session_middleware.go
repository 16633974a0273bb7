package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type contextKey string

const (
	SessionContextKey contextKey = "wallet_session"
	AdminContextKey   contextKey = "admin_key"
)

// SessionVerifier is the part of the auth service the middleware needs.
type SessionVerifier interface {
	Verify(ctx context.Context, raw string) (*service.SessionInfo, error)
}

// SessionToken returns the raw session token from the session cookie or a
// bearer header, and where it came from.
func SessionToken(r *http.Request) (string, string) {
	if raw := security.GetCookie(r, security.SessionCookieName); raw != "" {
		return raw, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

func RequireSession(auth SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := authenticate(w, r, auth)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SessionContextKey, info)))
		})
	}
}

// RequireSessionOrAdminKey lets trusted back-office callers use the admin key
// in place of a wallet session.
func RequireSessionOrAdminKey(auth SessionVerifier, adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if presented := r.Header.Get(AdminKeyHeader); presented != "" {
				if !adminKeyMatches(adminKey, presented) {
					observability.Audit(r, "admin.key_rejected")
					response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid api key", nil)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AdminContextKey, true)))
				return
			}
			info, ok := authenticate(w, r, auth)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SessionContextKey, info)))
		})
	}
}

func authenticate(w http.ResponseWriter, r *http.Request, auth SessionVerifier) (*service.SessionInfo, bool) {
	raw, source := SessionToken(r)
	if raw == "" {
		observability.RecordSessionTokenValidation(r.Context(), "missing", source)
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing session", nil)
		return nil, false
	}
	info, err := auth.Verify(r.Context(), raw)
	if err != nil {
		observability.RecordSessionTokenValidation(r.Context(), "invalid", source)
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired session", nil)
		return nil, false
	}
	observability.RecordSessionTokenValidation(r.Context(), "valid", source)
	return info, true
}

func SessionFromContext(ctx context.Context) (*service.SessionInfo, bool) {
	s, ok := ctx.Value(SessionContextKey).(*service.SessionInfo)
	return s, ok
}

func IsAdminRequest(ctx context.Context) bool {
	v, _ := ctx.Value(AdminContextKey).(bool)
	return v
}
