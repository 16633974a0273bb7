package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit logs a security relevant gateway event such as a wallet login, a
// relayed transaction or a recorded claim fallback.
func Audit(r *http.Request, event string, attrs ...any) {
	ctx := r.Context()
	fields := append([]any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(ctx),
	}, attrs...)
	slog.InfoContext(ctx, "audit", fields...)
}

// AuditBackground is Audit for work that has no originating request, such as
// the claim reconciler.
func AuditBackground(ctx context.Context, event string, attrs ...any) {
	slog.InfoContext(ctx, "audit", append([]any{"event", event, "origin", "background"}, attrs...)...)
}
