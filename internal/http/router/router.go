package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/d4l-network/d4l-gateway/internal/health"
	"github.com/d4l-network/d4l-gateway/internal/http/handler"
	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/security"
)

const maxRequestBody = 1 << 20

type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	RPCHandler         *handler.RPCHandler
	TransactionHandler *handler.TransactionHandler
	ProfileHandler     *handler.ProfileHandler
	ClaimHandler       *handler.ClaimHandler
	MerkleHandler      *handler.MerkleHandler
	AnalyticsHandler   *handler.AnalyticsHandler
	AdminHandler       *handler.AdminHandler
	ContractHandler    *handler.ContractHandler
	Sessions           middleware.SessionVerifier
	JWTManager         *security.JWTManager
	AdminAPIKey        string
	CORSOrigins        []string
	AuthRateLimitRPM   int
	APIRateLimitRPM    int
	GlobalRateLimiter  GlobalRateLimiterFunc
	AuthRateLimiter    AuthRateLimiterFunc
	Idempotency        IdempotencyMiddlewareFactory
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type IdempotencyMiddlewareFactory func(scope string) func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(maxRequestBody))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(middleware.RateLimiterOptions{
			Policy: middleware.PerMinute(dep.APIRateLimitRPM),
			Key:    middleware.WalletOrIPKey(dep.JWTManager),
			Bypass: middleware.AdminKeyBypass(dep.AdminAPIKey),
		}).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(middleware.RateLimiterOptions{
			Policy: middleware.PerMinute(dep.AuthRateLimitRPM),
			Scope:  "auth",
		}).Middleware()
	}
	requireSession := middleware.RequireSession(dep.Sessions)
	sessionOrAdmin := middleware.RequireSessionOrAdminKey(dep.Sessions, dep.AdminAPIKey)
	idempotent := func(scope string, chain ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
		if dep.Idempotency != nil {
			chain = append(chain, dep.Idempotency(scope))
		}
		return chain
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/nonce", dep.AuthHandler.Nonce)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.Post("/logout", dep.AuthHandler.Logout)
			r.With(requireSession).Get("/verify", dep.AuthHandler.Verify)
			r.With(requireSession).Get("/sessions", dep.AuthHandler.Sessions)
			r.With(requireSession).Post("/logout-all", dep.AuthHandler.LogoutAll)
		})

		r.With(requireSession).Post("/rpc", dep.RPCHandler.Proxy)
		r.With(idempotent("transaction", sessionOrAdmin)...).Post("/transaction", dep.TransactionHandler.Execute)

		r.Route("/fallback/profile", func(r chi.Router) {
			r.Get("/", dep.ProfileHandler.Get)
			r.With(sessionOrAdmin).Post("/", dep.ProfileHandler.Upsert)
			r.With(sessionOrAdmin).Patch("/", dep.ProfileHandler.MarkClaimed)
		})

		r.With(idempotent("claim", sessionOrAdmin)...).Post("/claim", dep.ClaimHandler.Claim)
		r.Get("/claim/status", dep.ClaimHandler.Status)
		r.Get("/merkle/proof", dep.MerkleHandler.Proof)

		r.Post("/analytics/event", dep.AnalyticsHandler.Event)
		r.Post("/analytics/session", dep.AnalyticsHandler.Session)

		r.Get("/contracts", dep.ContractHandler.Directory)
		r.Post("/contracts/read", dep.ContractHandler.Read)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdminKey(dep.AdminAPIKey))
			r.Get("/claims", dep.AdminHandler.ListClaims)
			r.Post("/claims/reconcile", dep.AdminHandler.Reconcile)
			r.With(idempotent("admin.claims.resolve")...).Patch("/claims/{id}", dep.AdminHandler.ResolveClaim)
			r.Get("/analytics/summary", dep.AdminHandler.AnalyticsSummary)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
