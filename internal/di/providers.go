package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/d4l-network/d4l-gateway/internal/app"
	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/config"
	"github.com/d4l-network/d4l-gateway/internal/database"
	"github.com/d4l-network/d4l-gateway/internal/health"
	"github.com/d4l-network/d4l-gateway/internal/http/handler"
	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/router"
	"github.com/d4l-network/d4l-gateway/internal/merkle"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/rpcproxy"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

const (
	redisKeyPrefix = "d4l"
	idempotencyTTL = 24 * time.Hour
)

type logging struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func provideLogging(ctx context.Context, cfg *config.Config) (logging, error) {
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return logging{}, err
	}
	slog.SetDefault(logger)
	return logging{logger: logger, provider: lp}, nil
}

func provideLogger(l logging) *slog.Logger { return l.logger }

func provideLoggerProvider(l logging) *sdklog.LoggerProvider { return l.provider }

func provideObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(ctx context.Context, cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

// provideRedis returns a nil client when Redis is not configured; every
// Redis-backed store then falls back to its in-process variant.
func provideRedis(cfg *config.Config) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }, nil
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
}

func provideCookieOptions(cfg *config.Config) security.CookieOptions {
	return security.CookieOptions{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
}

func provideNonceStore(client redis.UniversalClient) service.NonceStore {
	if client == nil {
		return service.NewInMemoryNonceStore()
	}
	return service.NewRedisNonceStore(client, redisKeyPrefix+":nonce")
}

func provideSessionStateCache(cfg *config.Config, client redis.UniversalClient) service.SessionStateCache {
	switch {
	case client != nil:
		return service.NewRedisSessionStateCache(client, redisKeyPrefix+":session_state")
	case cfg.UseInMemoryCache:
		return service.NewInMemorySessionStateCache()
	default:
		return service.NewNoopSessionStateCache()
	}
}

func provideAdminListCache(cfg *config.Config, client redis.UniversalClient) service.AdminListCacheStore {
	switch {
	case client != nil:
		return service.NewRedisAdminListCacheStore(client, redisKeyPrefix+":admin_list")
	case cfg.UseInMemoryCache:
		return service.NewInMemoryAdminListCacheStore()
	default:
		return service.NewNoopAdminListCacheStore()
	}
}

func provideIdempotencyStore(client redis.UniversalClient) service.IdempotencyStore {
	if client == nil {
		return service.NewInMemoryIdempotencyStore()
	}
	return service.NewRedisIdempotencyStore(client, redisKeyPrefix+":idem")
}

func provideClaimLocker(client redis.UniversalClient) service.ClaimLocker {
	if client == nil {
		return service.NewInMemoryClaimLocker()
	}
	return service.NewRedisClaimLocker(client, redisKeyPrefix+":claim_lock")
}

func provideChainBackend(ctx context.Context, cfg *config.Config) (*ethclient.Client, func(), error) {
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainCallTimeout)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// provideSigner returns nil without an admin key: the gateway still serves
// reads, and every relayed write reports the signer as unavailable.
func provideSigner(cfg *config.Config, backend *ethclient.Client, logger *slog.Logger) (*chain.Signer, func(), error) {
	if cfg.AdminPrivateKey == "" {
		logger.Warn("ADMIN_PRIVATE_KEY not set, relay disabled")
		return nil, func() {}, nil
	}
	signer, err := chain.NewSigner(backend, cfg.AdminPrivateKey, cfg.ChainID, cfg.ChainCallTimeout, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("relay signer ready", "relayer", signer.From().Hex())
	return signer, signer.Close, nil
}

func provideFacade(cfg *config.Config, backend *ethclient.Client, signer *chain.Signer, logger *slog.Logger) (*chain.Facade, error) {
	var sender chain.TxSender
	if signer != nil {
		sender = signer
	}
	opts := chain.FacadeOptions{
		ChainID:        cfg.ChainID,
		CallTimeout:    cfg.ChainCallTimeout,
		ReceiptTimeout: cfg.TxReceiptTimeout,
		PollInterval:   cfg.TxPollInterval,
	}
	if cfg.UseInMemoryCache {
		opts.CacheSize = cfg.ReadCacheSize
		opts.CacheTTL = cfg.ReadCacheTTL
	}
	return chain.NewFacade(backend, chain.NewRegistry(), sender, opts, logger)
}

func provideMerkleTree(cfg *config.Config, logger *slog.Logger) (*merkle.Tree, error) {
	if cfg.MerkleAllowlistPath == "" {
		return nil, nil
	}
	tree, err := merkle.LoadTree(cfg.MerkleAllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("load merkle allowlist: %w", err)
	}
	logger.Info("merkle allowlist loaded", "root", tree.Root().Hex())
	return tree, nil
}

func provideRPCProxy(cfg *config.Config) *rpcproxy.Proxy {
	return rpcproxy.New(rpcproxy.Options{
		URL:     cfg.RPCURL,
		Timeout: cfg.RPCTimeout,
		RPS:     cfg.RPCProxyRPS,
		Burst:   cfg.RPCProxyBurst,
	})
}

func provideAuthService(cfg *config.Config, nonces service.NonceStore, sessions repository.SessionRepository, stateCache service.SessionStateCache, jwtMgr *security.JWTManager) *service.AuthService {
	return service.NewAuthService(nonces, sessions, stateCache, jwtMgr, cfg.AuthNonceTTL, cfg.AuthSessionTTL)
}

func provideRelayService(cfg *config.Config, facade *chain.Facade, profiles repository.ProfileRepository, logger *slog.Logger) *service.RelayService {
	return service.NewRelayService(facade, profiles, cfg.TokenDecimals, logger)
}

func provideClaimService(relay *service.RelayService, claims repository.ClaimRepository, profiles repository.ProfileRepository, merkleSvc *service.MerkleService, listCache service.AdminListCacheStore, logger *slog.Logger) *service.ClaimService {
	return service.NewClaimService(relay, claims, profiles, merkleSvc, listCache, logger)
}

func provideReconciler(cfg *config.Config, relay *service.RelayService, claims repository.ClaimRepository, profiles repository.ProfileRepository, locker service.ClaimLocker, listCache service.AdminListCacheStore, logger *slog.Logger) *service.Reconciler {
	return service.NewReconciler(relay, claims, profiles, locker, listCache, service.ReconcilerOptions{
		Interval:    cfg.ReconcileInterval,
		BatchSize:   cfg.ReconcileBatchSize,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		Concurrency: cfg.ReconcileConcurrency,
		LockTTL:     cfg.ReconcileLockTTL,
	}, logger)
}

func provideAnalyticsService(cfg *config.Config, repo repository.AnalyticsRepository, listCache service.AdminListCacheStore, logger *slog.Logger) *service.AnalyticsService {
	return service.NewAnalyticsService(repo, listCache, cfg.AnalyticsBufferSize, logger)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient, facade *chain.Facade) *health.ProbeRunner {
	checkers := []health.Checker{health.DBChecker(db), health.ChainChecker(facade)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, time.Second, checkers...)
}

func provideGlobalRateLimiter(cfg *config.Config, client redis.UniversalClient, jwtMgr *security.JWTManager) router.GlobalRateLimiterFunc {
	opts := middleware.RateLimiterOptions{
		Policy: middleware.PerMinute(cfg.APIRateLimitRPM),
		Mode:   middleware.FailureMode(cfg.RateLimitMode),
		Scope:  "api",
		Key:    middleware.WalletOrIPKey(jwtMgr),
		Bypass: middleware.AdminKeyBypass(cfg.AdminAPIKey),
	}
	if client != nil {
		opts.Limiter = middleware.NewRedisFixedWindowLimiter(client, redisKeyPrefix+":rl:api")
	}
	return middleware.NewRateLimiter(opts).Middleware()
}

func provideAuthRateLimiter(cfg *config.Config, client redis.UniversalClient) router.AuthRateLimiterFunc {
	opts := middleware.RateLimiterOptions{
		Policy: middleware.PerMinute(cfg.AuthRateLimitRPM),
		Mode:   middleware.FailureMode(cfg.RateLimitMode),
		Scope:  "auth",
	}
	if client != nil {
		opts.Limiter = middleware.NewRedisFixedWindowLimiter(client, redisKeyPrefix+":rl:auth")
	}
	return middleware.NewRateLimiter(opts).Middleware()
}

func provideIdempotencyFactory(store service.IdempotencyStore) router.IdempotencyMiddlewareFactory {
	return middleware.NewIdempotencyMiddleware(store, idempotencyTTL).Middleware
}

type handlers struct {
	Auth        *handler.AuthHandler
	RPC         *handler.RPCHandler
	Transaction *handler.TransactionHandler
	Profile     *handler.ProfileHandler
	Claim       *handler.ClaimHandler
	Merkle      *handler.MerkleHandler
	Analytics   *handler.AnalyticsHandler
	Admin       *handler.AdminHandler
	Contract    *handler.ContractHandler
}

func provideHandlers(
	auth *service.AuthService,
	cookies security.CookieOptions,
	proxy *rpcproxy.Proxy,
	relay *service.RelayService,
	profiles *service.ProfileService,
	claims *service.ClaimService,
	merkleSvc *service.MerkleService,
	analytics *service.AnalyticsService,
	reconciler *service.Reconciler,
	reader *service.ContractReader,
) handlers {
	return handlers{
		Auth:        handler.NewAuthHandler(auth, cookies),
		RPC:         handler.NewRPCHandler(proxy),
		Transaction: handler.NewTransactionHandler(relay),
		Profile:     handler.NewProfileHandler(profiles),
		Claim:       handler.NewClaimHandler(claims),
		Merkle:      handler.NewMerkleHandler(merkleSvc),
		Analytics:   handler.NewAnalyticsHandler(analytics),
		Admin:       handler.NewAdminHandler(claims, reconciler, analytics),
		Contract:    handler.NewContractHandler(reader),
	}
}

func provideRouterDependencies(
	cfg *config.Config,
	h handlers,
	auth *service.AuthService,
	jwtMgr *security.JWTManager,
	global router.GlobalRateLimiterFunc,
	authLimiter router.AuthRateLimiterFunc,
	idem router.IdempotencyMiddlewareFactory,
	readiness *health.ProbeRunner,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:        h.Auth,
		RPCHandler:         h.RPC,
		TransactionHandler: h.Transaction,
		ProfileHandler:     h.Profile,
		ClaimHandler:       h.Claim,
		MerkleHandler:      h.Merkle,
		AnalyticsHandler:   h.Analytics,
		AdminHandler:       h.Admin,
		ContractHandler:    h.Contract,
		Sessions:           auth,
		JWTManager:         jwtMgr,
		AdminAPIKey:        cfg.AdminAPIKey,
		CORSOrigins:        cfg.CORSOrigins,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		GlobalRateLimiter:  global,
		AuthRateLimiter:    authLimiter,
		Idempotency:        idem,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.EnableOTelHTTP,
	}
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	reconciler *service.Reconciler,
	analytics *service.AnalyticsService,
	readiness *health.ProbeRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, reconciler, analytics, readiness, nil)
}

// Maintenance is the graph the one-shot CLI commands need: no HTTP server and
// no background workers.
type Maintenance struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *gorm.DB
	Reconciler *service.Reconciler
}
