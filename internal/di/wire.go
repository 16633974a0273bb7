//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/d4l-network/d4l-gateway/internal/app"
	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/config"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

var loggingSet = wire.NewSet(provideLogging, provideLogger, provideLoggerProvider)

var repositorySet = wire.NewSet(
	repository.NewProfileRepository,
	repository.NewClaimRepository,
	repository.NewSessionRepository,
	repository.NewAnalyticsRepository,
)

var storeSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideNonceStore,
	provideSessionStateCache,
	provideAdminListCache,
	provideIdempotencyStore,
	provideClaimLocker,
)

var chainSet = wire.NewSet(
	provideChainBackend,
	provideSigner,
	provideFacade,
	provideMerkleTree,
	provideRPCProxy,
	wire.Bind(new(service.ContractDirectory), new(*chain.Facade)),
)

var serviceSet = wire.NewSet(
	provideJWTManager,
	provideAuthService,
	provideRelayService,
	service.NewProfileService,
	service.NewMerkleService,
	provideClaimService,
	provideReconciler,
	provideAnalyticsService,
	service.NewContractReader,
)

var httpSet = wire.NewSet(
	provideCookieOptions,
	provideHandlers,
	provideReadiness,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideIdempotencyFactory,
	provideRouterDependencies,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(
		loggingSet,
		provideObservability,
		repositorySet,
		storeSet,
		chainSet,
		serviceSet,
		httpSet,
		provideApp,
	)
	return nil, nil, nil
}

func InitializeMaintenance(ctx context.Context, cfg *config.Config) (*Maintenance, func(), error) {
	wire.Build(
		loggingSet,
		repositorySet,
		provideDB,
		provideRedis,
		provideAdminListCache,
		provideClaimLocker,
		provideChainBackend,
		provideSigner,
		provideFacade,
		provideMerkleTree,
		service.NewMerkleService,
		provideRelayService,
		provideReconciler,
		wire.Struct(new(Maintenance), "*"),
	)
	return nil, nil, nil
}
