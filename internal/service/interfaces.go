package service

import (
	"context"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractGateway is implemented by *chain.Facade.
type ContractGateway interface {
	Read(ctx context.Context, name chain.ContractName, fn string, args ...any) chain.Result
	Write(ctx context.Context, name chain.ContractName, fn string, args ...any) (*chain.WriteResult, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type AuthServiceInterface interface {
	IssueNonce(ctx context.Context, address string) (*NonceChallenge, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Verify(ctx context.Context, raw string) (*SessionInfo, error)
	Logout(ctx context.Context, raw string) error
	ListSessions(ctx context.Context, info *SessionInfo) ([]SessionView, error)
	LogoutAll(ctx context.Context, address string) (int64, error)
}

type RelayServiceInterface interface {
	Execute(ctx context.Context, req RelayRequest) (*RelayResult, error)
}

type ProfileServiceInterface interface {
	Get(ctx context.Context, address string) (*domain.ProfileRecord, error)
	Upsert(ctx context.Context, in ProfileInput) (*domain.ProfileRecord, error)
	MarkClaimed(ctx context.Context, address string) (*domain.ProfileRecord, error)
}

type ClaimServiceInterface interface {
	Claim(ctx context.Context, in ClaimInput) (*ClaimOutcome, error)
	Status(ctx context.Context, address string) (*ClaimStatusView, error)
	List(ctx context.Context, q repository.ClaimListQuery) (repository.PageResult[domain.ClaimRequest], error)
	Resolve(ctx context.Context, id uint, status domain.ClaimStatus, note string) (*domain.ClaimRequest, error)
}

type ReconcilerInterface interface {
	RunOnce(ctx context.Context) (ReconcileReport, error)
}

type MerkleServiceInterface interface {
	Proof(address string) (*ProofView, error)
}

type AnalyticsServiceInterface interface {
	Track(ctx context.Context, in EventInput) error
	StartSession(ctx context.Context, in SessionInput) (*domain.AnalyticsSession, error)
	Summary(ctx context.Context, window time.Duration) (*AnalyticsSummary, error)
}

type ContractReaderInterface interface {
	ReadContract(ctx context.Context, contract, function string, args []any) (*ContractReadView, error)
	Directory() ContractDirectoryView
}
