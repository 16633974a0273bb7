package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	ClaimStatusConfirmed = "confirmed"
	ClaimStatusRecorded  = "recorded"
	ClaimStatusSubmitted = "submitted"

	claimRecordedMessage = "claim recorded, pending processing"
	adminListCacheTTL    = 15 * time.Second
)

// ClaimRelayer is the on-chain side of a claim. *RelayService implements it.
type ClaimRelayer interface {
	ClaimFor(ctx context.Context, account common.Address, amount *big.Int, proof [][32]byte) (*RelayResult, error)
	HasClaimed(ctx context.Context, account common.Address) (claimed bool, ok bool)
	TransactionOutcome(ctx context.Context, txHash string) (mined, succeeded bool, err error)
}

type ClaimInput struct {
	Address     string   `json:"address"`
	Amount      string   `json:"amount"`
	MerkleProof []string `json:"merkleProof"`
	MerkleRoot  string   `json:"merkleRoot"`
}

type ClaimOutcome struct {
	Status          string               `json:"status"`
	Message         string               `json:"message"`
	TransactionHash string               `json:"transactionHash,omitempty"`
	BlockNumber     uint64               `json:"blockNumber,omitempty"`
	Request         *domain.ClaimRequest `json:"request,omitempty"`
}

type ClaimStatusView struct {
	Address        string               `json:"address"`
	Claimed        bool                 `json:"claimed"`
	ClaimTimestamp *time.Time           `json:"claimTimestamp,omitempty"`
	Request        *domain.ClaimRequest `json:"request,omitempty"`
}

type validatedClaim struct {
	address string
	account common.Address
	amount  *big.Int
	proof   [][32]byte
	root    [32]byte
}

// ClaimService runs the live claim and falls back to a durable pending
// request when the chain path fails.
type ClaimService struct {
	relay     ClaimRelayer
	claims    repository.ClaimRepository
	profiles  repository.ProfileRepository
	merkle    *MerkleService
	listCache AdminListCacheStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewClaimService(relay ClaimRelayer, claims repository.ClaimRepository, profiles repository.ProfileRepository, merkleSvc *MerkleService, listCache AdminListCacheStore, logger *slog.Logger) *ClaimService {
	if listCache == nil {
		listCache = NewNoopAdminListCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if merkleSvc == nil {
		merkleSvc = NewMerkleService(nil)
	}
	return &ClaimService{relay: relay, claims: claims, profiles: profiles, merkle: merkleSvc, listCache: listCache, logger: logger, now: time.Now}
}

func validateClaim(in ClaimInput) (*validatedClaim, error) {
	addr, err := normalizeAddressParam(in.Address)
	if err != nil {
		return nil, err
	}
	amount, err := chain.ParseBaseUnits(in.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount must be a positive integer in base units", ErrValidation)
	}
	proof, err := parseProof(in.MerkleProof)
	if err != nil {
		return nil, fmt.Errorf("%w: merkleProof: %v", ErrValidation, err)
	}
	root, err := parseHash32(in.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: merkleRoot: %v", ErrValidation, err)
	}
	return &validatedClaim{address: addr, account: common.HexToAddress(addr), amount: amount, proof: proof, root: root}, nil
}

func (s *ClaimService) Claim(ctx context.Context, in ClaimInput) (*ClaimOutcome, error) {
	c, err := validateClaim(in)
	if err != nil {
		return nil, err
	}
	if err := s.merkle.Check(c.address, c.amount, c.proof, c.root); err != nil {
		return nil, err
	}

	// A pending request is already queued for the reconciler; a second live
	// attempt would race it.
	pending, err := s.claims.FindLatestByAddress(ctx, c.address)
	switch {
	case err == nil && pending.Status == domain.ClaimStatusPending:
		return &ClaimOutcome{Status: ClaimStatusRecorded, Message: claimRecordedMessage, Request: pending}, nil
	case err != nil && !errors.Is(err, repository.ErrClaimRequestNotFound):
		return nil, err
	}

	res, liveErr := s.relay.ClaimFor(ctx, c.account, c.amount, c.proof)
	if liveErr == nil && res.Status == RelayStatusSubmitted {
		return s.recordSubmitted(ctx, c, in, res.TransactionHash)
	}
	if liveErr == nil {
		if err := markProfileClaimed(ctx, s.profiles, c.address, s.now()); err != nil {
			s.logger.WarnContext(ctx, "mark profile claimed after live claim failed", "address", c.address, "error", err)
		}
		return &ClaimOutcome{
			Status:          ClaimStatusConfirmed,
			Message:         "claim confirmed",
			TransactionHash: res.TransactionHash,
			BlockNumber:     res.BlockNumber,
		}, nil
	}

	// The caller may have gone away; the fallback record must still land.
	persistCtx := context.WithoutCancel(ctx)
	req, created, err := s.claims.Enqueue(persistCtx, &domain.ClaimRequest{
		Address:     c.address,
		Amount:      c.amount.String(),
		MerkleProof: normalizeHexList(in.MerkleProof),
		MerkleRoot:  hexutil.Encode(c.root[:]),
		LastError:   truncate(liveErr.Error(), 1024),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "claim fallback enqueue failed", "address", c.address, "live_error", liveErr, "error", err)
		return nil, fmt.Errorf("record claim fallback: %w", err)
	}
	reason := relayOutcome(liveErr)
	observability.RecordClaimFallback(ctx, reason)
	s.logger.WarnContext(ctx, "live claim failed, recorded fallback request",
		"address", c.address, "claim_request_id", req.ID, "created", created, "reason", reason, "error", liveErr)
	observability.AuditBackground(ctx, "claim.fallback_recorded", "address", c.address, "claim_request_id", req.ID)
	_ = s.listCache.InvalidateNamespace(persistCtx, adminCacheNamespaceClaims)
	return &ClaimOutcome{Status: ClaimStatusRecorded, Message: claimRecordedMessage, Request: req}, nil
}

// recordSubmitted queues a pending request that carries the broadcast hash,
// so the reconciler settles it from the receipt instead of claiming again.
func (s *ClaimService) recordSubmitted(ctx context.Context, c *validatedClaim, in ClaimInput, txHash string) (*ClaimOutcome, error) {
	persistCtx := context.WithoutCancel(ctx)
	req, _, err := s.claims.Enqueue(persistCtx, &domain.ClaimRequest{
		Address:         c.address,
		Amount:          c.amount.String(),
		MerkleProof:     normalizeHexList(in.MerkleProof),
		MerkleRoot:      hexutil.Encode(c.root[:]),
		TransactionHash: txHash,
		LastError:       relaySubmittedMessage,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "claim submitted but tracking record failed", "address", c.address, "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("record submitted claim: %w", err)
	}
	observability.RecordClaimFallback(ctx, "receipt_pending")
	_ = s.listCache.InvalidateNamespace(persistCtx, adminCacheNamespaceClaims)
	return &ClaimOutcome{Status: ClaimStatusSubmitted, Message: relaySubmittedMessage, TransactionHash: txHash, Request: req}, nil
}

func (s *ClaimService) Status(ctx context.Context, address string) (*ClaimStatusView, error) {
	addr, err := normalizeAddressParam(address)
	if err != nil {
		return nil, err
	}
	view := &ClaimStatusView{Address: addr}
	profile, err := s.profiles.FindByAddress(ctx, addr)
	switch {
	case err == nil:
		view.Claimed = profile.Claimed
		view.ClaimTimestamp = profile.ClaimTimestamp
	case !errors.Is(err, repository.ErrProfileNotFound):
		return nil, err
	}
	req, err := s.claims.FindLatestByAddress(ctx, addr)
	switch {
	case err == nil:
		view.Request = req
	case !errors.Is(err, repository.ErrClaimRequestNotFound):
		return nil, err
	}
	return view, nil
}

func (s *ClaimService) List(ctx context.Context, q repository.ClaimListQuery) (repository.PageResult[domain.ClaimRequest], error) {
	if q.Address != "" {
		addr, err := normalizeAddressParam(q.Address)
		if err != nil {
			return repository.PageResult[domain.ClaimRequest]{}, err
		}
		q.Address = addr
	}
	if q.Status != "" && !domain.ClaimStatus(q.Status).Valid() {
		return repository.PageResult[domain.ClaimRequest]{}, fmt.Errorf("%w: unknown status %q", ErrValidation, q.Status)
	}
	cacheKey := fmt.Sprintf("p=%d:s=%d:st=%s:a=%s", q.Page, q.PageSize, q.Status, q.Address)
	if payload, ok, err := s.listCache.Get(ctx, adminCacheNamespaceClaims, cacheKey); err == nil && ok {
		var cached repository.PageResult[domain.ClaimRequest]
		if json.Unmarshal(payload, &cached) == nil {
			return cached, nil
		}
	}
	page, err := s.claims.ListPaged(ctx, q)
	if err != nil {
		return page, err
	}
	if payload, err := json.Marshal(page); err == nil {
		_ = s.listCache.Set(ctx, adminCacheNamespaceClaims, cacheKey, payload, adminListCacheTTL)
	}
	return page, nil
}

// Resolve lets an operator settle a pending request by hand. Confirming also
// marks the profile claimed.
func (s *ClaimService) Resolve(ctx context.Context, id uint, status domain.ClaimStatus, note string) (*domain.ClaimRequest, error) {
	req, err := s.claims.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.ClaimStatusConfirmed:
		txHash := strings.TrimSpace(note)
		if txHash != "" {
			if _, err := parseHash32(txHash); err != nil {
				return nil, fmt.Errorf("%w: transactionHash: %v", ErrValidation, err)
			}
		}
		if err := s.claims.MarkConfirmed(ctx, id, txHash); err != nil {
			return nil, err
		}
		if err := markProfileClaimed(ctx, s.profiles, req.Address, s.now()); err != nil {
			return nil, err
		}
	case domain.ClaimStatusFailed:
		if strings.TrimSpace(note) == "" {
			note = "failed by operator"
		}
		if err := s.claims.MarkFailed(ctx, id, note); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: status must be confirmed or failed", ErrValidation)
	}
	_ = s.listCache.InvalidateNamespace(ctx, adminCacheNamespaceClaims)
	return s.claims.FindByID(ctx, id)
}

func markProfileClaimed(ctx context.Context, profiles repository.ProfileRepository, address string, at time.Time) error {
	_, _, err := profiles.MarkClaimed(ctx, address, at)
	if !errors.Is(err, repository.ErrProfileNotFound) {
		return err
	}
	if _, err := profiles.Upsert(ctx, &domain.ProfileRecord{Address: address, BaseAmount: "0", BonusAmount: "0"}); err != nil {
		return err
	}
	_, _, err = profiles.MarkClaimed(ctx, address, at)
	return err
}

func normalizeHexList(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = strings.ToLower(strings.TrimSpace(item))
	}
	return out
}
