package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/security"
)

type ProfileInput struct {
	Address     string          `json:"address"`
	TokenID     *string         `json:"tokenId"`
	BaseAmount  *string         `json:"baseAmount"`
	BonusAmount *string         `json:"bonusAmount"`
	Metadata    domain.Metadata `json:"metadata"`
}

// ProfileService is the fallback store for wallet profiles, used when the
// profile contract cannot answer.
type ProfileService struct {
	profiles repository.ProfileRepository
	now      func() time.Time
}

func NewProfileService(profiles repository.ProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles, now: time.Now}
}

// Get returns nil without error when no record exists.
func (s *ProfileService) Get(ctx context.Context, address string) (*domain.ProfileRecord, error) {
	addr, err := normalizeAddressParam(address)
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.FindByAddress(ctx, addr)
	if errors.Is(err, repository.ErrProfileNotFound) {
		return nil, nil
	}
	return p, err
}

// Upsert merges the provided fields over the stored record.
func (s *ProfileService) Upsert(ctx context.Context, in ProfileInput) (*domain.ProfileRecord, error) {
	addr, err := normalizeAddressParam(in.Address)
	if err != nil {
		return nil, err
	}
	if in.Metadata != nil {
		if err := in.Metadata.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	for field, v := range map[string]*string{"baseAmount": in.BaseAmount, "bonusAmount": in.BonusAmount} {
		if v != nil && !isNonNegativeInteger(*v) {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrValidation, field)
		}
	}

	record := &domain.ProfileRecord{Address: addr, BaseAmount: "0", BonusAmount: "0"}
	existing, err := s.profiles.FindByAddress(ctx, addr)
	switch {
	case err == nil:
		record.TokenID = existing.TokenID
		record.BaseAmount = existing.BaseAmount
		record.BonusAmount = existing.BonusAmount
		record.Metadata = existing.Metadata
	case !errors.Is(err, repository.ErrProfileNotFound):
		return nil, err
	}
	if in.TokenID != nil {
		tokenID := strings.TrimSpace(*in.TokenID)
		record.TokenID = &tokenID
	}
	if in.BaseAmount != nil {
		record.BaseAmount = strings.TrimSpace(*in.BaseAmount)
	}
	if in.BonusAmount != nil {
		record.BonusAmount = strings.TrimSpace(*in.BonusAmount)
	}
	if in.Metadata != nil {
		record.Metadata = in.Metadata
	}
	return s.profiles.Upsert(ctx, record)
}

// MarkClaimed is idempotent and never moves the original claim timestamp.
func (s *ProfileService) MarkClaimed(ctx context.Context, address string) (*domain.ProfileRecord, error) {
	addr, err := normalizeAddressParam(address)
	if err != nil {
		return nil, err
	}
	p, _, err := s.profiles.MarkClaimed(ctx, addr, s.now().UTC())
	return p, err
}

func normalizeAddressParam(address string) (string, error) {
	if !security.IsAddress(strings.TrimSpace(address)) {
		return "", ErrInvalidAddress
	}
	return security.NormalizeAddress(address), nil
}

func isNonNegativeInteger(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 78 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
