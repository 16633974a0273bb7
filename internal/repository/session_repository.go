package repository

import (
	"context"
	"errors"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.Session, error)
	ListActiveByAddress(ctx context.Context, address string) ([]domain.Session, error)
	RevokeByTokenID(ctx context.Context, tokenID string) (bool, error)
	RevokeByAddress(ctx context.Context, address string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("token_id = ? AND revoked_at IS NULL AND expires_at > ?", tokenID, time.Now().UTC()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByAddress(ctx context.Context, address string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND revoked_at IS NULL AND expires_at > ?", address, time.Now().UTC()).
		Order("issued_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_address", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_address", "success")
	return sessions, nil
}

func (r *GormSessionRepository) RevokeByTokenID(ctx context.Context, tokenID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token_id = ? AND revoked_at IS NULL", tokenID).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_token_id", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_token_id", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeByAddress(ctx context.Context, address string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("wallet_address = ? AND revoked_at IS NULL", address).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_address", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_address", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now().UTC()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
