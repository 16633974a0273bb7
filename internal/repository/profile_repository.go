package repository

import (
	"context"
	"errors"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrProfileNotFound = errors.New("profile not found")

type ProfileRepository interface {
	FindByAddress(ctx context.Context, address string) (*domain.ProfileRecord, error)
	Upsert(ctx context.Context, p *domain.ProfileRecord) (*domain.ProfileRecord, error)
	MarkClaimed(ctx context.Context, address string, at time.Time) (*domain.ProfileRecord, bool, error)
}

type GormProfileRepository struct{ db *gorm.DB }

func NewProfileRepository(db *gorm.DB) ProfileRepository { return &GormProfileRepository{db: db} }

func (r *GormProfileRepository) FindByAddress(ctx context.Context, address string) (*domain.ProfileRecord, error) {
	var p domain.ProfileRecord
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "profile", "find_by_address", "not_found")
			return nil, ErrProfileNotFound
		}
		observability.RecordRepositoryOperation(ctx, "profile", "find_by_address", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "find_by_address", "success")
	return &p, nil
}

// Upsert inserts the record or updates its amounts, token id and metadata. The
// claim columns are never touched here; MarkClaimed owns them.
func (r *GormProfileRepository) Upsert(ctx context.Context, p *domain.ProfileRecord) (*domain.ProfileRecord, error) {
	var saved domain.ProfileRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_id", "base_amount", "bonus_amount", "metadata", "updated_at"}),
		}).Omit("claimed", "claim_timestamp").Create(p).Error
		if err != nil {
			return err
		}
		return tx.Where("address = ?", p.Address).First(&saved).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "upsert", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "upsert", "success")
	return &saved, nil
}

// MarkClaimed flips claimed to true and stamps the claim time once. Later calls
// report changed=false and keep the original timestamp.
func (r *GormProfileRepository) MarkClaimed(ctx context.Context, address string, at time.Time) (*domain.ProfileRecord, bool, error) {
	var (
		p       domain.ProfileRecord
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ProfileRecord{}).
			Where("address = ? AND claimed = ?", address, false).
			Updates(map[string]any{"claimed": true, "claim_timestamp": at.UTC(), "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		err := tx.Where("address = ?", address).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			observability.RecordRepositoryOperation(ctx, "profile", "mark_claimed", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "profile", "mark_claimed", "error")
		}
		return nil, false, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "mark_claimed", "success")
	return &p, changed, nil
}
