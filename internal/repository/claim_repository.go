package repository

import (
	"context"
	"errors"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrClaimRequestNotFound = errors.New("claim request not found")
	ErrClaimNotPending      = errors.New("claim request is not pending")
)

type ClaimListQuery struct {
	PageRequest
	Status  domain.ClaimStatus
	Address string
}

type ClaimRepository interface {
	Enqueue(ctx context.Context, req *domain.ClaimRequest) (*domain.ClaimRequest, bool, error)
	FindByID(ctx context.Context, id uint) (*domain.ClaimRequest, error)
	FindLatestByAddress(ctx context.Context, address string) (*domain.ClaimRequest, error)
	ListPending(ctx context.Context, limit int) ([]domain.ClaimRequest, error)
	ListPaged(ctx context.Context, query ClaimListQuery) (PageResult[domain.ClaimRequest], error)
	// RecordAttempt bumps the attempt counter. A non-empty txHash replaces the
	// stored transaction hash.
	RecordAttempt(ctx context.Context, id uint, txHash, lastError string) (*domain.ClaimRequest, error)
	MarkConfirmed(ctx context.Context, id uint, txHash string) error
	MarkFailed(ctx context.Context, id uint, reason string) error
}

type GormClaimRepository struct{ db *gorm.DB }

func NewClaimRepository(db *gorm.DB) ClaimRepository { return &GormClaimRepository{db: db} }

// Enqueue stores a pending request unless the address already has one, in which
// case the existing row is returned with created=false.
func (r *GormClaimRepository) Enqueue(ctx context.Context, req *domain.ClaimRequest) (*domain.ClaimRequest, bool, error) {
	req.Status = domain.ClaimStatusPending
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	var (
		out     domain.ClaimRequest
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("address = ? AND status = ?", req.Address, domain.ClaimStatusPending).First(&out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		out = *req
		created = true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost the race against a concurrent enqueue guarded by the partial unique index
		existing, findErr := r.findPending(ctx, req.Address)
		if findErr == nil {
			observability.RecordRepositoryOperation(ctx, "claim", "enqueue", "deduplicated")
			return existing, false, nil
		}
		err = findErr
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "claim", "enqueue", "error")
		return nil, false, err
	}
	if created {
		observability.RecordRepositoryOperation(ctx, "claim", "enqueue", "success")
	} else {
		observability.RecordRepositoryOperation(ctx, "claim", "enqueue", "deduplicated")
	}
	return &out, created, nil
}

func (r *GormClaimRepository) findPending(ctx context.Context, address string) (*domain.ClaimRequest, error) {
	var c domain.ClaimRequest
	err := r.db.WithContext(ctx).Where("address = ? AND status = ?", address, domain.ClaimStatusPending).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClaimRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormClaimRepository) FindByID(ctx context.Context, id uint) (*domain.ClaimRequest, error) {
	var c domain.ClaimRequest
	err := r.db.WithContext(ctx).First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "claim", "find_by_id", "not_found")
			return nil, ErrClaimRequestNotFound
		}
		observability.RecordRepositoryOperation(ctx, "claim", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "claim", "find_by_id", "success")
	return &c, nil
}

func (r *GormClaimRepository) FindLatestByAddress(ctx context.Context, address string) (*domain.ClaimRequest, error) {
	var c domain.ClaimRequest
	err := r.db.WithContext(ctx).Where("address = ?", address).Order("timestamp DESC").Order("id DESC").First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "claim", "find_latest_by_address", "not_found")
			return nil, ErrClaimRequestNotFound
		}
		observability.RecordRepositoryOperation(ctx, "claim", "find_latest_by_address", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "claim", "find_latest_by_address", "success")
	return &c, nil
}

func (r *GormClaimRepository) ListPending(ctx context.Context, limit int) ([]domain.ClaimRequest, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var claims []domain.ClaimRequest
	err := r.db.WithContext(ctx).Where("status = ?", domain.ClaimStatusPending).
		Order("timestamp ASC").Order("id ASC").
		Limit(limit).
		Find(&claims).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "claim", "list_pending", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "claim", "list_pending", "success")
	return claims, nil
}

func (r *GormClaimRepository) ListPaged(ctx context.Context, query ClaimListQuery) (PageResult[domain.ClaimRequest], error) {
	base := r.db.WithContext(ctx).Model(&domain.ClaimRequest{})
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}
	if query.Address != "" {
		base = base.Where("address = ?", query.Address)
	}
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "claim", "list_paged", "error")
		return PageResult[domain.ClaimRequest]{}, err
	}
	var items []domain.ClaimRequest
	if err := base.Scopes(paginate(query.PageRequest)).Order("timestamp DESC").Order("id DESC").Find(&items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "claim", "list_paged", "error")
		return PageResult[domain.ClaimRequest]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "claim", "list_paged", "success")
	return newPageResult(query.PageRequest, items, total), nil
}

func (r *GormClaimRepository) RecordAttempt(ctx context.Context, id uint, txHash, lastError string) (*domain.ClaimRequest, error) {
	if len(lastError) > 1024 {
		lastError = lastError[:1024]
	}
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": lastError,
		"updated_at": time.Now().UTC(),
	}
	if txHash != "" {
		updates["transaction_hash"] = txHash
	}
	res := r.db.WithContext(ctx).Model(&domain.ClaimRequest{}).
		Where("id = ? AND status = ?", id, domain.ClaimStatusPending).
		Updates(updates)
	if err := r.transitionResult(ctx, "record_attempt", id, res); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *GormClaimRepository) MarkConfirmed(ctx context.Context, id uint, txHash string) error {
	res := r.db.WithContext(ctx).Model(&domain.ClaimRequest{}).
		Where("id = ? AND status = ?", id, domain.ClaimStatusPending).
		Updates(map[string]any{
			"status":           domain.ClaimStatusConfirmed,
			"transaction_hash": txHash,
			"last_error":       "",
			"updated_at":       time.Now().UTC(),
		})
	return r.transitionResult(ctx, "mark_confirmed", id, res)
}

func (r *GormClaimRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	res := r.db.WithContext(ctx).Model(&domain.ClaimRequest{}).
		Where("id = ? AND status = ?", id, domain.ClaimStatusPending).
		Updates(map[string]any{
			"status":     domain.ClaimStatusFailed,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		})
	return r.transitionResult(ctx, "mark_failed", id, res)
}

func (r *GormClaimRepository) transitionResult(ctx context.Context, op string, id uint, res *gorm.DB) error {
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "claim", op, "error")
		return res.Error
	}
	if res.RowsAffected > 0 {
		observability.RecordRepositoryOperation(ctx, "claim", op, "success")
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ClaimRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "claim", op, "error")
		return err
	}
	if count == 0 {
		observability.RecordRepositoryOperation(ctx, "claim", op, "not_found")
		return ErrClaimRequestNotFound
	}
	observability.RecordRepositoryOperation(ctx, "claim", op, "not_pending")
	return ErrClaimNotPending
}
