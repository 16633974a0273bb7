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

var ErrAnalyticsSessionNotFound = errors.New("analytics session not found")

type AnalyticsRepository interface {
	CreateEvents(ctx context.Context, events []domain.AnalyticsEvent) error
	UpsertSession(ctx context.Context, s *domain.AnalyticsSession) error
	TouchSession(ctx context.Context, sessionID string, seenAt time.Time, events int64) error
	FindSession(ctx context.Context, id string) (*domain.AnalyticsSession, error)
	CountByEventType(ctx context.Context, since time.Time) ([]domain.EventTypeCount, error)
}

type GormAnalyticsRepository struct{ db *gorm.DB }

func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository { return &GormAnalyticsRepository{db: db} }

func (r *GormAnalyticsRepository) CreateEvents(ctx context.Context, events []domain.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).CreateInBatches(events, 100).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "analytics", "create_events", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "analytics", "create_events", "success")
	return nil
}

// UpsertSession creates the session or refreshes its last-seen data. FirstSeen
// is kept from the original row.
func (r *GormAnalyticsRepository) UpsertSession(ctx context.Context, s *domain.AnalyticsSession) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "user_agent", "last_seen"}),
	}).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "analytics", "upsert_session", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "analytics", "upsert_session", "success")
	return nil
}

func (r *GormAnalyticsRepository) TouchSession(ctx context.Context, sessionID string, seenAt time.Time, events int64) error {
	err := r.db.WithContext(ctx).Model(&domain.AnalyticsSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"last_seen":   seenAt.UTC(),
			"event_count": gorm.Expr("event_count + ?", events),
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "analytics", "touch_session", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "analytics", "touch_session", "success")
	return nil
}

func (r *GormAnalyticsRepository) FindSession(ctx context.Context, id string) (*domain.AnalyticsSession, error) {
	var s domain.AnalyticsSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "analytics", "find_session", "not_found")
			return nil, ErrAnalyticsSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "analytics", "find_session", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "analytics", "find_session", "success")
	return &s, nil
}

func (r *GormAnalyticsRepository) CountByEventType(ctx context.Context, since time.Time) ([]domain.EventTypeCount, error) {
	var out []domain.EventTypeCount
	err := r.db.WithContext(ctx).Model(&domain.AnalyticsEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("occurred_at >= ?", since.UTC()).
		Group("event_type").
		Order("count DESC").
		Scan(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "analytics", "count_by_event_type", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "analytics", "count_by_event_type", "success")
	return out, nil
}
