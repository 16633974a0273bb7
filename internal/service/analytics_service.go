package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"

	"github.com/google/uuid"
)

const (
	analyticsFlushBatch    = 100
	analyticsFlushInterval = 2 * time.Second
	analyticsDrainTimeout  = 5 * time.Second
	analyticsMaxWindow     = 90 * 24 * time.Hour
	analyticsMaxPathLength = 512
)

var eventTypePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.:-]{0,63}$`)

type EventInput struct {
	SessionID string          `json:"sessionId"`
	Address   string          `json:"address"`
	EventType string          `json:"eventType"`
	Path      string          `json:"path"`
	Metadata  domain.Metadata `json:"metadata"`
}

type SessionInput struct {
	SessionID string `json:"sessionId"`
	Address   string `json:"address"`
	UserAgent string `json:"-"`
}

type AnalyticsSummary struct {
	Since   time.Time               `json:"since"`
	Window  string                  `json:"window"`
	Total   int64                   `json:"total"`
	Events  []domain.EventTypeCount `json:"events"`
	Dropped uint64                  `json:"dropped"`
}

// AnalyticsService accepts events without blocking the caller. Events are
// persisted in batches by Run; when the buffer is full they are dropped and
// counted.
type AnalyticsService struct {
	repo      repository.AnalyticsRepository
	listCache AdminListCacheStore
	events    chan domain.AnalyticsEvent
	dropped   atomic.Uint64
	logger    *slog.Logger
	now       func() time.Time
}

func NewAnalyticsService(repo repository.AnalyticsRepository, listCache AdminListCacheStore, bufferSize int, logger *slog.Logger) *AnalyticsService {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if listCache == nil {
		listCache = NewNoopAdminListCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsService{
		repo:      repo,
		listCache: listCache,
		events:    make(chan domain.AnalyticsEvent, bufferSize),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *AnalyticsService) Track(ctx context.Context, in EventInput) error {
	ev, err := s.validateEvent(in)
	if err != nil {
		return err
	}
	select {
	case s.events <- ev:
		observability.RecordAnalyticsEvent(ctx, "accepted")
	default:
		s.dropped.Add(1)
		observability.RecordAnalyticsEvent(ctx, "dropped")
	}
	return nil
}

func (s *AnalyticsService) validateEvent(in EventInput) (domain.AnalyticsEvent, error) {
	ev := domain.AnalyticsEvent{
		EventType:  strings.TrimSpace(in.EventType),
		Path:       strings.TrimSpace(in.Path),
		Metadata:   in.Metadata,
		OccurredAt: s.now().UTC(),
	}
	if !eventTypePattern.MatchString(ev.EventType) {
		return ev, fmt.Errorf("%w: eventType is required and must be a short identifier", ErrValidation)
	}
	if len(ev.Path) > analyticsMaxPathLength {
		return ev, fmt.Errorf("%w: path is too long", ErrValidation)
	}
	if sid := strings.TrimSpace(in.SessionID); sid != "" {
		id, err := uuid.Parse(sid)
		if err != nil {
			return ev, fmt.Errorf("%w: sessionId must be a uuid", ErrValidation)
		}
		ev.SessionID = id.String()
	}
	if strings.TrimSpace(in.Address) != "" {
		addr, err := normalizeAddressParam(in.Address)
		if err != nil {
			return ev, err
		}
		ev.Address = addr
	}
	if in.Metadata != nil {
		if err := in.Metadata.Validate(); err != nil {
			return ev, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return ev, nil
}

// Run persists buffered events until ctx ends, then drains what is left.
func (s *AnalyticsService) Run(ctx context.Context) error {
	ticker := time.NewTicker(analyticsFlushInterval)
	defer ticker.Stop()

	batch := make([]domain.AnalyticsEvent, 0, analyticsFlushBatch)
	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= analyticsFlushBatch {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyticsDrainTimeout)
			defer cancel()
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
					if len(batch) >= analyticsFlushBatch {
						s.flush(drainCtx, batch)
						batch = batch[:0]
					}
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				s.flush(drainCtx, batch)
			}
			return nil
		}
	}
}

func (s *AnalyticsService) flush(ctx context.Context, batch []domain.AnalyticsEvent) {
	events := make([]domain.AnalyticsEvent, len(batch))
	copy(events, batch)
	if err := s.repo.CreateEvents(ctx, events); err != nil {
		observability.RecordAnalyticsEvent(ctx, "persist_error")
		s.logger.WarnContext(ctx, "analytics batch write failed", "events", len(events), "error", err)
		return
	}
	perSession := map[string]int64{}
	lastSeen := map[string]time.Time{}
	for _, ev := range events {
		if ev.SessionID == "" {
			continue
		}
		perSession[ev.SessionID]++
		if ev.OccurredAt.After(lastSeen[ev.SessionID]) {
			lastSeen[ev.SessionID] = ev.OccurredAt
		}
	}
	for id, n := range perSession {
		if err := s.repo.TouchSession(ctx, id, lastSeen[id], n); err != nil {
			s.logger.WarnContext(ctx, "analytics session touch failed", "session_id", id, "error", err)
		}
	}
	_ = s.listCache.InvalidateNamespace(ctx, adminCacheNamespaceAnalytics)
}

func (s *AnalyticsService) StartSession(ctx context.Context, in SessionInput) (*domain.AnalyticsSession, error) {
	id := uuid.New()
	if sid := strings.TrimSpace(in.SessionID); sid != "" {
		parsed, err := uuid.Parse(sid)
		if err != nil {
			return nil, fmt.Errorf("%w: sessionId must be a uuid", ErrValidation)
		}
		id = parsed
	}
	sess := &domain.AnalyticsSession{
		ID:        id.String(),
		UserAgent: truncate(in.UserAgent, 512),
	}
	if strings.TrimSpace(in.Address) != "" {
		addr, err := normalizeAddressParam(in.Address)
		if err != nil {
			return nil, err
		}
		sess.Address = addr
	}
	now := s.now().UTC()
	sess.FirstSeen = now
	sess.LastSeen = now
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *AnalyticsService) Summary(ctx context.Context, window time.Duration) (*AnalyticsSummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if window > analyticsMaxWindow {
		return nil, fmt.Errorf("%w: window must not exceed %s", ErrValidation, analyticsMaxWindow)
	}
	cacheKey := "window=" + window.String()
	if payload, ok, err := s.listCache.Get(ctx, adminCacheNamespaceAnalytics, cacheKey); err == nil && ok {
		var cached AnalyticsSummary
		if json.Unmarshal(payload, &cached) == nil {
			cached.Dropped = s.Dropped()
			return &cached, nil
		}
	}

	since := s.now().UTC().Add(-window)
	counts, err := s.repo.CountByEventType(ctx, since)
	if err != nil {
		return nil, err
	}
	out := &AnalyticsSummary{Since: since, Window: window.String(), Events: counts}
	if out.Events == nil {
		out.Events = []domain.EventTypeCount{}
	}
	for _, c := range counts {
		out.Total += c.Count
	}
	if payload, err := json.Marshal(out); err == nil {
		_ = s.listCache.Set(ctx, adminCacheNamespaceAnalytics, cacheKey, payload, adminListCacheTTL)
	}
	out.Dropped = s.Dropped()
	return out, nil
}

func (s *AnalyticsService) Dropped() uint64 {
	return s.dropped.Load()
}
