package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
)

func TestAnalyticsTrackValidatesInput(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewAnalyticsService(repos.analytics, nil, 8, nil)

	cases := []EventInput{
		{EventType: ""},
		{EventType: "has space"},
		{EventType: "page_view", SessionID: "not-a-uuid"},
		{EventType: "page_view", Address: "0x12"},
		{EventType: "page_view", Path: "/" + strings.Repeat("a", 600)},
		{EventType: "page_view", Metadata: domain.Metadata{"bad key": 1}},
	}
	for i, in := range cases {
		err := svc.Track(context.Background(), in)
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestAnalyticsTrackDropsWhenBufferFull(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewAnalyticsService(repos.analytics, nil, 1, nil)

	for i := 0; i < 3; i++ {
		if err := svc.Track(context.Background(), EventInput{EventType: "page_view"}); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if got := svc.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
}

func TestAnalyticsRunPersistsAndDrainsOnShutdown(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewAnalyticsService(repos.analytics, nil, 16, nil)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, SessionInput{Address: testAccount, UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	for _, ev := range []string{"page_view", "page_view", "wallet_connect"} {
		if err := svc.Track(ctx, EventInput{SessionID: sess.ID, EventType: ev, Path: "/claim"}); err != nil {
			t.Fatalf("track: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("analytics writer did not stop")
	}

	summary, err := svc.Summary(ctx, time.Hour)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 3 || len(summary.Events) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Events[0].EventType != "page_view" || summary.Events[0].Count != 2 {
		t.Fatalf("expected page_view first with 2 events, got %+v", summary.Events)
	}
	stored, err := repos.analytics.FindSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if stored.EventCount != 3 || stored.Address != testAccountLower {
		t.Fatalf("unexpected session %+v", stored)
	}
}

func TestAnalyticsStartSessionReusesProvidedID(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewAnalyticsService(repos.analytics, nil, 4, nil)
	ctx := context.Background()

	first, err := svc.StartSession(ctx, SessionInput{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	again, err := svc.StartSession(ctx, SessionInput{SessionID: first.ID, Address: testAccount})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same session id, got %s and %s", first.ID, again.ID)
	}
	stored, err := repos.analytics.FindSession(ctx, first.ID)
	if err != nil || stored.Address != testAccountLower {
		t.Fatalf("expected address attached to session, got %+v %v", stored, err)
	}
	if _, err := svc.StartSession(ctx, SessionInput{SessionID: "nope"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAnalyticsSummaryRejectsOversizedWindow(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewAnalyticsService(repos.analytics, NewInMemoryAdminListCacheStore(), 4, nil)
	if _, err := svc.Summary(context.Background(), 365*24*time.Hour); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	summary, err := svc.Summary(context.Background(), 0)
	if err != nil || summary.Window != "24h0m0s" || summary.Events == nil {
		t.Fatalf("unexpected default summary %+v %v", summary, err)
	}
}
