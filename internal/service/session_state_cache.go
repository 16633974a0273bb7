package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionStateCache remembers that a session token was found active in the
// mirror table, so that verify does not hit the database on every request.
// Invalidation bumps an epoch instead of deleting keys.
type SessionStateCache interface {
	Get(ctx context.Context, address, tokenID string) (time.Time, bool, error)
	Set(ctx context.Context, address, tokenID string, expiresAt time.Time, ttl time.Duration) error
	InvalidateAddress(ctx context.Context, address string) error
	InvalidateAll(ctx context.Context) error
}

type NoopSessionStateCache struct{}

func NewNoopSessionStateCache() *NoopSessionStateCache { return &NoopSessionStateCache{} }

func (NoopSessionStateCache) Get(context.Context, string, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (NoopSessionStateCache) Set(context.Context, string, string, time.Time, time.Duration) error {
	return nil
}

func (NoopSessionStateCache) InvalidateAddress(context.Context, string) error { return nil }

func (NoopSessionStateCache) InvalidateAll(context.Context) error { return nil }

type sessionCacheEntry struct {
	sessionExpiresAt time.Time
	expiresAt        time.Time
}

type InMemorySessionStateCache struct {
	mu           sync.RWMutex
	data         map[string]sessionCacheEntry
	globalEpoch  uint64
	addressEpoch map[string]uint64
}

func NewInMemorySessionStateCache() *InMemorySessionStateCache {
	return &InMemorySessionStateCache{
		data:         make(map[string]sessionCacheEntry),
		addressEpoch: make(map[string]uint64),
	}
}

func (s *InMemorySessionStateCache) Get(_ context.Context, address, tokenID string) (time.Time, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(address, tokenID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return time.Time{}, false, nil
	}
	return entry.sessionExpiresAt, true, nil
}

func (s *InMemorySessionStateCache) Set(_ context.Context, address, tokenID string, sessionExpiresAt time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.cacheKeyLocked(address, tokenID)] = sessionCacheEntry{
		sessionExpiresAt: sessionExpiresAt,
		expiresAt:        time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemorySessionStateCache) InvalidateAddress(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressEpoch[normalizeToken(address)]++
	return nil
}

func (s *InMemorySessionStateCache) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	return nil
}

func (s *InMemorySessionStateCache) cacheKeyLocked(address, tokenID string) string {
	return buildSessionCacheKey(s.globalEpoch, s.addressEpoch[normalizeToken(address)], address, tokenID)
}

func buildSessionCacheKey(globalEpoch, addressEpoch uint64, address, tokenID string) string {
	if tokenID == "" {
		tokenID = "none"
	}
	return fmt.Sprintf("sess:g%d:a%d:addr:%s:t:%s", globalEpoch, addressEpoch, normalizeToken(address), tokenID)
}
