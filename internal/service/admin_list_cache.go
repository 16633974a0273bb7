package service

import (
	"context"
	"sync"
	"time"
)

const (
	adminCacheNamespaceClaims    = "admin.claims"
	adminCacheNamespaceAnalytics = "admin.analytics"
)

// AdminListCacheStore caches rendered admin list payloads per namespace.
// Writes that change the underlying rows invalidate the whole namespace.
type AdminListCacheStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	GetWithAge(ctx context.Context, namespace, key string) ([]byte, bool, time.Duration, error)
	Set(ctx context.Context, namespace, key string, payload []byte, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

type NoopAdminListCacheStore struct{}

func NewNoopAdminListCacheStore() *NoopAdminListCacheStore { return &NoopAdminListCacheStore{} }

func (NoopAdminListCacheStore) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopAdminListCacheStore) GetWithAge(context.Context, string, string) ([]byte, bool, time.Duration, error) {
	return nil, false, 0, nil
}

func (NoopAdminListCacheStore) Set(context.Context, string, string, []byte, time.Duration) error {
	return nil
}

func (NoopAdminListCacheStore) InvalidateNamespace(context.Context, string) error { return nil }

type adminCacheEntry struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

type InMemoryAdminListCacheStore struct {
	mu    sync.RWMutex
	store map[string]map[string]adminCacheEntry
}

func NewInMemoryAdminListCacheStore() *InMemoryAdminListCacheStore {
	return &InMemoryAdminListCacheStore{store: make(map[string]map[string]adminCacheEntry)}
}

func (s *InMemoryAdminListCacheStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	payload, ok, _, err := s.GetWithAge(ctx, namespace, key)
	return payload, ok, err
}

func (s *InMemoryAdminListCacheStore) GetWithAge(_ context.Context, namespace, key string) ([]byte, bool, time.Duration, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.store[namespace][key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, 0, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		if ns, ok := s.store[namespace]; ok {
			delete(ns, key)
			if len(ns) == 0 {
				delete(s.store, namespace)
			}
		}
		s.mu.Unlock()
		return nil, false, 0, nil
	}
	return append([]byte(nil), entry.payload...), true, now.Sub(entry.storedAt), nil
}

func (s *InMemoryAdminListCacheStore) Set(_ context.Context, namespace, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.store[namespace]
	if !ok {
		ns = make(map[string]adminCacheEntry)
		s.store[namespace] = ns
	}
	ns[key] = adminCacheEntry{payload: append([]byte(nil), payload...), storedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

func (s *InMemoryAdminListCacheStore) InvalidateNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, namespace)
	return nil
}
