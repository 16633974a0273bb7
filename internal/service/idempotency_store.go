package service

import (
	"context"
	"sync"
	"time"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
	IdempotencyStateReplay     IdempotencyState = "replay"
	IdempotencyStateConflict   IdempotencyState = "conflict"
)

type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyBeginResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore guards relayed writes against client retries. A key is
// bound to the fingerprint of the first request that used it.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error
	Abort(ctx context.Context, scope, key, fingerprint string) error
}

type idempotencyEntry struct {
	fingerprint string
	completed   bool
	response    CachedHTTPResponse
	expiresAt   time.Time
}

type InMemoryIdempotencyStore struct {
	mu   sync.Mutex
	data map[string]idempotencyEntry
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{data: make(map[string]idempotencyEntry)}
}

func (s *InMemoryIdempotencyStore) Begin(_ context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	now := time.Now().UTC()
	k := idempotencyKey(scope, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[k]
	if !ok || now.After(entry.expiresAt) {
		s.data[k] = idempotencyEntry{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}
	if entry.fingerprint != fingerprint {
		return IdempotencyBeginResult{State: IdempotencyStateConflict}, nil
	}
	if !entry.completed {
		return IdempotencyBeginResult{State: IdempotencyStateInProgress}, nil
	}
	resp := entry.response
	resp.Body = append([]byte(nil), entry.response.Body...)
	return IdempotencyBeginResult{State: IdempotencyStateReplay, Cached: &resp}, nil
}

func (s *InMemoryIdempotencyStore) Complete(_ context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	k := idempotencyKey(scope, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[k]
	if !ok || entry.fingerprint != fingerprint {
		return nil
	}
	resp.Body = append([]byte(nil), resp.Body...)
	entry.completed = true
	entry.response = resp
	entry.expiresAt = time.Now().UTC().Add(ttl)
	s.data[k] = entry
	return nil
}

func (s *InMemoryIdempotencyStore) Abort(_ context.Context, scope, key, fingerprint string) error {
	k := idempotencyKey(scope, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.data[k]; ok && entry.fingerprint == fingerprint && !entry.completed {
		delete(s.data, k)
	}
	return nil
}

func idempotencyKey(scope, key string) string {
	return normalizeToken(scope) + ":" + hashToken(key)
}
