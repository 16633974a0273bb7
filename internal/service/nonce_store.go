package service

import (
	"context"
	"sync"
	"time"
)

const maxNonceLength = 64

type NonceRecord struct {
	Nonce     string
	ExpiresAt time.Time
}

// NonceStore keeps issued login nonces per (address, nonce). Consume removes a
// nonce only when the caller presents it, atomically, so each one verifies at
// most once and a wrong guess leaves other outstanding nonces intact.
type NonceStore interface {
	Put(ctx context.Context, address string, rec NonceRecord) error
	Consume(ctx context.Context, address, nonce string) (NonceRecord, bool, error)
}

type nonceKey struct {
	address string
	nonce   string
}

type InMemoryNonceStore struct {
	mu    sync.Mutex
	store map[nonceKey]time.Time
	now   func() time.Time
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{store: make(map[nonceKey]time.Time), now: time.Now}
}

func (s *InMemoryNonceStore) Put(_ context.Context, address string, rec NonceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.store {
		if now.After(exp) {
			delete(s.store, k)
		}
	}
	s.store[nonceKey{address: normalizeToken(address), nonce: rec.Nonce}] = rec.ExpiresAt
	return nil
}

func (s *InMemoryNonceStore) Consume(_ context.Context, address, nonce string) (NonceRecord, bool, error) {
	if nonce == "" || len(nonce) > maxNonceLength {
		return NonceRecord{}, false, nil
	}
	key := nonceKey{address: normalizeToken(address), nonce: nonce}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.store[key]
	if !ok {
		return NonceRecord{}, false, nil
	}
	delete(s.store, key)
	if s.now().After(exp) {
		return NonceRecord{}, false, nil
	}
	return NonceRecord{Nonce: nonce, ExpiresAt: exp}, true, nil
}
