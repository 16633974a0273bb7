package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClaimLocker serializes work on one address across processes. release is
// always safe to call and only drops a lock the caller still owns.
type ClaimLocker interface {
	Acquire(ctx context.Context, address string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

type InMemoryClaimLocker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

func NewInMemoryClaimLocker() *InMemoryClaimLocker {
	return &InMemoryClaimLocker{locks: map[string]heldLock{}, now: time.Now}
}

func (l *InMemoryClaimLocker) Acquire(_ context.Context, address string, ttl time.Duration) (func(context.Context), bool, error) {
	key := normalizeToken(address)
	token := uuid.NewString()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return func(context.Context) {}, false, nil
	}
	l.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
	}, true, nil
}
