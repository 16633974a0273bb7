package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "auth_nonce"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) Put(ctx context.Context, address string, rec NonceRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(address, rec.Nonce), strconv.FormatInt(rec.ExpiresAt.Unix(), 10), ttl).Err()
}

// Consume uses GETDEL on the (address, nonce) key, so only the holder of the
// nonce can spend it.
func (s *RedisNonceStore) Consume(ctx context.Context, address, nonce string) (NonceRecord, bool, error) {
	if nonce == "" || len(nonce) > maxNonceLength {
		return NonceRecord{}, false, nil
	}
	raw, err := s.client.GetDel(ctx, s.key(address, nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return NonceRecord{}, false, nil
	}
	if err != nil {
		return NonceRecord{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return NonceRecord{}, false, fmt.Errorf("parse nonce expiry: %w", err)
	}
	rec := NonceRecord{Nonce: nonce, ExpiresAt: time.Unix(unix, 0).UTC()}
	if time.Now().After(rec.ExpiresAt) {
		return NonceRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisNonceStore) key(address, nonce string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, normalizeToken(address), nonce)
}
