package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var claimLockReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisClaimLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClaimLocker(client redis.UniversalClient, prefix string) *RedisClaimLocker {
	if prefix == "" {
		prefix = "claim_lock"
	}
	return &RedisClaimLocker{client: client, prefix: prefix}
}

func (l *RedisClaimLocker) Acquire(ctx context.Context, address string, ttl time.Duration) (func(context.Context), bool, error) {
	key := l.key(address)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func(context.Context) {}, false, fmt.Errorf("acquire claim lock: %w", err)
	}
	if !ok {
		return func(context.Context) {}, false, nil
	}
	return func(ctx context.Context) {
		_ = claimLockReleaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}

func (l *RedisClaimLocker) key(address string) string {
	return fmt.Sprintf("%s:%s", l.prefix, normalizeToken(address))
}
