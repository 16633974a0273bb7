package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionStateCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStateCache(client redis.UniversalClient, prefix string) *RedisSessionStateCache {
	if prefix == "" {
		prefix = "wallet_session"
	}
	return &RedisSessionStateCache{client: client, prefix: prefix}
}

func (s *RedisSessionStateCache) Get(ctx context.Context, address, tokenID string) (time.Time, bool, error) {
	if s.client == nil {
		return time.Time{}, false, nil
	}
	key, err := s.dataKey(ctx, address, tokenID)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

func (s *RedisSessionStateCache) Set(ctx context.Context, address, tokenID string, sessionExpiresAt time.Time, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	key, err := s.dataKey(ctx, address, tokenID)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, strconv.FormatInt(sessionExpiresAt.Unix(), 10), ttl).Err()
}

func (s *RedisSessionStateCache) InvalidateAddress(ctx context.Context, address string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.addressEpochKey(address)).Err()
}

func (s *RedisSessionStateCache) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.globalEpochKey()).Err()
}

func (s *RedisSessionStateCache) dataKey(ctx context.Context, address, tokenID string) (string, error) {
	pipe := s.client.Pipeline()
	globalEpochCmd := pipe.Get(ctx, s.globalEpochKey())
	addressEpochCmd := pipe.Get(ctx, s.addressEpochKey(address))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	globalEpoch, err := parseEpoch(globalEpochCmd)
	if err != nil {
		return "", err
	}
	addressEpoch, err := parseEpoch(addressEpochCmd)
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + buildSessionCacheKey(globalEpoch, addressEpoch, address, tokenID), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisSessionStateCache) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisSessionStateCache) addressEpochKey(address string) string {
	return s.prefix + ":epoch:addr:" + normalizeToken(address)
}
