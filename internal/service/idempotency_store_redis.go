package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var idempotencyBeginScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key, 'fingerprint', ARGV[1], 'status', 'in_progress')
  redis.call('PEXPIRE', key, ARGV[2])
  return {'new'}
end
local data = redis.call('HMGET', key, 'fingerprint', 'status', 'response_status', 'content_type', 'response_body')
if data[1] ~= ARGV[1] then
  return {'conflict'}
end
if data[2] ~= 'completed' then
  return {'in_progress'}
end
return {'replay', data[3] or '', data[4] or '', data[5] or ''}
`)

var idempotencyAbortScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'fingerprint', 'status')
if data[1] == ARGV[1] and data[2] ~= 'completed' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	raw, err := idempotencyBeginScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint, ttl.Milliseconds()).Slice()
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: %w", err)
	}
	if len(raw) == 0 {
		return IdempotencyBeginResult{}, errors.New("idempotency begin: empty reply")
	}
	state, _ := raw[0].(string)
	switch IdempotencyState(state) {
	case IdempotencyStateNew, IdempotencyStateInProgress, IdempotencyStateConflict:
		return IdempotencyBeginResult{State: IdempotencyState(state)}, nil
	case IdempotencyStateReplay:
	default:
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: unexpected state %q", state)
	}
	if len(raw) < 4 {
		return IdempotencyBeginResult{}, errors.New("idempotency begin: short replay reply")
	}
	statusRaw, _ := raw[1].(string)
	contentType, _ := raw[2].(string)
	bodyRaw, _ := raw[3].(string)
	status, err := strconv.Atoi(statusRaw)
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("parse replay status: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(bodyRaw)
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("decode replay body: %w", err)
	}
	return IdempotencyBeginResult{
		State:  IdempotencyStateReplay,
		Cached: &CachedHTTPResponse{StatusCode: status, ContentType: contentType, Body: body},
	}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	redisKey := s.redisKey(scope, key)
	current, err := s.client.HGet(ctx, redisKey, "fingerprint").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != fingerprint {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey,
		"status", "completed",
		"response_status", strconv.Itoa(resp.StatusCode),
		"content_type", resp.ContentType,
		"response_body", base64.StdEncoding.EncodeToString(resp.Body),
	)
	pipe.PExpire(ctx, redisKey, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, scope, key, fingerprint string) error {
	return idempotencyAbortScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint).Err()
}

func (s *RedisIdempotencyStore) redisKey(scope, key string) string {
	return s.prefix + ":" + idempotencyKey(scope, key)
}
