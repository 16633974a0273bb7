package service

import (
	"context"
	"testing"
	"time"
)

func TestSessionStateCachesKeyingAndInvalidation(t *testing.T) {
	_, client := newRedisClientForTest(t)
	caches := map[string]SessionStateCache{
		"memory": NewInMemorySessionStateCache(),
		"redis":  NewRedisSessionStateCache(client, "sess_test"),
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			addr := "0x00000000000000000000000000000000000000aa"
			expires := time.Now().Add(time.Hour).Truncate(time.Second).UTC()

			if err := cache.Set(ctx, addr, "tok-1", expires, time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, ok, err := cache.Get(ctx, addr, "tok-1")
			if err != nil || !ok {
				t.Fatalf("expected hit, ok=%v err=%v", ok, err)
			}
			if !got.Equal(expires) {
				t.Fatalf("unexpected expiry %v", got)
			}
			if _, ok, _ := cache.Get(ctx, addr, "tok-2"); ok {
				t.Fatal("unexpected hit for other token")
			}

			if err := cache.InvalidateAddress(ctx, addr); err != nil {
				t.Fatalf("invalidate address: %v", err)
			}
			if _, ok, _ := cache.Get(ctx, addr, "tok-1"); ok {
				t.Fatal("expected miss after address invalidation")
			}

			_ = cache.Set(ctx, addr, "tok-1", expires, time.Minute)
			if err := cache.InvalidateAll(ctx); err != nil {
				t.Fatalf("invalidate all: %v", err)
			}
			if _, ok, _ := cache.Get(ctx, addr, "tok-1"); ok {
				t.Fatal("expected miss after global invalidation")
			}
		})
	}
}

func TestRedisSessionStateCacheExpires(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	cache := NewRedisSessionStateCache(client, "sess_test")
	_ = cache.Set(ctx, "0x01", "tok", time.Now().Add(time.Hour), 2*time.Second)
	server.FastForward(3 * time.Second)
	if _, ok, _ := cache.Get(ctx, "0x01", "tok"); ok {
		t.Fatal("expected miss after ttl")
	}
}
