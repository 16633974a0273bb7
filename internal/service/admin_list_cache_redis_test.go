package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisAdminListCacheInvalidatesOnlyTouchedNamespace(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	store := NewRedisAdminListCacheStore(client, "d4l_test:admin")

	pending := []byte(`{"items":[{"id":1,"status":"pending"}],"total":1}`)
	if err := store.Set(ctx, adminCacheNamespaceClaims, "status=pending&page=1", pending, time.Minute); err != nil {
		t.Fatalf("set claims page: %v", err)
	}
	if err := store.Set(ctx, adminCacheNamespaceClaims, "status=&page=1", pending, time.Minute); err != nil {
		t.Fatalf("set claims page: %v", err)
	}
	if err := store.Set(ctx, adminCacheNamespaceAnalytics, "window=24h", []byte(`{"connect":3}`), time.Minute); err != nil {
		t.Fatalf("set summary: %v", err)
	}

	indexed, err := client.SCard(ctx, store.namespaceIndexKey(adminCacheNamespaceClaims)).Result()
	if err != nil {
		t.Fatalf("scard claims index: %v", err)
	}
	if indexed != 4 {
		t.Fatalf("expected data and meta keys of two pages indexed, got %d", indexed)
	}

	// A confirmed claim drops every cached claims page, twice is harmless.
	for i := 0; i < 2; i++ {
		if err := store.InvalidateNamespace(ctx, adminCacheNamespaceClaims); err != nil {
			t.Fatalf("invalidate claims pass %d: %v", i, err)
		}
	}
	if _, ok, err := store.Get(ctx, adminCacheNamespaceClaims, "status=pending&page=1"); err != nil || ok {
		t.Fatalf("expected claims page evicted, ok=%v err=%v", ok, err)
	}
	payload, ok, err := store.Get(ctx, adminCacheNamespaceAnalytics, "window=24h")
	if err != nil || !ok || string(payload) != `{"connect":3}` {
		t.Fatalf("analytics summary must survive claims invalidation, ok=%v payload=%s err=%v", ok, payload, err)
	}
}

func TestRedisAdminListCacheAgeAndMetaFallbacks(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	store := NewRedisAdminListCacheStore(client, "")

	if err := store.Set(ctx, adminCacheNamespaceClaims, "page=2", []byte(`[]`), 0); err != nil {
		t.Fatalf("zero ttl set: %v", err)
	}
	if _, ok, _ := store.Get(ctx, adminCacheNamespaceClaims, "page=2"); ok {
		t.Fatal("zero ttl must not cache")
	}

	stored := time.Now().Add(-3 * time.Second).UnixMilli()
	dataKey := store.dataKey(adminCacheNamespaceClaims, "page=3")
	metaKey := store.metaKey(adminCacheNamespaceClaims, "page=3")
	if err := server.Set(dataKey, `{"items":[]}`); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	_, ok, age, err := store.GetWithAge(ctx, adminCacheNamespaceClaims, "page=3")
	if err != nil || !ok || age != 0 {
		t.Fatalf("missing meta: ok=%v age=%v err=%v", ok, age, err)
	}

	if err := server.Set(metaKey, "garbage"); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	if _, ok, age, err = store.GetWithAge(ctx, adminCacheNamespaceClaims, "page=3"); err != nil || !ok || age != 0 {
		t.Fatalf("malformed meta: ok=%v age=%v err=%v", ok, age, err)
	}

	if err := server.Set(metaKey, formatMillis(stored)); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	if _, ok, age, err = store.GetWithAge(ctx, adminCacheNamespaceClaims, "page=3"); err != nil || !ok || age < 2*time.Second {
		t.Fatalf("expected age of about 3s, ok=%v age=%v err=%v", ok, age, err)
	}
}
