package service

import (
	"context"
	"testing"
	"time"
)

// Both stores must walk the same state machine:
// new -> in_progress -> (completed -> replay | aborted -> new), with a
// differing fingerprint reported as conflict at every point.
func TestIdempotencyStoresShareStateMachine(t *testing.T) {
	stores := map[string]func(t *testing.T) IdempotencyStore{
		"memory": func(*testing.T) IdempotencyStore { return NewInMemoryIdempotencyStore() },
		"redis": func(t *testing.T) IdempotencyStore {
			_, client := newRedisClientForTest(t)
			return NewRedisIdempotencyStore(client, "d4l_test:idem")
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			const scope, key = "transaction", "airdrop-0001"

			expect := func(fp string, want IdempotencyState) IdempotencyBeginResult {
				t.Helper()
				res, err := store.Begin(ctx, scope, key, fp, time.Minute)
				if err != nil {
					t.Fatalf("begin %s: %v", fp, err)
				}
				if res.State != want {
					t.Fatalf("begin %s: state %s want %s", fp, res.State, want)
				}
				return res
			}

			expect("fp-airdrop", IdempotencyStateNew)
			expect("fp-airdrop", IdempotencyStateInProgress)
			expect("fp-transfer", IdempotencyStateConflict)

			if err := store.Abort(ctx, scope, key, "fp-transfer"); err != nil {
				t.Fatalf("abort foreign: %v", err)
			}
			expect("fp-airdrop", IdempotencyStateInProgress)

			if err := store.Abort(ctx, scope, key, "fp-airdrop"); err != nil {
				t.Fatalf("abort: %v", err)
			}
			expect("fp-airdrop", IdempotencyStateNew)

			relayed := CachedHTTPResponse{
				StatusCode:  200,
				ContentType: "application/json",
				Body:        []byte(`{"success":true,"data":{"transactionHash":"0x01"}}`),
			}
			if err := store.Complete(ctx, scope, key, "fp-airdrop", relayed, time.Minute); err != nil {
				t.Fatalf("complete: %v", err)
			}
			replay := expect("fp-airdrop", IdempotencyStateReplay)
			if replay.Cached == nil || replay.Cached.StatusCode != 200 || string(replay.Cached.Body) != string(relayed.Body) {
				t.Fatalf("unexpected replay payload: %+v", replay.Cached)
			}
			expect("fp-transfer", IdempotencyStateConflict)

			if res, err := store.Begin(ctx, "claim", key, "fp-airdrop", time.Minute); err != nil || res.State != IdempotencyStateNew {
				t.Fatalf("scopes must not share keys, got %+v err=%v", res, err)
			}
		})
	}
}

func TestRedisIdempotencyStoreCompleteExtendsTTL(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	store := NewRedisIdempotencyStore(client, "d4l_test:idem")

	if _, err := store.Begin(ctx, "claim", "k", "fp", time.Second); err != nil {
		t.Fatalf("begin: %v", err)
	}
	redisKey := store.redisKey("claim", "k")
	if ttl := server.TTL(redisKey); ttl <= 0 || ttl > time.Second {
		t.Fatalf("expected in-progress ttl of at most 1s, got %v", ttl)
	}

	if err := store.Complete(ctx, "claim", "k", "fp", CachedHTTPResponse{StatusCode: 202, Body: []byte(`{}`)}, time.Hour); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ttl := server.TTL(redisKey); ttl <= time.Minute {
		t.Fatalf("expected completed record to keep the replay ttl, got %v", ttl)
	}

	server.FastForward(2 * time.Hour)
	if res, err := store.Begin(ctx, "claim", "k", "fp", time.Second); err != nil || res.State != IdempotencyStateNew {
		t.Fatalf("expected expired record to start fresh, got %+v err=%v", res, err)
	}
}

func TestRedisIdempotencyStoreRejectsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	store := NewRedisIdempotencyStore(client, "d4l_test:idem")
	redisKey := store.redisKey("transaction", "corrupt")

	cases := []struct {
		name   string
		status string
		body   string
	}{
		{name: "status", status: "NaN", body: "eyJvayI6dHJ1ZX0="},
		{name: "body", status: "200", body: "!!!not-base64!!!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := client.HSet(ctx, redisKey,
				"fingerprint", "fp",
				"status", "completed",
				"response_status", tc.status,
				"content_type", "application/json",
				"response_body", tc.body,
			).Err(); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if _, err := store.Begin(ctx, "transaction", "corrupt", "fp", time.Second); err == nil {
				t.Fatal("expected corrupt replay record to fail")
			}
		})
	}
}
