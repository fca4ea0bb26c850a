package redis

import (
	"context"
	"testing"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*NegativeLookups, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewNegativeLookups(client, ttl, logger.Nop()), mr
}

func TestNegativeLookups_RecordAndExpire(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Second)
	const bad = "https://broken.example"

	if store.IsRecentFailure(ctx, bad) {
		t.Fatal("unknown URL reported as recent failure")
	}
	store.RecordFailure(ctx, bad)
	if !store.IsRecentFailure(ctx, bad) {
		t.Fatal("recorded URL not reported as recent failure")
	}
	if !mr.Exists(NegativeKey(bad)) {
		t.Errorf("key %q missing", NegativeKey(bad))
	}
	if ttl := mr.TTL(NegativeKey(bad)); ttl != time.Second {
		t.Errorf("TTL = %v, want 1s", ttl)
	}

	mr.FastForward(time.Second)
	if store.IsRecentFailure(ctx, bad) {
		t.Error("entry still reported after its TTL")
	}
}

func TestNegativeLookups_Forget(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Minute)

	store.RecordFailure(ctx, "https://a.example")
	store.RecordFailure(ctx, "https://b.example")

	if err := store.Forget(ctx, "https://a.example"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if store.IsRecentFailure(ctx, "https://a.example") {
		t.Error("forgotten URL still reported")
	}
	if !mr.Exists(NegativeKey("https://b.example")) {
		t.Error("Forget() removed another URL")
	}
	if err := store.Forget(ctx, "https://unknown.example"); err != nil {
		t.Errorf("Forget(unknown) error = %v", err)
	}
}

func TestNegativeLookups_RedisDownIsAMiss(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Minute)
	store.RecordFailure(ctx, "https://a.example")
	mr.Close()

	if store.IsRecentFailure(ctx, "https://a.example") {
		t.Error("IsRecentFailure() = true with Redis down, want false")
	}
	if err := store.Forget(ctx, "https://a.example"); err == nil {
		t.Error("Forget() = nil with Redis down")
	}
}
