package progress

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"vodpipe/internal/services"
)

// Runs against a real server when VODPIPE_TEST_REDIS_ADDR is set.
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("VODPIPE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VODPIPE_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(RedisOptions{Addr: addr, KeyPrefix: "vodpipe:test:" + t.Name() + ":", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	rec := Record{UploadID: "abc", Status: StatusProcessing, Percent: 42, CreatedAt: time.Now().UTC()}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Percent != 42 || got.Status != StatusProcessing {
		t.Fatalf("unexpected record %+v", got)
	}
	ttl, err := store.client.TTL(ctx, store.key("abc")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s (%v)", ttl, err)
	}
	if err := store.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expired := Record{UploadID: "old", CreatedAt: time.Now().Add(-2 * time.Minute)}
	if err := store.Put(ctx, expired); err != nil {
		t.Fatalf("Put expired: %v", err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expired record should not be stored, got %v", err)
	}
}
