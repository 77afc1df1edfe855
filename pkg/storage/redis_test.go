package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisAdapter) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	adapter := NewRedisAdapterFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = adapter.Close()
	})

	return mr, adapter
}

func TestRedisAdapter_RoundTrip(t *testing.T) {
	mr, adapter := setupMiniredis(t)
	ctx := context.Background()

	if err := adapter.Set(ctx, ConsentKey, []byte(`{"necessary":true}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := adapter.Get(ctx, ConsentKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"necessary":true}` {
		t.Errorf("Get = %s, want %s", got, `{"necessary":true}`)
	}

	// Keys are prefixed
	if !mr.Exists("test:" + ConsentKey) {
		t.Error("expected prefixed key in redis")
	}
}

func TestRedisAdapter_MissingKey(t *testing.T) {
	_, adapter := setupMiniredis(t)

	_, err := adapter.Get(context.Background(), "absent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisAdapter_Remove(t *testing.T) {
	_, adapter := setupMiniredis(t)
	ctx := context.Background()

	if err := adapter.Set(ctx, QueueKey, []byte("[]")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := adapter.Remove(ctx, QueueKey); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := adapter.Get(ctx, QueueKey); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after Remove error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisAdapter_Closed(t *testing.T) {
	_, adapter := setupMiniredis(t)

	if err := adapter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent
	if err := adapter.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := adapter.Set(context.Background(), "k", []byte("v")); !errors.Is(err, ErrAdapterClosed) {
		t.Errorf("Set on closed adapter error = %v, want ErrAdapterClosed", err)
	}
}

func TestRedisAdapter_ConfigValidation(t *testing.T) {
	if _, err := NewRedisAdapter(RedisConfig{}); err == nil {
		t.Error("NewRedisAdapter with empty addr expected error")
	}
}
