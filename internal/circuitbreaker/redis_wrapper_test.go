package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapperNormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
	if err := wrapper.Set(ctx, "cache:key", "value", time.Minute).Err(); err != nil {
		t.Errorf("set failed: %v", err)
	}
	got := wrapper.Get(ctx, "cache:key")
	if got.Err() != nil || got.Val() != "value" {
		t.Errorf("get returned (%q, %v)", got.Val(), got.Err())
	}

	// Misses return redis.Nil and must not trip the breaker.
	for i := 0; i < 10; i++ {
		if err := wrapper.Get(ctx, "cache:absent").Err(); err != redis.Nil {
			t.Fatalf("expected redis.Nil, got %v", err)
		}
	}
	if wrapper.IsOpen() {
		t.Error("breaker opened on cache misses")
	}

	if n := wrapper.Del(ctx, "cache:key").Val(); n != 1 {
		t.Errorf("expected 1 deleted key, got %d", n)
	}
}

func TestRedisWrapperTripsOnConnectionFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if wrapper.Ping(ctx).Err() == nil {
			t.Fatal("expected ping failure against unreachable server")
		}
	}

	if !wrapper.IsOpen() {
		t.Fatal("expected breaker to open after repeated failures")
	}
	if err := wrapper.Get(ctx, "any").Err(); err != ErrOpen {
		t.Errorf("expected fail-fast ErrOpen, got %v", err)
	}
}
