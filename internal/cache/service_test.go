package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/circuitbreaker"
)

func newTestService(t *testing.T, defaultTTL, sweepInterval time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	rw := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	return NewService(rw, defaultTTL, sweepInterval, zaptest.NewLogger(t)), s
}

func newServiceOn(t *testing.T, mr *miniredis.Miniredis, defaultTTL, sweepInterval time.Duration) *Service {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rw := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	return NewService(rw, defaultTTL, sweepInterval, zaptest.NewLogger(t))
}

func TestSetGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", []byte(`"hello"`), 0))

	got, ok, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"hello"`), got)
}

func TestSetGetArbitraryBytes(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	// Values are opaque: raw strings and binary blobs, not just JSON.
	raw := []byte("plain text, not json")
	blob := []byte{0x00, 0xff, 0x1f, 0x8b}

	require.NoError(t, svc.Set(ctx, "raw", raw, time.Minute))
	require.NoError(t, svc.Set(ctx, "blob", blob, time.Minute))

	got, ok, err := svc.Get(ctx, "raw")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raw, got)

	// The durable tier must round-trip the same bytes.
	svc.mu.Lock()
	svc.entries = map[string]memEntry{}
	svc.mu.Unlock()

	got, ok, err = svc.Get(ctx, "blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, got)
}

func TestGetHonorsTTL(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "short", []byte("v"), 100*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, ok, err := svc.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be absent")
	assert.Zero(t, svc.Size(), "lazy eviction should drop the hot-tier entry")
}

func TestHotTierExpiryKeepsFresherDurableCopy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	ctx := context.Background()

	// Two instances share the durable tier. A's hot entry expires while B
	// has already refreshed the key with a longer TTL.
	a := newServiceOn(t, mr, time.Minute, time.Minute)
	b := newServiceOn(t, mr, time.Minute, time.Minute)

	require.NoError(t, a.Set(ctx, "k", []byte("old"), 50*time.Millisecond))
	require.NoError(t, b.Set(ctx, "k", []byte("fresh"), time.Minute))
	time.Sleep(80 * time.Millisecond)

	got, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "the refreshed durable copy must survive A's hot-tier expiry")
	assert.Equal(t, []byte("fresh"), got)
	assert.True(t, mr.Exists("cache:k"))
}

func TestDurableHitPromotesToMemory(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", []byte("v"), time.Minute))

	// Simulate a fresh instance: empty hot tier, durable tier intact.
	svc.mu.Lock()
	svc.entries = map[string]memEntry{}
	svc.mu.Unlock()

	got, ok, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, svc.Size(), "durable hit should be promoted")
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "short", []byte("v"), 80*time.Millisecond))
	require.NoError(t, svc.Set(ctx, "long", []byte("v"), time.Minute))

	svc.Start()
	defer svc.Stop()

	assert.Eventually(t, func() bool { return svc.Size() == 1 },
		2*time.Second, 20*time.Millisecond, "sweep should evict only the expired entry")
}

func TestSweepResumesAfterRestart(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	svc.Start()
	svc.Stop()
	svc.Start()
	defer svc.Stop()

	require.NoError(t, svc.Set(ctx, "short", []byte("v"), 80*time.Millisecond))

	assert.Eventually(t, func() bool { return svc.Size() == 0 },
		2*time.Second, 20*time.Millisecond, "sweep must keep running after a stop and restart")
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	svc, mr := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, svc.Delete(ctx, "k"))

	_, ok, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("cache:k"))
}

func TestClear(t *testing.T) {
	svc, mr := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, svc.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, svc.Clear(ctx))

	assert.Zero(t, svc.Size())
	assert.False(t, mr.Exists("cache:a"))
	assert.False(t, mr.Exists("cache:b"))
}

func TestMemoizeComputesOncePerMiss(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	first, err := svc.Memoize(ctx, "memo", time.Minute, fn)
	require.NoError(t, err)
	second, err := svc.Memoize(ctx, "memo", time.Minute, fn)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestMemoizeDoesNotCacheFailures(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, time.Minute)
	ctx := context.Background()

	boom := errors.New("compute failed")
	_, err := svc.Memoize(ctx, "memo", time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := svc.Memoize(ctx, "memo", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestGenerateKeyIsStableAndDistinct(t *testing.T) {
	assert.Equal(t, GenerateKey("a", "b"), GenerateKey("a", "b"))
	assert.NotEqual(t, GenerateKey("a", "b"), GenerateKey("ab"))
	assert.NotEqual(t, GenerateKey("a", "b"), GenerateKey("b", "a"))
}
