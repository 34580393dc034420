package circuitbreaker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper wraps the Redis client used as the durable cache tier with a
// circuit breaker so a flaky Redis cannot stall the message pipeline.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with the default Redis breaker
// settings.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.Timeout = 15 * time.Second
	cfg.Interval = 30 * time.Second
	return &RedisWrapper{
		client: client,
		cb:     New("redis", cfg, logger),
		logger: logger,
	}
}

// Ping wraps Redis Ping with the circuit breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis Get. A redis.Nil miss is not a failure for the breaker.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis Set with the circuit breaker.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis Del with the circuit breaker.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Keys wraps Redis Keys with the circuit breaker.
func (rw *RedisWrapper) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Keys(ctx, pattern)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsOpen reports whether the breaker is currently open.
func (rw *RedisWrapper) IsOpen() bool {
	return rw.cb.State() == StateOpen
}
