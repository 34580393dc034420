// Package cache implements the two-tier cache: a per-instance in-memory hot
// tier backed by Redis as the durable, cross-instance tier. Reads check
// memory first, fall through to Redis, and promote durable hits back into
// memory. The hot tier is never authoritative; instances scale statelessly.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/circuitbreaker"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
)

const keyPrefix = "cache:"

// envelope is the durable-tier wire format. The absolute expiry rides with
// the value so a promotion into memory keeps the remaining TTL. Value is
// opaque bytes, not JSON: callers cache arbitrary payloads.
type envelope struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp"`
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Service is the two-tier TTL cache.
type Service struct {
	redis         *circuitbreaker.RedisWrapper
	logger        *zap.Logger
	defaultTTL    time.Duration
	sweepInterval time.Duration

	mu      sync.RWMutex
	entries map[string]memEntry

	lifecycleMu sync.Mutex
	started     bool
	stopCh      chan struct{}
}

// NewService creates a cache service over the given Redis tier.
func NewService(rw *circuitbreaker.RedisWrapper, defaultTTL, sweepInterval time.Duration, logger *zap.Logger) *Service {
	return &Service{
		redis:         rw,
		logger:        logger,
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
		entries:       make(map[string]memEntry),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background sweep that bounds hot-tier growth between
// reads. Idempotent.
func (s *Service) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	go s.sweepLoop(s.stopCh)
	s.logger.Info("Cache sweep started", zap.Duration("interval", s.sweepInterval))
}

// Stop cancels the sweep. Idempotent and safe without a prior Start.
func (s *Service) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.started {
		return
	}
	close(s.stopCh)
	s.started = false
	s.logger.Info("Cache sweep stopped")
}

// Get returns the raw cached bytes for key. The second return is false on a
// miss in both tiers. Expired entries are evicted lazily on read.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := time.Now()

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if ok {
		if !entry.expired(now) {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return entry.value, true, nil
		}
		// Lazy eviction from the hot tier only. The durable copy may have
		// been refreshed by another instance; the read below and the Redis
		// TTL own its lifetime.
		s.evictMemory(key)
	}

	data, err := s.redis.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("durable tier get: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decode durable entry: %w", err)
	}
	if now.After(env.ExpiresAt) {
		s.evict(ctx, key)
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	// Promote the durable hit into memory with its remaining TTL.
	s.mu.Lock()
	s.entries[key] = memEntry{value: env.Value, expiresAt: env.ExpiresAt}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	metrics.CacheHits.WithLabelValues("durable").Inc()
	return env.Value, true, nil
}

// Set writes value to both tiers. A zero ttl uses the configured default.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)

	env, err := json.Marshal(envelope{Value: value, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encode durable entry: %w", err)
	}

	if err := s.redis.Set(ctx, keyPrefix+key, env, ttl).Err(); err != nil {
		return fmt.Errorf("durable tier set: %w", err)
	}

	s.mu.Lock()
	s.entries[key] = memEntry{value: value, expiresAt: expiresAt}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()
	return nil
}

// Delete removes key from both tiers.
func (s *Service) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if err := s.redis.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("durable tier delete: %w", err)
	}
	return nil
}

// Clear removes every cache entry from both tiers.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]memEntry)
	metrics.CacheSize.Set(0)
	s.mu.Unlock()

	keys, err := s.redis.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("durable tier scan: %w", err)
	}
	if len(keys) > 0 {
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("durable tier clear: %w", err)
		}
	}
	return nil
}

// Memoize returns the cached bytes for key, computing and caching fn's
// result on a miss. Exactly-once computation is only guaranteed when callers
// serialize Memoize calls for the same key; concurrent misses may compute
// twice, last write wins.
func (s *Service) Memoize(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok, err := s.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Set(ctx, key, value, ttl); err != nil {
		// The computation succeeded; a failed cache write is not fatal.
		s.logger.Warn("Memoize cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// GenerateKey derives a stable content hash from the given parts.
func GenerateKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

// Size returns the current hot-tier entry count.
func (s *Service) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictMemory drops a hot-tier entry without touching the durable tier.
func (s *Service) evictMemory(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()
	metrics.CacheEvictions.Inc()
}

func (s *Service) evict(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if err := s.redis.Del(ctx, keyPrefix+key).Err(); err != nil {
		s.logger.Warn("Durable tier eviction failed", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheEvictions.Inc()
}

func (s *Service) sweepLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep proactively drops expired hot-tier entries; Redis expires its own
// keys via TTL.
func (s *Service) sweep() {
	now := time.Now()
	evicted := 0

	s.mu.Lock()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			evicted++
		}
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
		s.logger.Debug("Cache sweep completed", zap.Int("evicted", evicted))
	}
}
