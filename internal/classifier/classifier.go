// Package classifier turns raw message text into a structured routing
// decision via the completion provider, memoizing results in a bounded
// in-memory cache.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/llm"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

const systemPrompt = `You are the message triage component of a hackathon assistant.
Classify the participant message and reply with a single JSON object, no prose:
{"urgency":"critical|high|medium|low","category":"technical|coordination|planning|help","route_to":["agent-id",...],"action":"short imperative","confidence":0.0-1.0}
Known agents: code-helper, coordinator, planner, support.`

// UsageFunc receives the token spend of each provider call.
type UsageFunc func(model string, tokens int)

// Classifier classifies messages with a capacity-bounded FIFO cache. The
// cache key is a SHA-256 over the full normalized content, so near-duplicate
// long messages never collide; eviction is strictly oldest-inserted-first.
type Classifier struct {
	provider llm.Provider
	model    string
	usage    UsageFunc
	logger   *zap.Logger

	mu       sync.Mutex
	cache    map[string]*models.MessageClassification
	order    []string // insertion order for FIFO eviction
	capacity int
}

// New creates a classifier. usage may be nil.
func New(provider llm.Provider, model string, capacity int, usage UsageFunc, logger *zap.Logger) *Classifier {
	if capacity < 1 {
		capacity = 1000
	}
	return &Classifier{
		provider: provider,
		model:    model,
		usage:    usage,
		logger:   logger,
		cache:    make(map[string]*models.MessageClassification),
		capacity: capacity,
	}
}

// Classify returns the classification for content, consulting the cache
// first. A malformed or empty provider response fails the call; retry policy
// belongs to the caller.
func (c *Classifier) Classify(ctx context.Context, content string, msgCtx models.MessageContext) (*models.MessageClassification, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("cannot classify empty content")
	}

	key := cacheKey(content)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		metrics.ClassifierCacheHits.Inc()
		return cached, nil
	}
	c.mu.Unlock()
	metrics.ClassifierCacheMisses.Inc()

	start := time.Now()
	resp, err := c.provider.Complete(ctx, &llm.Request{
		System: systemPrompt,
		Prompt: buildPrompt(content, msgCtx),
		Model:  c.model,
	})
	metrics.ClassificationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("classification call: %w", err)
	}
	if c.usage != nil && resp.TotalTokens > 0 {
		c.usage(resp.Model, resp.TotalTokens)
	}

	classification, err := parseClassification(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("classification response: %w", err)
	}

	c.insert(key, classification)
	return classification, nil
}

// BatchClassify classifies every message concurrently and returns results
// aligned with the input order. Individual failures leave a nil slot and are
// joined into the returned error.
func (c *Classifier) BatchClassify(ctx context.Context, messages []*models.UserMessage) ([]*models.MessageClassification, error) {
	results := make([]*models.MessageClassification, len(messages))
	errs := make([]error, len(messages))

	var wg sync.WaitGroup
	for i, msg := range messages {
		wg.Add(1)
		go func(i int, msg *models.UserMessage) {
			defer wg.Done()
			classification, err := c.Classify(ctx, msg.Content, msg.Context)
			if err != nil {
				errs[i] = fmt.Errorf("message %s: %w", msg.ID, err)
				return
			}
			results[i] = classification
		}(i, msg)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// ClearCache resets all cached classifications.
func (c *Classifier) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*models.MessageClassification)
	c.order = c.order[:0]
}

// CacheSize returns the current number of cached classifications.
func (c *Classifier) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Classifier) insert(key string, classification *models.MessageClassification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; exists {
		// A concurrent miss already filled this key; keep the first result
		// so repeat callers see one stable classification.
		return
	}

	for len(c.cache) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
		metrics.ClassifierCacheEvictions.Inc()
	}

	c.cache[key] = classification
	c.order = append(c.order, key)
}

// cacheKey hashes the full normalized content: lower-cased, trimmed, inner
// whitespace collapsed.
func cacheKey(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func buildPrompt(content string, msgCtx models.MessageContext) string {
	var b strings.Builder
	b.WriteString("Message: ")
	b.WriteString(content)
	if msgCtx.ViewID != "" {
		b.WriteString("\nView: ")
		b.WriteString(msgCtx.ViewID)
	}
	if msgCtx.HackathonID != "" {
		b.WriteString("\nHackathon: ")
		b.WriteString(msgCtx.HackathonID)
	}
	return b.String()
}

// parseClassification decodes and validates the provider's JSON reply,
// tolerating markdown code fences around the object.
func parseClassification(content string) (*models.MessageClassification, error) {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		trimmed = trimmed[idx:]
	}
	if idx := strings.LastIndex(trimmed, "}"); idx >= 0 {
		trimmed = trimmed[:idx+1]
	}

	var classification models.MessageClassification
	if err := json.Unmarshal([]byte(trimmed), &classification); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := classification.Validate(); err != nil {
		return nil, err
	}
	return &classification, nil
}
