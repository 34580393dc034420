// Package pricing resolves per-model token cost rates from config/models.yaml.
// The rate table is configuration, not logic: the token manager multiplies
// tokens by the resolved rate and records the result.
package pricing

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
)

type fileConfig struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"models"`
	} `yaml:"pricing"`
}

// Fallback when the file provides no default: $0.002 per 1K tokens.
const fallbackPerToken = 0.000002

// Table holds per-model combined token rates. Safe for concurrent reads;
// Reload swaps the whole table under the write lock.
type Table struct {
	path string

	mu       sync.RWMutex
	perToken map[string]float64
	def      float64
}

// Load reads the rate table from path. A missing file is not an error: the
// table falls back to the built-in default rate so cost accounting degrades
// rather than stops.
func Load(path string) (*Table, error) {
	t := &Table{
		path:     path,
		perToken: make(map[string]float64),
		def:      fallbackPerToken,
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the rate table from disk. Hot-swappable via the config
// manager's change handler.
func (t *Table) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pricing config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse pricing config: %w", err)
	}

	perToken := make(map[string]float64, len(cfg.Pricing.Models))
	for model, entry := range cfg.Pricing.Models {
		if entry.CombinedPer1K < 0 {
			return fmt.Errorf("negative combined_per_1k for model %s", model)
		}
		if entry.CombinedPer1K > 0 {
			perToken[model] = entry.CombinedPer1K / 1000.0
		}
	}

	def := fallbackPerToken
	if cfg.Pricing.Defaults.CombinedPer1K > 0 {
		def = cfg.Pricing.Defaults.CombinedPer1K / 1000.0
	}

	t.mu.Lock()
	t.perToken = perToken
	t.def = def
	t.mu.Unlock()
	return nil
}

// RateForModel returns the per-token rate for a model, falling back to the
// table default for unknown models.
func (t *Table) RateForModel(model string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
		return t.def
	}
	if rate, ok := t.perToken[model]; ok {
		return rate
	}
	metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	return t.def
}

// CostForTokens returns the USD cost of tokens under the given model.
func (t *Table) CostForTokens(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	return float64(tokens) * t.RateForModel(model)
}
