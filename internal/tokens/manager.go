// Package tokens meters provider token spend: per-agent accounting, cost
// attribution through the pricing table, periodic durable snapshots, and
// advisory budget alerts. Budget crossings never block processing.
package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/pricing"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
)

// seenCapacity bounds the idempotency-key window. Duplicate deliveries
// arrive close together; a few thousand keys of history is plenty.
const seenCapacity = 8192

// AgentUsage is the in-memory running total for one agent.
type AgentUsage struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// Summary is the aggregate usage view returned to status callers.
type Summary struct {
	TotalTokens  int                   `json:"total_tokens"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	PerAgent     map[string]AgentUsage `json:"per_agent"`
	Since        time.Time             `json:"since"`
}

// Manager is the token accounting component. Recording is synchronous and
// cheap; the ledger write is the only I/O and its failure degrades to
// in-memory-only accounting rather than dropping the sample.
type Manager struct {
	ledger  *store.Ledger
	pricing *pricing.Table
	alerter alerting.Alerter
	logger  *zap.Logger

	budgetLimitUSD  float64
	rateLimitPerMin int

	mu            sync.Mutex
	perAgent      map[string]*AgentUsage
	totalTokens   int
	totalCost     float64
	windowStart   time.Time
	windowTokens  int
	windowCost    float64
	trackingStart time.Time
	budgetAlerted bool

	seen      map[string]struct{}
	seenOrder []string

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	lifecycleMu      sync.Mutex
	started          bool
	stopCh           chan struct{}
	snapshotInterval time.Duration
	intervalCh       chan time.Duration
}

// NewManager creates a token manager from config. ledger may be nil in
// tests; snapshots and history queries then degrade gracefully.
func NewManager(cfg config.TokensConfig, ledger *store.Ledger, table *pricing.Table, alerter alerting.Alerter, logger *zap.Logger) *Manager {
	return &Manager{
		ledger:           ledger,
		pricing:          table,
		alerter:          alerter,
		logger:           logger,
		budgetLimitUSD:   cfg.BudgetLimitUSD,
		rateLimitPerMin:  cfg.RateLimitPerMin,
		perAgent:         make(map[string]*AgentUsage),
		seen:             make(map[string]struct{}),
		limiters:         make(map[string]*rate.Limiter),
		stopCh:           make(chan struct{}),
		snapshotInterval: cfg.SnapshotInterval,
		intervalCh:       make(chan time.Duration, 1),
	}
}

// RecordUsage accounts one provider call. A repeated idempotency key is a
// duplicate delivery and is dropped silently. Cost is derived from the
// pricing table when the record carries none.
func (m *Manager) RecordUsage(ctx context.Context, rec *models.TokenUsageRecord) error {
	if rec.AgentID == "" {
		return fmt.Errorf("usage record requires agent_id")
	}
	if rec.Tokens < 0 {
		return fmt.Errorf("usage record tokens cannot be negative")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.CostUSD == 0 && m.pricing != nil {
		rec.CostUSD = m.pricing.CostForTokens(rec.Model, rec.Tokens)
	}

	m.mu.Lock()
	if rec.IdempotencyKey != "" {
		if _, dup := m.seen[rec.IdempotencyKey]; dup {
			m.mu.Unlock()
			return nil
		}
		m.remember(rec.IdempotencyKey)
	}

	usage, ok := m.perAgent[rec.AgentID]
	if !ok {
		usage = &AgentUsage{}
		m.perAgent[rec.AgentID] = usage
	}
	usage.Tokens += rec.Tokens
	usage.CostUSD += rec.CostUSD
	m.totalTokens += rec.Tokens
	m.totalCost += rec.CostUSD
	m.windowTokens += rec.Tokens
	m.windowCost += rec.CostUSD
	if m.trackingStart.IsZero() {
		m.trackingStart = rec.Timestamp
	}
	m.mu.Unlock()

	metrics.RecordTokenUsage(rec.AgentID, rec.Model, rec.Tokens, rec.CostUSD)

	if m.ledger != nil {
		if err := m.ledger.InsertTokenUsage(ctx, rec); err != nil {
			m.logger.Warn("Token usage ledger write failed",
				zap.String("agent_id", rec.AgentID), zap.Error(err))
		}
	}

	m.checkBudget(ctx)
	return nil
}

// remember appends key to the bounded idempotency window. Caller holds m.mu.
func (m *Manager) remember(key string) {
	for len(m.seen) >= seenCapacity {
		oldest := m.seenOrder[0]
		m.seenOrder = m.seenOrder[1:]
		delete(m.seen, oldest)
	}
	m.seen[key] = struct{}{}
	m.seenOrder = append(m.seenOrder, key)
}

// AllowUser reports whether the user is within their per-minute request
// budget. A zero configured limit disables rate limiting entirely.
func (m *Manager) AllowUser(userID string) bool {
	if m.rateLimitPerMin <= 0 {
		return true
	}

	m.limitersMu.Lock()
	limiter, ok := m.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.rateLimitPerMin)), m.rateLimitPerMin)
		m.limiters[userID] = limiter
	}
	m.limitersMu.Unlock()

	return limiter.Allow()
}

// RemoveUser drops the user's rate limiter state.
func (m *Manager) RemoveUser(userID string) {
	m.limitersMu.Lock()
	delete(m.limiters, userID)
	m.limitersMu.Unlock()
}

// StartTracking launches the periodic snapshot job. Idempotent.
func (m *Manager) StartTracking() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.mu.Lock()
	m.windowStart = time.Now()
	if m.trackingStart.IsZero() {
		m.trackingStart = m.windowStart
	}
	m.mu.Unlock()

	m.stopCh = make(chan struct{})
	go m.snapshotLoop(m.stopCh)
	m.logger.Info("Token tracking started", zap.Duration("snapshot_interval", m.snapshotInterval))
}

// StopTracking halts the snapshot job after flushing a final snapshot.
// Idempotent and safe without a prior StartTracking.
func (m *Manager) StopTracking() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
	m.snapshot(context.Background())
	m.logger.Info("Token tracking stopped")
}

// SetSnapshotInterval hot-swaps the snapshot cadence from a config reload.
func (m *Manager) SetSnapshotInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	select {
	case m.intervalCh <- interval:
	default:
	}
}

func (m *Manager) snapshotLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case interval := <-m.intervalCh:
			ticker.Reset(interval)
			m.logger.Info("Snapshot interval updated", zap.Duration("interval", interval))
		case <-ticker.C:
			m.snapshot(context.Background())
		}
	}
}

// snapshot persists the current window's aggregate and opens a new window.
// An empty window writes nothing.
func (m *Manager) snapshot(ctx context.Context) {
	m.mu.Lock()
	tokens, cost := m.windowTokens, m.windowCost
	start := m.windowStart
	end := time.Now()
	m.windowTokens, m.windowCost = 0, 0
	m.windowStart = end
	m.mu.Unlock()

	if tokens == 0 && cost == 0 {
		return
	}
	if m.ledger == nil {
		return
	}

	err := m.ledger.InsertUsageSnapshot(ctx, &models.UsageSnapshot{
		TotalTokens: tokens,
		TotalCost:   cost,
		WindowStart: start,
		WindowEnd:   end,
	})
	if err != nil {
		m.logger.Warn("Usage snapshot write failed", zap.Error(err))
	}
}

// GetTokenUsage returns the durable usage rows newer than since.
func (m *Manager) GetTokenUsage(ctx context.Context, since time.Time) ([]models.TokenUsageRecord, error) {
	if m.ledger == nil {
		return nil, fmt.Errorf("usage history requires a ledger")
	}
	return m.ledger.TokenUsageSince(ctx, since)
}

// GetUsageSummary returns the in-memory running totals.
func (m *Manager) GetUsageSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	perAgent := make(map[string]AgentUsage, len(m.perAgent))
	for id, u := range m.perAgent {
		perAgent[id] = *u
	}
	return Summary{
		TotalTokens:  m.totalTokens,
		TotalCostUSD: m.totalCost,
		PerAgent:     perAgent,
		Since:        m.trackingStart,
	}
}

// GetProjectedCost extrapolates the observed spend rate over horizon.
// Returns zero until enough history exists to project from.
func (m *Manager) GetProjectedCost(horizon time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.trackingStart.IsZero() || m.totalCost == 0 {
		return 0
	}
	elapsed := time.Since(m.trackingStart)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return m.totalCost / elapsed.Seconds() * horizon.Seconds()
}

// checkBudget raises a level-triggered advisory alert when accrued spend
// crosses the configured limit, and re-arms once spend resets below it.
func (m *Manager) checkBudget(ctx context.Context) {
	if m.budgetLimitUSD <= 0 {
		return
	}

	m.mu.Lock()
	over := m.totalCost >= m.budgetLimitUSD
	fire := over && !m.budgetAlerted
	m.budgetAlerted = over
	total := m.totalCost
	m.mu.Unlock()

	if !fire {
		return
	}

	metrics.BudgetAlerts.Inc()
	m.logger.Warn("Budget limit crossed",
		zap.Float64("total_cost_usd", total),
		zap.Float64("limit_usd", m.budgetLimitUSD))

	if m.alerter != nil {
		m.alerter.Raise(ctx, &models.Alert{
			Source:   "budget",
			Severity: models.SeverityHigh,
			Message: fmt.Sprintf("accrued cost $%.4f crossed budget limit $%.2f; processing continues",
				total, m.budgetLimitUSD),
		})
	}
}

// CheckBudgetAlerts reports whether accrued or projected (24h) cost crosses
// limit, raising an advisory alert when it does. A non-positive limit falls
// back to the configured budget. Alerting only; processing is never halted.
func (m *Manager) CheckBudgetAlerts(ctx context.Context, limit float64) bool {
	if limit <= 0 {
		limit = m.budgetLimitUSD
	}
	if limit <= 0 {
		return false
	}

	m.mu.Lock()
	accrued := m.totalCost
	m.mu.Unlock()
	projected := m.GetProjectedCost(24 * time.Hour)

	over := accrued >= limit || projected >= limit
	if !over {
		return false
	}

	metrics.BudgetAlerts.Inc()
	m.logger.Warn("Budget check crossed limit",
		zap.Float64("accrued_usd", accrued),
		zap.Float64("projected_24h_usd", projected),
		zap.Float64("limit_usd", limit))
	if m.alerter != nil {
		m.alerter.Raise(ctx, &models.Alert{
			Source:   "budget",
			Severity: models.SeverityHigh,
			Message: fmt.Sprintf("budget check: accrued $%.4f, projected 24h $%.4f, limit $%.2f",
				accrued, projected, limit),
		})
	}
	return true
}

// ResetTotals clears the in-memory accounting. The durable ledger is
// untouched; this exists for tests and for explicit operator resets.
func (m *Manager) ResetTotals() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perAgent = make(map[string]*AgentUsage)
	m.totalTokens, m.totalCost = 0, 0
	m.windowTokens, m.windowCost = 0, 0
	m.budgetAlerted = false
	m.trackingStart = time.Time{}
}
