// Package health polls registered agents independent of traffic, persists
// liveness samples, and walks the escalation ladder: logged warning for soft
// breaches, persisted alert for hard breaches, bounded recovery for agents
// confirmed down. An agent that exhausts its recovery budget is surfaced in
// the report instead of retried forever.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/agents"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
)

// historyPerAgent bounds the in-memory sample window per agent.
const historyPerAgent = 60

// Recoverer requests an agent recovery. Implemented by the agent manager;
// the monitor never mutates registry state itself.
type Recoverer interface {
	RequestRecovery(ctx context.Context, agentID string) error
}

// AgentReport is the per-agent slice of the health report.
type AgentReport struct {
	Alive            bool                  `json:"alive"`
	LastCheck        time.Time             `json:"last_check"`
	Latency          time.Duration         `json:"latency"`
	ErrorRate        float64               `json:"error_rate"`
	RecoveryAttempts int                   `json:"recovery_attempts"`
	GaveUp           bool                  `json:"gave_up"`
	History          []models.HealthMetric `json:"history"`
}

type agentState struct {
	lastCheck        time.Time
	lastAlive        bool
	lastLatency      time.Duration
	recoveryAttempts int
	gaveUp           bool
	hardAlerted      bool
	history          []models.HealthMetric
}

// Monitor is the periodic agent health checker.
type Monitor struct {
	registry  *agents.Registry
	ledger    *store.Ledger // nil disables persistence
	alerter   alerting.Alerter
	recoverer Recoverer
	logger    *zap.Logger

	probeTimeout       time.Duration
	latencyWarning     time.Duration
	errorRateAlert     float64
	maxRecoveryRetries int
	historyRetention   time.Duration

	mu     sync.Mutex
	states map[string]*agentState

	lifecycleMu   sync.Mutex
	started       bool
	stopCh        chan struct{}
	checkInterval time.Duration
	intervalCh    chan time.Duration
}

// NewMonitor creates a health monitor. ledger, alerter, and recoverer may be
// nil; the corresponding side effects are then skipped.
func NewMonitor(cfg config.HealthConfig, registry *agents.Registry, ledger *store.Ledger, alerter alerting.Alerter, recoverer Recoverer, logger *zap.Logger) *Monitor {
	return &Monitor{
		registry:           registry,
		ledger:             ledger,
		alerter:            alerter,
		recoverer:          recoverer,
		logger:             logger,
		probeTimeout:       cfg.ProbeTimeout,
		latencyWarning:     cfg.LatencyWarning,
		errorRateAlert:     cfg.ErrorRateAlert,
		maxRecoveryRetries: cfg.MaxRecoveryRetries,
		historyRetention:   cfg.HistoryRetention,
		states:             make(map[string]*agentState),
		stopCh:             make(chan struct{}),
		checkInterval:      cfg.CheckInterval,
		intervalCh:         make(chan time.Duration, 1),
	}
}

// Initialize loads prior health history from the ledger. Best effort: a
// missing or empty history is a cold start, not an error.
func (m *Monitor) Initialize(ctx context.Context) error {
	if m.ledger == nil {
		return nil
	}

	samples, err := m.ledger.HealthMetricsSince(ctx, time.Now().Add(-m.historyRetention))
	if err != nil {
		m.logger.Warn("Could not load health history, starting cold", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range samples {
		sample := samples[i]
		state := m.state(sample.AgentID)
		state.history = append(state.history, sample)
		if len(state.history) > historyPerAgent {
			state.history = state.history[len(state.history)-historyPerAgent:]
		}
		state.lastCheck = sample.Timestamp
		state.lastAlive = sample.Alive
	}
	m.logger.Info("Health history loaded", zap.Int("samples", len(samples)))
	return nil
}

// state returns the tracked state for an agent, creating it on first sight.
// Caller holds m.mu.
func (m *Monitor) state(agentID string) *agentState {
	s, ok := m.states[agentID]
	if !ok {
		s = &agentState{lastAlive: true}
		m.states[agentID] = s
	}
	return s
}

// StartMonitoring launches the periodic check loop. Idempotent.
func (m *Monitor) StartMonitoring() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	go m.loop(m.stopCh)
	m.logger.Info("Health monitoring started", zap.Duration("interval", m.checkInterval))
}

// StopMonitoring cancels the check loop. Idempotent and safe without a
// prior StartMonitoring.
func (m *Monitor) StopMonitoring() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health monitoring stopped")
}

// SetCheckInterval hot-swaps the check cadence from a config reload.
func (m *Monitor) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	select {
	case m.intervalCh <- interval:
	default:
	}
}

func (m *Monitor) loop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case interval := <-m.intervalCh:
			ticker.Reset(interval)
			m.logger.Info("Health check interval updated", zap.Duration("interval", interval))
		case <-ticker.C:
			m.CheckNow(context.Background())
		}
	}
}

// CheckNow probes every registered agent once. Exposed so callers can force
// a synchronous sweep; the background loop calls it on each tick.
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, agent := range m.registry.List() {
		m.checkAgent(ctx, agent)
	}
	m.pruneDurableHistory(ctx)
}

func (m *Monitor) checkAgent(ctx context.Context, agent agents.Agent) {
	agentID := agent.ID()

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	start := time.Now()
	err := agent.Ping(probeCtx)
	latency := time.Since(start)
	cancel()

	alive := err == nil
	result := "ok"
	if !alive {
		result = "failed"
	}
	metrics.HealthChecks.WithLabelValues(agentID, result).Inc()
	metrics.HealthCheckLatency.WithLabelValues(agentID).Observe(latency.Seconds())

	sample := models.HealthMetric{
		AgentID:   agentID,
		Timestamp: time.Now(),
		Alive:     alive,
		Latency:   latency,
	}

	m.mu.Lock()
	state := m.state(agentID)
	state.history = append(state.history, sample)
	if len(state.history) > historyPerAgent {
		state.history = state.history[len(state.history)-historyPerAgent:]
	}
	errorRate := failureRate(state.history)
	sample.ErrorRate = errorRate
	state.history[len(state.history)-1].ErrorRate = errorRate
	state.lastCheck = sample.Timestamp
	state.lastAlive = alive
	state.lastLatency = latency
	if alive {
		state.recoveryAttempts = 0
		state.gaveUp = false
		state.hardAlerted = false
	}
	attempts := state.recoveryAttempts
	gaveUp := state.gaveUp
	hardAlerted := state.hardAlerted
	m.mu.Unlock()

	if m.ledger != nil {
		if insErr := m.ledger.InsertHealthMetric(ctx, &sample); insErr != nil {
			m.logger.Warn("Health sample write failed", zap.String("agent_id", agentID), zap.Error(insErr))
		}
	}

	// Soft breach: slow but alive.
	if alive && latency > m.latencyWarning {
		m.logger.Warn("Agent responding slowly",
			zap.String("agent_id", agentID),
			zap.Duration("latency", latency),
			zap.Duration("threshold", m.latencyWarning))
	}

	// Hard breach: sustained failure rate.
	if errorRate > m.errorRateAlert && !hardAlerted {
		m.mu.Lock()
		state.hardAlerted = true
		m.mu.Unlock()
		if m.alerter != nil {
			m.alerter.Raise(ctx, &models.Alert{
				Source:   "health",
				Severity: models.SeverityHigh,
				Message:  "agent failure rate over threshold",
				AgentID:  agentID,
			})
		}
	}

	if !alive {
		m.attemptRecovery(ctx, agentID, err, attempts, gaveUp)
	}
}

// attemptRecovery requests one recovery for a confirmed-down agent, bounded
// by the configured retry budget.
func (m *Monitor) attemptRecovery(ctx context.Context, agentID string, probeErr error, attempts int, gaveUp bool) {
	if gaveUp || m.recoverer == nil {
		return
	}

	if attempts >= m.maxRecoveryRetries {
		m.mu.Lock()
		m.state(agentID).gaveUp = true
		m.mu.Unlock()

		metrics.AgentRecoveries.WithLabelValues(agentID, "exhausted").Inc()
		m.logger.Error("Agent recovery budget exhausted, marking failed",
			zap.String("agent_id", agentID),
			zap.Int("attempts", attempts))
		if m.alerter != nil {
			m.alerter.Raise(ctx, &models.Alert{
				Source:   "health",
				Severity: models.SeverityCritical,
				Message:  "agent failed and recovery budget exhausted",
				AgentID:  agentID,
			})
		}
		return
	}

	m.mu.Lock()
	m.state(agentID).recoveryAttempts++
	m.mu.Unlock()

	m.logger.Warn("Agent probe failed, requesting recovery",
		zap.String("agent_id", agentID),
		zap.Int("attempt", attempts+1),
		zap.Error(probeErr))

	if err := m.recoverer.RequestRecovery(ctx, agentID); err != nil {
		metrics.AgentRecoveries.WithLabelValues(agentID, "failed").Inc()
		m.logger.Warn("Agent recovery failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	metrics.AgentRecoveries.WithLabelValues(agentID, "ok").Inc()
}

func (m *Monitor) pruneDurableHistory(ctx context.Context) {
	if m.ledger == nil {
		return
	}
	if n, err := m.ledger.PruneHealthMetrics(ctx, time.Now().Add(-m.historyRetention)); err != nil {
		m.logger.Warn("Health history prune failed", zap.Error(err))
	} else if n > 0 {
		m.logger.Debug("Health history pruned", zap.Int64("rows", n))
	}
}

// GetHealthReport returns the per-agent snapshot: liveness, last check,
// recovery state, and the recent sample window.
func (m *Monitor) GetHealthReport() map[string]AgentReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := make(map[string]AgentReport, len(m.states))
	for agentID, state := range m.states {
		history := make([]models.HealthMetric, len(state.history))
		copy(history, state.history)
		report[agentID] = AgentReport{
			Alive:            state.lastAlive,
			LastCheck:        state.lastCheck,
			Latency:          state.lastLatency,
			ErrorRate:        failureRate(state.history),
			RecoveryAttempts: state.recoveryAttempts,
			GaveUp:           state.gaveUp,
			History:          history,
		}
	}
	return report
}

func failureRate(history []models.HealthMetric) float64 {
	if len(history) == 0 {
		return 0
	}
	failures := 0
	for _, sample := range history {
		if !sample.Alive {
			failures++
		}
	}
	return float64(failures) / float64(len(history))
}
