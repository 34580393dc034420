// Package orchestrator owns the agent registry and lifecycle. The Manager
// composes the classifier, router, health monitor, token manager, and error
// handler; it is the only component allowed to mutate agent status, and both
// the health monitor and the error handler funnel recovery requests through
// it.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/agents"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/cache"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/classifier"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/errors"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/health"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/llm"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/pricing"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/router"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/tokens"
)

// classifierAgentID attributes classification spend in the usage ledger.
const classifierAgentID = "classifier"

// defaultMaxTracked caps how many message statuses and results stay in
// memory. Finished messages roll off oldest-first past the cap.
const defaultMaxTracked = 4096

// defaultAgents is the worker pool spun up on Initialize.
var defaultAgents = []struct {
	id      string
	persona string
	caps    []models.Category
}{
	{"code-helper", "You are a hands-on engineer helping hackathon teams debug code and infrastructure.", []models.Category{models.CategoryTechnical}},
	{"coordinator", "You coordinate hackathon teams: schedules, handoffs, blockers between members.", []models.Category{models.CategoryCoordination}},
	{"planner", "You help hackathon teams scope and plan their project work.", []models.Category{models.CategoryPlanning}},
	{"support", "You are the general helpdesk for hackathon participants.", []models.Category{models.CategoryHelp, models.CategoryCoordination}},
}

// Status is the aggregate snapshot a status endpoint exposes.
type Status struct {
	Initialized bool                          `json:"initialized"`
	Agents      map[string]models.AgentStatus `json:"agents"`
	QueueDepth  int                           `json:"queue_depth"`
	Users       int                           `json:"users"`
	Health      map[string]health.AgentReport `json:"health"`
	TokenUsage  tokens.Summary                `json:"token_usage"`
	Errors      errors.Report                 `json:"errors"`
}

// Manager is the orchestration root.
type Manager struct {
	cfg      *config.Config
	provider llm.Provider
	ledger   *store.Ledger // nil in tests
	cacheSvc *cache.Service
	alerter  alerting.Alerter
	pricing  *pricing.Table
	logger   *zap.Logger

	registry   *agents.Registry
	classifier *classifier.Classifier
	router     *router.Router
	health     *health.Monitor
	tokens     *tokens.Manager
	errs       *errors.Handler

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	statuses    map[string]models.MessageStatus
	statusOrder []string
	maxTracked  int
	agentStatus map[string]models.AgentStatus
	users       map[string]struct{}
	results     map[string]*models.ProcessedMessage
}

// NewManager creates an uninitialized manager. ledger and cacheSvc may be
// nil; the provider must not be.
func NewManager(cfg *config.Config, provider llm.Provider, ledger *store.Ledger, cacheSvc *cache.Service, alerter alerting.Alerter, table *pricing.Table, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		provider:    provider,
		ledger:      ledger,
		cacheSvc:    cacheSvc,
		alerter:     alerter,
		pricing:     table,
		logger:      logger,
		statuses:    make(map[string]models.MessageStatus),
		maxTracked:  defaultMaxTracked,
		agentStatus: make(map[string]models.AgentStatus),
		users:       make(map[string]struct{}),
		results:     make(map[string]*models.ProcessedMessage),
	}
}

// Initialize builds the registry, wires the monitoring components, and
// starts the background jobs. Calling it twice is rejected, not re-entered.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return fmt.Errorf("orchestrator already initialized")
	}
	if m.shutdown {
		return fmt.Errorf("orchestrator has been shut down")
	}

	m.registry = agents.NewRegistry(m.logger)
	m.tokens = tokens.NewManager(m.cfg.Tokens, m.ledger, m.pricing, m.alerter, m.logger)
	m.errs = errors.NewHandler(m.cfg.Errors, m.ledger, m.alerter, m, m.logger)
	m.health = health.NewMonitor(m.cfg.Health, m.registry, m.ledger, m.alerter, m, m.logger)

	m.classifier = classifier.New(m.provider, m.cfg.Provider.Model, m.cfg.Classifier.CacheCapacity,
		func(model string, count int) {
			m.meterUsage(classifierAgentID, model, count, "")
		}, m.logger)

	agentUsage := func(agentID, model string, count int, messageID string) {
		m.meterUsage(agentID, model, count, messageID)
	}
	for _, spec := range defaultAgents {
		agent := agents.NewCompletionAgent(spec.id, spec.persona, spec.caps, m.provider, agentUsage, m.logger)
		if err := m.registry.Register(agent); err != nil {
			return fmt.Errorf("register agent: %w", err)
		}
		m.agentStatus[spec.id] = models.AgentInitialized
	}

	m.router = router.New(m.cfg.Router, m.registry, m.errs, m.onStatusChange, m.onResult, m.logger)

	if err := m.health.Initialize(ctx); err != nil {
		return fmt.Errorf("health initialize: %w", err)
	}

	if m.cacheSvc != nil {
		m.cacheSvc.Start()
	}
	m.tokens.StartTracking()
	m.health.StartMonitoring()
	m.router.Start()

	m.initialized = true
	m.logger.Info("Orchestrator initialized", zap.Int("agents", m.registry.Len()))
	return nil
}

// meterUsage records provider spend without failing the caller's path.
func (m *Manager) meterUsage(agentID, model string, count int, messageID string) {
	key := ""
	if messageID != "" {
		key = messageID + ":" + agentID
	}
	err := m.tokens.RecordUsage(context.Background(), &models.TokenUsageRecord{
		AgentID:        agentID,
		Model:          model,
		Tokens:         count,
		IdempotencyKey: key,
	})
	if err != nil {
		m.logger.Warn("Usage metering failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// SubmitMessage validates, classifies, and enqueues one inbound message. A
// failed submission never drops the message silently: its status becomes
// failed and stays queryable.
func (m *Manager) SubmitMessage(ctx context.Context, msg *models.UserMessage) error {
	m.mu.Lock()
	if !m.initialized || m.shutdown {
		m.mu.Unlock()
		return fmt.Errorf("orchestrator is not running")
	}
	m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Status = models.StatusPending

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}

	metrics.MessagesSubmitted.Inc()
	m.setMessageStatus(msg.ID, models.StatusPending)

	if !m.tokens.AllowUser(msg.UserID) {
		err := fmt.Errorf("user %s is over the request rate limit", msg.UserID)
		m.failSubmission(ctx, msg, err, models.SeverityLow, "rate_limit")
		return err
	}

	cls, err := m.classifier.Classify(ctx, msg.Content, msg.Context)
	if err != nil {
		m.failSubmission(ctx, msg, err, models.SeverityMedium, "classify")
		return fmt.Errorf("submit message %s: %w", msg.ID, err)
	}

	if err := m.router.Enqueue(msg, cls); err != nil {
		m.failSubmission(ctx, msg, err, models.SeverityHigh, "enqueue")
		return fmt.Errorf("submit message %s: %w", msg.ID, err)
	}
	return nil
}

func (m *Manager) failSubmission(ctx context.Context, msg *models.UserMessage, err error, severity models.Severity, operation string) {
	msg.Status = models.StatusFailed
	m.setMessageStatus(msg.ID, models.StatusFailed)
	metrics.MessagesCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
	m.errs.HandleError(ctx, err, severity, models.ErrorContext{
		UserID:    msg.UserID,
		MessageID: msg.ID,
		Operation: operation,
	})
}

func (m *Manager) onStatusChange(messageID string, status models.MessageStatus) {
	m.setMessageStatus(messageID, status)
}

func (m *Manager) onResult(result *models.ProcessedMessage) {
	m.mu.Lock()
	m.results[result.MessageID] = result
	m.mu.Unlock()
}

func (m *Manager) setMessageStatus(messageID string, status models.MessageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, tracked := m.statuses[messageID]
	if tracked && current.IsTerminal() {
		return
	}
	if !tracked {
		m.statusOrder = append(m.statusOrder, messageID)
	}
	m.statuses[messageID] = status
	m.pruneTracked()
}

// pruneTracked evicts the oldest finished messages once tracking exceeds
// the cap. In-flight messages are never evicted. Caller holds m.mu.
func (m *Manager) pruneTracked() {
	if len(m.statuses) <= m.maxTracked {
		return
	}
	kept := m.statusOrder[:0]
	for _, id := range m.statusOrder {
		status, ok := m.statuses[id]
		if !ok {
			continue
		}
		if len(m.statuses) > m.maxTracked && status.IsTerminal() {
			delete(m.statuses, id)
			delete(m.results, id)
			continue
		}
		kept = append(kept, id)
	}
	m.statusOrder = kept
}

// GetMessageStatus returns the tracked status for a submitted message.
func (m *Manager) GetMessageStatus(messageID string) (models.MessageStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[messageID]
	return status, ok
}

// GetResult returns the processed result for a completed message.
func (m *Manager) GetResult(messageID string) (*models.ProcessedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[messageID]
	return result, ok
}

// GetAgent looks an agent up by ID. The caller gets a shared reference, not
// ownership.
func (m *Manager) GetAgent(id string) (agents.Agent, bool) {
	if m.registry == nil {
		return nil, false
	}
	return m.registry.Get(id)
}

// AddUser registers a user for per-user state (rate limiting affinity).
func (m *Manager) AddUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = struct{}{}
}

// RemoveUser drops a user's per-user state without touching other users.
func (m *Manager) RemoveUser(userID string) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
	if m.tokens != nil {
		m.tokens.RemoveUser(userID)
	}
}

// RequestRecovery restarts a failed agent in place. Called by the health
// monitor and error handler; they never mutate registry state themselves.
func (m *Manager) RequestRecovery(ctx context.Context, agentID string) error {
	agent, ok := m.GetAgent(agentID)
	if !ok {
		return fmt.Errorf("recovery requested for unknown agent %s", agentID)
	}

	restartable, ok := agent.(agents.Restartable)
	if !ok {
		m.setAgentStatus(agentID, models.AgentDegraded)
		return fmt.Errorf("agent %s does not support restart", agentID)
	}

	m.setAgentStatus(agentID, models.AgentDegraded)
	if err := restartable.Restart(ctx); err != nil {
		m.setAgentStatus(agentID, models.AgentFailed)
		return fmt.Errorf("restart agent %s: %w", agentID, err)
	}
	m.setAgentStatus(agentID, models.AgentInitialized)
	m.logger.Info("Agent recovered", zap.String("agent_id", agentID))
	return nil
}

func (m *Manager) setAgentStatus(agentID string, status models.AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentStatus[agentID] = status
}

// GetStatus aggregates the orchestrator, health, token, and error snapshots.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	initialized := m.initialized && !m.shutdown
	agentStatus := make(map[string]models.AgentStatus, len(m.agentStatus))
	for id, s := range m.agentStatus {
		agentStatus[id] = s
	}
	users := len(m.users)
	m.mu.Unlock()

	status := Status{
		Initialized: initialized,
		Agents:      agentStatus,
		Users:       users,
	}
	if m.router != nil {
		status.QueueDepth = m.router.QueueDepth()
	}
	if m.health != nil {
		status.Health = m.health.GetHealthReport()
	}
	if m.tokens != nil {
		status.TokenUsage = m.tokens.GetUsageSummary()
	}
	if m.errs != nil {
		status.Errors = m.errs.GetErrorReport(time.Time{})
	}
	return status
}

// Shutdown stops the background jobs and releases agents. Safe to call from
// a failure path: idempotent, and partial initialization does not panic.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.mu.Unlock()

	if m.router != nil {
		m.router.Stop()
	}
	if m.health != nil {
		m.health.StopMonitoring()
	}
	if m.tokens != nil {
		m.tokens.StopTracking()
	}
	if m.cacheSvc != nil {
		m.cacheSvc.Stop()
	}
	if m.registry != nil {
		for _, agent := range m.registry.List() {
			m.registry.Deregister(agent.ID())
		}
	}
	m.logger.Info("Orchestrator shut down")
}

// HealthMonitor exposes the monitor for interval hot-swaps.
func (m *Manager) HealthMonitor() *health.Monitor { return m.health }

// TokenManager exposes the token manager for interval hot-swaps.
func (m *Manager) TokenManager() *tokens.Manager { return m.tokens }

// ErrorHandler exposes the error sink for external callers.
func (m *Manager) ErrorHandler() *errors.Handler { return m.errs }
