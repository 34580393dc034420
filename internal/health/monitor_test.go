package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/agents"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

type probeAgent struct {
	id string

	mu      sync.Mutex
	pingErr error
	delay   time.Duration
	pings   int
}

func (p *probeAgent) ID() string                      { return p.id }
func (p *probeAgent) Capabilities() []models.Category { return nil }
func (p *probeAgent) ProcessMessage(_ context.Context, msg *models.UserMessage, _ *models.MessageClassification) (*models.ProcessedMessage, error) {
	return &models.ProcessedMessage{MessageID: msg.ID, AgentID: p.id}, nil
}

func (p *probeAgent) Ping(ctx context.Context) error {
	p.mu.Lock()
	err := p.pingErr
	delay := p.delay
	p.pings++
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *probeAgent) setPingErr(err error) {
	p.mu.Lock()
	p.pingErr = err
	p.mu.Unlock()
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (s *stubAlerter) Raise(_ context.Context, alert *models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *stubAlerter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type stubRecoverer struct {
	mu       sync.Mutex
	requests []string
	err      error
}

func (s *stubRecoverer) RequestRecovery(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, agentID)
	return s.err
}

func (s *stubRecoverer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func testConfig() config.HealthConfig {
	return config.HealthConfig{
		CheckInterval:      time.Hour, // tests drive CheckNow directly
		ProbeTimeout:       200 * time.Millisecond,
		LatencyWarning:     100 * time.Millisecond,
		ErrorRateAlert:     0.5,
		MaxRecoveryRetries: 2,
		HistoryRetention:   time.Hour,
	}
}

func newTestMonitor(t *testing.T, registry *agents.Registry, alerter alerting.Alerter, recoverer Recoverer) *Monitor {
	t.Helper()
	return NewMonitor(testConfig(), registry, nil, alerter, recoverer, zaptest.NewLogger(t))
}

func TestCheckNowRecordsHealthySamples(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner"}
	require.NoError(t, registry.Register(agent))

	m := newTestMonitor(t, registry, nil, nil)
	m.CheckNow(context.Background())

	report := m.GetHealthReport()
	require.Contains(t, report, "planner")
	assert.True(t, report["planner"].Alive)
	assert.False(t, report["planner"].LastCheck.IsZero())
	assert.Len(t, report["planner"].History, 1)
	assert.Zero(t, report["planner"].ErrorRate)
}

func TestFailedProbeRequestsRecovery(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner", pingErr: errors.New("down")}
	require.NoError(t, registry.Register(agent))

	recoverer := &stubRecoverer{}
	m := newTestMonitor(t, registry, &stubAlerter{}, recoverer)

	m.CheckNow(context.Background())
	assert.Equal(t, 1, recoverer.count())
	assert.False(t, m.GetHealthReport()["planner"].Alive)
}

func TestRecoveryBudgetIsBounded(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner", pingErr: errors.New("down")}
	require.NoError(t, registry.Register(agent))

	alerter := &stubAlerter{}
	recoverer := &stubRecoverer{}
	m := newTestMonitor(t, registry, alerter, recoverer)
	ctx := context.Background()

	// MaxRecoveryRetries is 2: two recovery attempts, then give up.
	for i := 0; i < 6; i++ {
		m.CheckNow(ctx)
	}

	assert.Equal(t, 2, recoverer.count(), "recovery attempts must stop at the budget")
	report := m.GetHealthReport()["planner"]
	assert.True(t, report.GaveUp, "exhausted agent is surfaced, not retried forever")

	critical := 0
	alerter.mu.Lock()
	for _, a := range alerter.alerts {
		if a.Severity == models.SeverityCritical {
			critical++
		}
	}
	alerter.mu.Unlock()
	assert.Equal(t, 1, critical, "exhaustion alert fires once")
}

func TestSuccessfulProbeResetsRecoveryState(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner", pingErr: errors.New("down")}
	require.NoError(t, registry.Register(agent))

	recoverer := &stubRecoverer{}
	m := newTestMonitor(t, registry, &stubAlerter{}, recoverer)
	ctx := context.Background()

	m.CheckNow(ctx)
	require.Equal(t, 1, recoverer.count())

	agent.setPingErr(nil)
	m.CheckNow(ctx)

	report := m.GetHealthReport()["planner"]
	assert.True(t, report.Alive)
	assert.Zero(t, report.RecoveryAttempts)
	assert.False(t, report.GaveUp)
}

func TestErrorRateAlertFiresOncePerBreach(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner", pingErr: errors.New("down")}
	require.NoError(t, registry.Register(agent))

	alerter := &stubAlerter{}
	m := newTestMonitor(t, registry, alerter, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.CheckNow(ctx)
	}

	high := 0
	alerter.mu.Lock()
	for _, a := range alerter.alerts {
		if a.Severity == models.SeverityHigh && a.Source == "health" {
			high++
		}
	}
	alerter.mu.Unlock()
	assert.Equal(t, 1, high, "hard breach alert must not repeat while the breach holds")
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner", delay: time.Second}
	require.NoError(t, registry.Register(agent))

	m := newTestMonitor(t, registry, &stubAlerter{}, &stubRecoverer{})
	m.CheckNow(context.Background())

	assert.False(t, m.GetHealthReport()["planner"].Alive, "a probe over its timeout is a failure")
}

func TestStartStopMonitoringIdempotent(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	m := newTestMonitor(t, registry, nil, nil)

	m.StartMonitoring()
	m.StartMonitoring()
	m.StopMonitoring()
	m.StopMonitoring()
}

func TestMonitoringResumesAfterRestart(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner"}
	require.NoError(t, registry.Register(agent))

	cfg := testConfig()
	cfg.CheckInterval = 30 * time.Millisecond
	m := NewMonitor(cfg, registry, nil, nil, nil, zaptest.NewLogger(t))

	m.StartMonitoring()
	m.StopMonitoring()

	agent.mu.Lock()
	agent.pings = 0
	agent.mu.Unlock()

	m.StartMonitoring()
	defer m.StopMonitoring()

	assert.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.pings >= 2
	}, 2*time.Second, 10*time.Millisecond, "checks must keep firing after a stop and restart")
}

func TestInitializeWithoutLedgerIsColdStart(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	m := newTestMonitor(t, registry, nil, nil)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Empty(t, m.GetHealthReport())
}

func TestMonitoringLoopHonorsInterval(t *testing.T) {
	registry := agents.NewRegistry(zaptest.NewLogger(t))
	agent := &probeAgent{id: "planner"}
	require.NoError(t, registry.Register(agent))

	cfg := testConfig()
	cfg.CheckInterval = 30 * time.Millisecond
	m := NewMonitor(cfg, registry, nil, nil, nil, zaptest.NewLogger(t))

	m.StartMonitoring()
	defer m.StopMonitoring()

	assert.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.pings >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
