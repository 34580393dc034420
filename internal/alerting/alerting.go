// Package alerting fans advisory alerts out to the log and the alert ledger.
// Alerts never block or halt the pipeline that raised them.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
)

// Alerter receives advisory alerts from the monitoring components.
type Alerter interface {
	Raise(ctx context.Context, alert *models.Alert)
}

// Service logs every alert and, when a ledger is attached, persists it.
type Service struct {
	logger *zap.Logger
	ledger *store.Ledger // nil disables persistence
}

// New creates an alerting service. ledger may be nil.
func New(logger *zap.Logger, ledger *store.Ledger) *Service {
	return &Service{logger: logger, ledger: ledger}
}

// Raise records the alert. Persistence failures are logged and swallowed;
// an alert about an alert failing helps nobody.
func (s *Service) Raise(ctx context.Context, alert *models.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	metrics.AlertsRaised.WithLabelValues(alert.Source, string(alert.Severity)).Inc()
	s.logger.Warn("Alert raised",
		zap.String("source", alert.Source),
		zap.String("severity", string(alert.Severity)),
		zap.String("agent_id", alert.AgentID),
		zap.String("message", alert.Message),
	)

	if s.ledger != nil {
		if err := s.ledger.InsertAlert(ctx, alert); err != nil {
			s.logger.Warn("Failed to persist alert", zap.Error(err))
		}
	}
}
