// Package errors is the terminal sink for pipeline failures. It grades each
// failure by severity, persists the serious ones, requests agent recovery,
// and escalates same-pattern clusters (storms) even when the individual
// errors are mild. HandleError never returns an error: a sink that can fail
// just moves the problem.
package errors

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
)

// Recoverer requests an agent recovery. Implemented by the agent manager;
// the handler never touches registry state directly.
type Recoverer interface {
	RequestRecovery(ctx context.Context, agentID string) error
}

// eventLogCapacity bounds the in-memory event log that backs windowed
// reports. Oldest events roll off first.
const eventLogCapacity = 4096

type errorEvent struct {
	at       time.Time
	severity models.Severity
	pattern  string
}

// Report is the aggregate error view for status callers.
type Report struct {
	CountsBySeverity map[models.Severity]int `json:"counts_by_severity"`
	CountsByPattern  map[string]int          `json:"counts_by_pattern"`
	ActiveStorms     []string                `json:"active_storms"`
	Since            time.Time               `json:"since"`
}

// Handler implements the severity-tiered error protocol.
type Handler struct {
	ledger    *store.Ledger // nil disables persistence
	alerter   alerting.Alerter
	recoverer Recoverer
	logger    *zap.Logger

	stormWindow    time.Duration
	stormThreshold int

	mu         sync.Mutex
	bySeverity map[models.Severity]int
	byPattern  map[string]int
	recent     map[string][]time.Time // per-pattern timestamps inside the window
	storming   map[string]bool        // level-triggered storm state per pattern
	events     []errorEvent           // bounded log backing windowed reports
	since      time.Time
}

// NewHandler creates an error handler. ledger and recoverer may be nil.
func NewHandler(cfg config.ErrorsConfig, ledger *store.Ledger, alerter alerting.Alerter, recoverer Recoverer, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:         ledger,
		alerter:        alerter,
		recoverer:      recoverer,
		logger:         logger,
		stormWindow:    cfg.StormWindow,
		stormThreshold: cfg.StormThreshold,
		bySeverity:     make(map[models.Severity]int),
		byPattern:      make(map[string]int),
		recent:         make(map[string][]time.Time),
		storming:       make(map[string]bool),
		since:          time.Now(),
	}
}

// HandleError grades and records one failure.
//
// LOW and MEDIUM are logged and counted. HIGH is additionally persisted,
// alerted, and triggers an agent-scoped recovery when the context names an
// agent. CRITICAL does everything HIGH does, immediately and at page
// severity. Frequency escalates independently: a same-pattern cluster inside
// the storm window raises a storm alert regardless of individual severities.
func (h *Handler) HandleError(ctx context.Context, err error, severity models.Severity, errCtx models.ErrorContext) {
	if err == nil {
		return
	}
	now := time.Now()
	pattern := PatternKey(err)

	metrics.ErrorsHandled.WithLabelValues(string(severity)).Inc()

	fields := []zap.Field{
		zap.Error(err),
		zap.String("severity", string(severity)),
		zap.String("pattern", pattern),
		zap.String("agent_id", errCtx.AgentID),
		zap.String("operation", errCtx.Operation),
	}

	switch severity {
	case models.SeverityLow:
		h.logger.Debug("Handled error", fields...)
	case models.SeverityMedium:
		h.logger.Warn("Handled error", fields...)
	case models.SeverityHigh, models.SeverityCritical:
		h.logger.Error("Handled error", fields...)
	default:
		severity = models.SeverityMedium
		h.logger.Warn("Handled error (unknown severity)", fields...)
	}

	storm := h.count(pattern, severity, now)

	if severity == models.SeverityHigh || severity == models.SeverityCritical {
		h.persist(ctx, err, severity, pattern, errCtx, now)
		if h.alerter != nil {
			h.alerter.Raise(ctx, &models.Alert{
				Source:   "errors",
				Severity: severity,
				Message:  err.Error(),
				AgentID:  errCtx.AgentID,
			})
		}
		if errCtx.AgentID != "" && h.recoverer != nil {
			if recErr := h.recoverer.RequestRecovery(ctx, errCtx.AgentID); recErr != nil {
				h.logger.Warn("Recovery request failed",
					zap.String("agent_id", errCtx.AgentID), zap.Error(recErr))
			}
		}
	}

	if storm {
		metrics.ErrorStorms.WithLabelValues(pattern).Inc()
		h.logger.Error("Error storm detected",
			zap.String("pattern", pattern),
			zap.Int("threshold", h.stormThreshold),
			zap.Duration("window", h.stormWindow))
		if h.alerter != nil {
			h.alerter.Raise(ctx, &models.Alert{
				Source:   "errors",
				Severity: models.SeverityCritical,
				Message:  "error storm: pattern " + pattern + " exceeded threshold",
				AgentID:  errCtx.AgentID,
			})
		}
	}
}

// count updates the counters and sliding window. Returns true exactly when
// the pattern crosses the storm threshold; the state is level-triggered, so
// a pattern that stays hot fires once until it cools below the threshold.
func (h *Handler) count(pattern string, severity models.Severity, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bySeverity[severity]++
	h.byPattern[pattern]++

	cutoff := now.Add(-h.stormWindow)
	window := h.recent[pattern]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	h.recent[pattern] = kept

	h.events = append(h.events, errorEvent{at: now, severity: severity, pattern: pattern})
	if len(h.events) > eventLogCapacity {
		h.events = h.events[len(h.events)-eventLogCapacity:]
	}

	over := len(kept) >= h.stormThreshold
	fire := over && !h.storming[pattern]
	h.storming[pattern] = over
	return fire
}

func (h *Handler) persist(ctx context.Context, err error, severity models.Severity, pattern string, errCtx models.ErrorContext, now time.Time) {
	if h.ledger == nil {
		return
	}
	rec := &models.ErrorRecord{
		Message:   err.Error(),
		Severity:  severity,
		Pattern:   pattern,
		Context:   errCtx,
		Timestamp: now,
	}
	if insErr := h.ledger.InsertErrorRecord(ctx, rec); insErr != nil {
		h.logger.Warn("Failed to persist error record", zap.Error(insErr))
	}
}

// GetErrorReport returns the counters and active storm patterns. A zero
// since covers the handler's full lifetime; a non-zero since narrows the
// counts to errors at or after that instant, bounded by the event log.
func (h *Handler) GetErrorReport(since time.Time) Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	bySeverity := make(map[models.Severity]int, len(h.bySeverity))
	byPattern := make(map[string]int, len(h.byPattern))
	reportSince := h.since

	if since.IsZero() {
		for k, v := range h.bySeverity {
			bySeverity[k] = v
		}
		for k, v := range h.byPattern {
			byPattern[k] = v
		}
	} else {
		reportSince = since
		for _, ev := range h.events {
			if ev.at.Before(since) {
				continue
			}
			bySeverity[ev.severity]++
			byPattern[ev.pattern]++
		}
	}

	var storms []string
	for pattern, active := range h.storming {
		if active {
			storms = append(storms, pattern)
		}
	}
	return Report{
		CountsBySeverity: bySeverity,
		CountsByPattern:  byPattern,
		ActiveStorms:     storms,
		Since:            reportSince,
	}
}

// ClearErrorCounts resets the in-memory counters and storm windows. The
// persisted audit trail is untouched.
func (h *Handler) ClearErrorCounts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bySeverity = make(map[models.Severity]int)
	h.byPattern = make(map[string]int)
	h.recent = make(map[string][]time.Time)
	h.storming = make(map[string]bool)
	h.events = nil
	h.since = time.Now()
}

var digits = regexp.MustCompile(`\d+`)

// PatternKey reduces an error to a storm-counting fingerprint: the error
// kind plus the first words of the message with volatile digits stripped, so
// "timeout after 31s" and "timeout after 33s" count as one pattern.
func PatternKey(err error) string {
	kind := classifyKind(err)

	msg := strings.ToLower(err.Error())
	msg = digits.ReplaceAllString(msg, "#")
	words := strings.Fields(msg)
	if len(words) > 4 {
		words = words[:4]
	}
	return kind + ":" + strings.Join(words, "_")
}

func classifyKind(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid"):
		return "malformed"
	case strings.Contains(msg, "unreachable") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "unreachable"
	case strings.Contains(msg, "budget"):
		return "budget"
	case strings.Contains(msg, "completion") || strings.Contains(msg, "provider") || strings.Contains(msg, "openai"):
		return "provider"
	default:
		return "internal"
	}
}
