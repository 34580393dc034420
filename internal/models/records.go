package models

import "time"

// Severity tiers for the error-handling protocol.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorContext carries where a failure happened. All fields optional.
type ErrorContext struct {
	AgentID   string            `json:"agent_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorRecord is a persisted failure, reduced to a pattern key for storm
// counting. Append-only audit trail; in-memory counters are separate and
// resettable.
type ErrorRecord struct {
	ID        string       `json:"id" db:"id"`
	Message   string       `json:"message" db:"message"`
	Severity  Severity     `json:"severity" db:"severity"`
	Pattern   string       `json:"pattern" db:"pattern"`
	Context   ErrorContext `json:"context" db:"-"`
	AgentID   string       `json:"-" db:"agent_id"`
	Operation string       `json:"-" db:"operation"`
	Timestamp time.Time    `json:"timestamp" db:"created_at"`
}

// Alert is a persisted advisory signal (budget crossings, health breaches,
// error storms). Alerts never halt processing.
type Alert struct {
	ID        string    `json:"id" db:"id"`
	Source    string    `json:"source" db:"source"`
	Severity  Severity  `json:"severity" db:"severity"`
	Message   string    `json:"message" db:"message"`
	AgentID   string    `json:"agent_id,omitempty" db:"agent_id"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// UsageSnapshot is a periodic aggregate persisted by the token manager.
type UsageSnapshot struct {
	ID          string    `json:"id" db:"id"`
	TotalTokens int       `json:"total_tokens" db:"total_tokens"`
	TotalCost   float64   `json:"total_cost_usd" db:"total_cost_usd"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	WindowEnd   time.Time `json:"window_end" db:"window_end"`
}
