package models

import (
	"fmt"
	"time"
)

// MessageStatus tracks a message through the pipeline. A message is terminal
// once it reaches StatusProcessed or StatusFailed.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusProcessed  MessageStatus = "processed"
	StatusFailed     MessageStatus = "failed"
)

// IsTerminal returns true if no further transitions are allowed.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Urgency levels assigned by classification. Ordering matters: Priority()
// maps these onto queue priorities where a higher number wins.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Priority maps urgency onto a numeric queue priority (higher = dispatched first).
func (u Urgency) Priority() int {
	switch u {
	case UrgencyCritical:
		return 40
	case UrgencyHigh:
		return 30
	case UrgencyMedium:
		return 20
	case UrgencyLow:
		return 10
	default:
		return 10
	}
}

// Valid reports whether u is one of the four known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Category buckets a message by the kind of help it needs.
type Category string

const (
	CategoryTechnical    Category = "technical"
	CategoryCoordination Category = "coordination"
	CategoryPlanning     Category = "planning"
	CategoryHelp         Category = "help"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryCoordination, CategoryPlanning, CategoryHelp:
		return true
	}
	return false
}

// MessageContext carries the dashboard context a message was sent from.
// Validated at the ingress boundary; downstream code can rely on the fields
// being well-formed.
type MessageContext struct {
	ViewID      string `json:"view_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	HackathonID string `json:"hackathon_id,omitempty"`
}

// UserMessage is an inbound message from a participant. Created on ingress;
// only the router (or the agent it dispatched to) mutates Status afterwards.
type UserMessage struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Content   string         `json:"content"`
	Context   MessageContext `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
	Status    MessageStatus  `json:"status"`
}

// Validate checks ingress invariants before a message enters the pipeline.
func (m *UserMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if m.UserID == "" {
		return fmt.Errorf("message %s: user_id cannot be empty", m.ID)
	}
	if m.Content == "" {
		return fmt.Errorf("message %s: content cannot be empty", m.ID)
	}
	return nil
}

// MessageClassification is the structured routing decision for a message.
// Immutable once produced; cached by the classifier.
type MessageClassification struct {
	Urgency    Urgency  `json:"urgency"`
	Category   Category `json:"category"`
	RouteTo    []string `json:"route_to"`
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
}

// Validate enforces the closed variant set and confidence range on a
// provider-produced classification.
func (c *MessageClassification) Validate() error {
	if !c.Urgency.Valid() {
		return fmt.Errorf("invalid urgency %q", c.Urgency)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("invalid category %q", c.Category)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", c.Confidence)
	}
	if len(c.RouteTo) == 0 {
		return fmt.Errorf("route_to cannot be empty")
	}
	return nil
}

// ProcessedMessage is the uniform result every agent returns.
type ProcessedMessage struct {
	MessageID       string    `json:"message_id"`
	Intent          string    `json:"intent"`
	Entities        []string  `json:"entities"`
	Urgency         Urgency   `json:"urgency"`
	SuggestedAction string    `json:"suggested_action"`
	AgentID         string    `json:"agent_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// AgentStatus is the lifecycle state of a registered agent. The agent
// manager is the sole writer; monitors only read it.
type AgentStatus string

const (
	AgentInitialized AgentStatus = "initialized"
	AgentDegraded    AgentStatus = "degraded"
	AgentFailed      AgentStatus = "failed"
)

// HealthMetric is one liveness sample for an agent. Append-only; pruned by age.
type HealthMetric struct {
	AgentID   string        `json:"agent_id" db:"agent_id"`
	Timestamp time.Time     `json:"timestamp" db:"created_at"`
	Alive     bool          `json:"alive" db:"alive"`
	Latency   time.Duration `json:"latency" db:"latency_ms"`
	ErrorRate float64       `json:"error_rate" db:"error_rate"`
}

// TokenUsageRecord is one append-only ledger row of provider token spend.
type TokenUsageRecord struct {
	ID             string    `json:"id" db:"id"`
	AgentID        string    `json:"agent_id" db:"agent_id"`
	Model          string    `json:"model" db:"model"`
	Tokens         int       `json:"tokens" db:"tokens"`
	CostUSD        float64   `json:"cost_usd" db:"cost_usd"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty" db:"-"`
}
