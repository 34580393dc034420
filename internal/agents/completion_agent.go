package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/llm"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

// failureThreshold is the consecutive-failure count after which Ping starts
// reporting the agent as down. Restart or a successful call resets it.
const failureThreshold = 3

// UsageFunc receives the token spend of each completed provider call.
// messageID feeds the billing idempotency key.
type UsageFunc func(agentID, model string, tokens int, messageID string)

// CompletionAgent is a provider-backed worker. Each instance carries a
// persona prompt and a capability set; the registry routes by the latter.
type CompletionAgent struct {
	id           string
	capabilities []models.Category
	persona      string
	provider     llm.Provider
	usage        UsageFunc
	logger       *zap.Logger

	consecutiveFailures atomic.Int32
}

// NewCompletionAgent creates a worker. usage may be nil.
func NewCompletionAgent(id, persona string, capabilities []models.Category, provider llm.Provider, usage UsageFunc, logger *zap.Logger) *CompletionAgent {
	return &CompletionAgent{
		id:           id,
		capabilities: capabilities,
		persona:      persona,
		provider:     provider,
		usage:        usage,
		logger:       logger,
	}
}

func (a *CompletionAgent) ID() string { return a.id }

func (a *CompletionAgent) Capabilities() []models.Category {
	out := make([]models.Category, len(a.capabilities))
	copy(out, a.capabilities)
	return out
}

// agentReply is the JSON shape every persona is instructed to produce.
type agentReply struct {
	Intent          string   `json:"intent"`
	Entities        []string `json:"entities"`
	SuggestedAction string   `json:"suggested_action"`
}

// ProcessMessage runs one provider completion for the message and shapes the
// reply into the uniform result. The billing record fires only on a
// completed call, so an abandoned dispatch is never double-billed.
func (a *CompletionAgent) ProcessMessage(ctx context.Context, msg *models.UserMessage, classification *models.MessageClassification) (*models.ProcessedMessage, error) {
	prompt := fmt.Sprintf("User %s says: %s\nClassified action: %s\nReply with JSON: {\"intent\":\"...\",\"entities\":[...],\"suggested_action\":\"...\"}",
		msg.UserName, msg.Content, classification.Action)

	resp, err := a.provider.Complete(ctx, &llm.Request{
		System: a.persona,
		Prompt: prompt,
	})
	if err != nil {
		a.consecutiveFailures.Add(1)
		return nil, fmt.Errorf("agent %s completion: %w", a.id, err)
	}
	a.consecutiveFailures.Store(0)

	if a.usage != nil && resp.TotalTokens > 0 {
		a.usage(a.id, resp.Model, resp.TotalTokens, msg.ID)
	}

	reply := parseReply(resp.Content)
	return &models.ProcessedMessage{
		MessageID:       msg.ID,
		Intent:          reply.Intent,
		Entities:        reply.Entities,
		Urgency:         classification.Urgency,
		SuggestedAction: reply.SuggestedAction,
		AgentID:         a.id,
		ProcessedAt:     time.Now(),
	}, nil
}

// parseReply decodes the persona's JSON, falling back to treating the whole
// reply as the suggested action when the provider ignores the format.
func parseReply(content string) agentReply {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		trimmed = trimmed[idx:]
	}
	if idx := strings.LastIndex(trimmed, "}"); idx >= 0 {
		trimmed = trimmed[:idx+1]
	}

	var reply agentReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil || reply.SuggestedAction == "" && reply.Intent == "" {
		return agentReply{SuggestedAction: strings.TrimSpace(content)}
	}
	return reply
}

// Ping reports liveness from the recent call record without spending a
// provider round trip.
func (a *CompletionAgent) Ping(_ context.Context) error {
	if n := a.consecutiveFailures.Load(); n >= failureThreshold {
		return fmt.Errorf("agent %s: %d consecutive provider failures", a.id, n)
	}
	return nil
}

// Restart clears the failure record so the agent re-enters rotation.
func (a *CompletionAgent) Restart(_ context.Context) error {
	a.consecutiveFailures.Store(0)
	a.logger.Info("Agent restarted", zap.String("agent_id", a.id))
	return nil
}
