// Package agents defines the agent contract and the capability registry the
// router dispatches through.
package agents

import (
	"context"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

// Agent is a message-processing worker. Implementations must be safe for
// concurrent ProcessMessage calls; the router dispatches from multiple
// workers without serializing per agent.
type Agent interface {
	// ID returns the stable registry identifier.
	ID() string

	// Capabilities returns the categories this agent can serve.
	Capabilities() []models.Category

	// ProcessMessage handles one dispatched message under ctx's deadline.
	ProcessMessage(ctx context.Context, msg *models.UserMessage, classification *models.MessageClassification) (*models.ProcessedMessage, error)

	// Ping is a cheap liveness probe used by the health monitor.
	Ping(ctx context.Context) error
}

// Restartable is implemented by agents that support recovery in place.
// The health monitor restarts these instead of replacing them.
type Restartable interface {
	Restart(ctx context.Context) error
}
