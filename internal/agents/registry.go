package agents

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

// Registry is the concurrency-safe agent directory. IDs are unique; lookups
// by capability return agents in stable ID order so routing is deterministic.
type Registry struct {
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		agents: make(map[string]Agent),
	}
}

// Register adds an agent. A duplicate ID is a wiring bug and is rejected.
func (r *Registry) Register(agent Agent) error {
	id := agent.ID()
	if id == "" {
		return fmt.Errorf("agent id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("agent %s already registered", id)
	}
	r.agents[id] = agent
	r.logger.Info("Agent registered", zap.String("agent_id", id))
	return nil
}

// Deregister removes an agent by ID. Unknown IDs are a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		delete(r.agents, id)
		r.logger.Info("Agent deregistered", zap.String("agent_id", id))
	}
}

// Get returns the agent with the given ID.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	return agent, ok
}

// List returns all registered agents in ID order.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ByCapability returns agents serving the given category, in ID order.
func (r *Registry) ByCapability(category models.Category) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for _, agent := range r.agents {
		for _, c := range agent.Capabilities() {
			if c == category {
				out = append(out, agent)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
