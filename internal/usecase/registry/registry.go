// Package registry holds the in-memory catalog of agent descriptors.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"taskgrid/internal/domain"
)

// Registry indexes agent descriptors by ID, domain, and capability.
// The capability index is built at registration time so ByCapability stays a
// map lookup instead of a per-call scan. Descriptors are immutable once
// registered.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]domain.AgentDescriptor
	byDomain     map[domain.Domain][]string
	byCapability map[domain.Capability][]string
	logger       *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		agents:       make(map[string]domain.AgentDescriptor),
		byDomain:     make(map[domain.Domain][]string),
		byCapability: make(map[domain.Capability][]string),
		logger:       logger,
	}
}

// Register adds a descriptor. Returns ErrDuplicate if the ID is taken.
func (r *Registry) Register(desc domain.AgentDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[desc.ID]; exists {
		return domain.ErrDuplicate
	}
	r.agents[desc.ID] = desc
	r.byDomain[desc.Domain] = append(r.byDomain[desc.Domain], desc.ID)
	for _, c := range desc.Capabilities {
		r.byCapability[c] = append(r.byCapability[c], desc.ID)
	}

	r.logger.Debug("agent registered",
		"agent_id", desc.ID,
		"domain", string(desc.Domain),
		"capabilities", len(desc.Capabilities),
	)
	return nil
}

// Get returns the descriptor for the given ID, or ErrNotFound.
func (r *Registry) Get(agentID string) (domain.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.agents[agentID]
	if !ok {
		return domain.AgentDescriptor{}, domain.ErrNotFound
	}
	return desc, nil
}

// ByDomain returns a snapshot of all descriptors in a domain, sorted by ID.
func (r *Registry) ByDomain(d domain.Domain) []domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byDomain[d])
}

// ByCapability returns a snapshot of all descriptors with the capability,
// sorted by ID.
func (r *Registry) ByCapability(c domain.Capability) []domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byCapability[c])
}

// Eligible returns descriptors in domain d that list capability c, sorted by
// ID. This is the lookup the seeder uses to pick batch assignees.
func (r *Registry) Eligible(d domain.Domain, c domain.Capability) []domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.AgentDescriptor
	for _, id := range r.byCapability[c] {
		desc := r.agents[id]
		if desc.Domain == d {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// collect resolves IDs to descriptors and sorts by ID. Caller holds the lock.
func (r *Registry) collect(ids []string) []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.agents[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
