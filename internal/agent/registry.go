// Package agent implements the agent registry: an idempotent-upsert
// id->AgentInfo map with heartbeat tracking and a background offline sweep.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// DefaultHeartbeatTimeout is the age at which a silent agent is swept
// Offline if no explicit timeout is configured.
const DefaultHeartbeatTimeout = 30 * time.Second

// Registry owns the id->AgentInfo map. Reads never block writers for long:
// every accessor takes the lock for a short critical section and returns a
// copy, never a pointer into the map.
type Registry struct {
	mu               sync.RWMutex
	agents           map[string]model.AgentInfo
	order            []string
	heartbeatTimeout time.Duration
	log              *logging.Logger
}

// New creates a Registry. A zero or negative timeout falls back to
// DefaultHeartbeatTimeout.
func New(log *logging.Logger, heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		agents:           make(map[string]model.AgentInfo),
		heartbeatTimeout: heartbeatTimeout,
		log:              log,
	}
}

// Register is an idempotent upsert: a known id overwrites hostname,
// capabilities and advertised response time but keeps the record's
// existing Status unless the caller is registering it fresh, in which case
// the agent transitions to Connecting until its first heartbeat.
func (r *Registry) Register(id, hostname string, capabilities []string, advertisedResponseMS int64) model.AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.agents[id]
	status := model.AgentConnecting
	lastHeartbeat := time.Now()
	if known {
		status = existing.Status
		lastHeartbeat = existing.LastHeartbeat
	} else {
		r.order = append(r.order, id)
	}

	info := model.AgentInfo{
		ID:                   id,
		Hostname:             hostname,
		Status:               status,
		LastHeartbeat:        lastHeartbeat,
		Capabilities:         append([]string{}, capabilities...),
		AdvertisedResponseMS: advertisedResponseMS,
	}
	r.agents[id] = info
	if r.log != nil {
		r.log.WithFields(map[string]interface{}{"agent_id": id, "known": known}).Info("agent registered")
	}
	return info
}

// Heartbeat updates last-seen and transitions Offline/Connecting -> Online.
// Returns false if the agent id is unknown.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[id]
	if !ok {
		return false
	}
	info.LastHeartbeat = time.Now()
	if info.Status == model.AgentOffline || info.Status == model.AgentConnecting {
		info.Status = model.AgentOnline
	}
	r.agents[id] = info
	return true
}

// MarkError transitions an agent to Error status, e.g. after a failed RPC
// the distributor/coordinator decided is fatal for this agent.
func (r *Registry) MarkError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.agents[id]; ok {
		info.Status = model.AgentError
		r.agents[id] = info
	}
}

// Get returns a copy of the agent's info.
func (r *Registry) Get(id string) (model.AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[id]
	return info, ok
}

// Remove deletes an agent from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	for i, name := range r.order {
		if name == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns a snapshot of every agent, in registration order.
func (r *Registry) All() []model.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Online returns a snapshot of agents currently Online, sorted by id for
// deterministic distribution ordering.
func (r *Registry) Online() []model.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		if info.IsHealthy() {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SweepOffline marks every agent whose last heartbeat exceeds the
// configured timeout as Offline. Returns the ids transitioned.
func (r *Registry) SweepOffline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []string
	now := time.Now()
	for id, info := range r.agents {
		if info.Status == model.AgentOffline {
			continue
		}
		if now.Sub(info.LastHeartbeat) > r.heartbeatTimeout {
			info.Status = model.AgentOffline
			r.agents[id] = info
			swept = append(swept, id)
		}
	}
	if len(swept) > 0 && r.log != nil {
		r.log.WithFields(map[string]interface{}{"agents": swept}).Warn("agents swept offline")
	}
	return swept
}

// RunSweepLoop runs SweepOffline on interval until ctx is cancelled. It is
// meant to be launched as a single background goroutine per Registry.
func (r *Registry) RunSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.heartbeatTimeout / 2
		if interval <= 0 {
			interval = DefaultHeartbeatTimeout / 2
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOffline()
		}
	}
}
